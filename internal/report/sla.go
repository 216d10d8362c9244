// Package report builds summaries over sets of bugs.
package report

import (
	"sort"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
)

// Breach is one role's logged effort exceeding its budget on a bug.
type Breach struct {
	BugID    string          `json:"bugId"`
	Title    string          `json:"title"`
	Priority models.Priority `json:"priority"`
	Role     models.Role     `json:"role"`
	Assignee string          `json:"assignee,omitempty"`
	Logged   float64         `json:"logged"`
	Allowed  float64         `json:"allowed"`
}

// Over is how many hours past budget the breach is.
func (b Breach) Over() float64 { return b.Logged - b.Allowed }

// SLABreaches lists every bug whose logged developer or tester hours exceed
// the budget for its priority, worst first.
func SLABreaches(bugs []*models.Bug, sla policy.SLA) []Breach {
	var out []Breach
	for _, b := range bugs {
		for _, role := range []models.Role{models.RoleDeveloper, models.RoleTester} {
			logged := b.DeveloperResolutionHours
			if role == models.RoleTester {
				logged = b.TesterValidationHours
			}
			if logged == nil {
				continue
			}
			allowed, ok := sla.Allowed(role, b.Priority)
			if !ok || *logged <= allowed {
				continue
			}
			out = append(out, Breach{
				BugID:    b.ID,
				Title:    b.Title,
				Priority: b.Priority,
				Role:     role,
				Assignee: b.AssignedTo.Get(role),
				Logged:   *logged,
				Allowed:  allowed,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Over() > out[j].Over()
	})
	return out
}
