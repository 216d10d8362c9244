// Package alert derives unassigned, staleness and critical closure alerts
// for a bug from the current time. Alerts are never stored; they are recomputed on every read.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
)

// Level is an alert severity tier.
type Level int

const (
	None Level = iota
	Low
	Medium
	High
)

var levelNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH"}

func (l Level) String() string {
	if l < None || l > High {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// MarshalText renders the level as its upper-case name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts any casing of a level name.
func (l *Level) UnmarshalText(b []byte) error {
	v, ok := ParseLevel(string(b))
	if !ok {
		return fmt.Errorf("unknown alert level %q", b)
	}
	*l = v
	return nil
}

// ParseLevel resolves a level name case-insensitively.
func ParseLevel(v string) (Level, bool) {
	for i, name := range levelNames {
		if strings.EqualFold(name, v) {
			return Level(i), true
		}
	}
	return None, false
}

// Alerts holds the level on each axis.
type Alerts struct {
	Unassigned Level `json:"unassigned"`
	Stale      Level `json:"stale"`
	// CriticalClosure is None or High.
	CriticalClosure Level `json:"criticalClosure"`
}

// Any reports whether any axis is above None.
func (a Alerts) Any() bool {
	return a.Max() > None
}

// Max returns the highest level across the axes.
func (a Alerts) Max() Level {
	return max(a.Unassigned, a.Stale, a.CriticalClosure)
}

// Evaluate computes the alerts of b at now. It is pure: same inputs, same result.
func Evaluate(now time.Time, b *models.Bug, th policy.Thresholds) Alerts {
	var a Alerts
	if b.AssignedTeam == models.TeamUnassigned {
		a.Unassigned = tier(now.Sub(b.CreatedAt), th.For(policy.ClassUnassigned))
	}
	if !b.Status.Terminal() && b.StatusLastUpdated != nil {
		a.Stale = tier(now.Sub(*b.StatusLastUpdated), th.For(policy.ClassStale))
	}
	if awaitingCriticalClosure(b) && now.Sub(*b.StatusLastUpdated) > th.CriticalClosure {
		a.CriticalClosure = High
	}
	return a
}

func awaitingCriticalClosure(b *models.Bug) bool {
	return b.Priority == models.PriorityCritical &&
		b.Status == models.StatusReadyForClosure &&
		b.StatusLastUpdated != nil
}

// tier returns the highest tier whose threshold elapsed strictly exceeds.
func tier(elapsed time.Duration, t policy.Tiers) Level {
	switch {
	case elapsed > t.High:
		return High
	case elapsed > t.Medium:
		return Medium
	case elapsed > t.Low:
		return Low
	}
	return None
}
