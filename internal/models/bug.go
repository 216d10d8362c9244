package models

import (
	"strings"
	"time"
)

// Status represents the lifecycle stage of a bug.
type Status string

const (
	StatusOpen            Status = "Open"
	StatusAssigned        Status = "Assigned"
	StatusFixInProgress   Status = "Fix In Progress"
	StatusFixed           Status = "Fixed (Testing Pending)"
	StatusTesterAssigned  Status = "Tester Assigned"
	StatusTestingProgress Status = "Testing In Progress"
	StatusTestedVerified  Status = "Tested & Verified"
	StatusReadyForClosure Status = "Ready For Closure"
	StatusClosed          Status = "Closed"
	StatusDuplicate       Status = "Duplicate"
)

// Statuses lists every status in stage order. Duplicate sits outside the
// forward track and is listed last.
var Statuses = []Status{
	StatusOpen,
	StatusAssigned,
	StatusFixInProgress,
	StatusFixed,
	StatusTesterAssigned,
	StatusTestingProgress,
	StatusTestedVerified,
	StatusReadyForClosure,
	StatusClosed,
	StatusDuplicate,
}

// Ordinal returns the stage number of s along the forward track, or -1 for
// Duplicate and unknown values.
func (s Status) Ordinal() int {
	for i, st := range Statuses {
		if st == s && s != StatusDuplicate {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the forward lifecycle.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusDuplicate
}

// ParseStatus resolves a user-supplied status, accepting the canonical
// label case-insensitively.
func ParseStatus(v string) (Status, bool) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), v) {
			return st, true
		}
	}
	return "", false
}

// Priority represents the urgency assigned to a bug at creation.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Priorities lists priorities from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority resolves a user-supplied priority case-insensitively.
func ParsePriority(v string) (Priority, bool) {
	for _, p := range Priorities {
		if strings.EqualFold(string(p), v) {
			return p, true
		}
	}
	return "", false
}

// TeamUnassigned is the team sentinel for bugs not yet routed to a team.
const TeamUnassigned = "unassigned"

// Assignees holds the developer and tester responsible for a bug.
type Assignees struct {
	Developer string `json:"developer,omitempty"`
	Tester    string `json:"tester,omitempty"`
}

// Get returns the assignee for the given work role.
func (a Assignees) Get(r Role) string {
	if r == RoleTester {
		return a.Tester
	}
	if r == RoleDeveloper {
		return a.Developer
	}
	return ""
}

// Set records the assignee for the given work role.
func (a *Assignees) Set(r Role, email string) {
	switch r {
	case RoleDeveloper:
		a.Developer = email
	case RoleTester:
		a.Tester = email
	}
}

// ReallocationRequests groups reallocation requests by the role being reallocated.
type ReallocationRequests struct {
	Developer []*Request `json:"developer"`
	Tester    []*Request `json:"tester"`
}

// For returns the request list for a work role.
func (r *ReallocationRequests) For(role Role) []*Request {
	if role == RoleTester {
		return r.Tester
	}
	return r.Developer
}

// Append adds a request to the list for its role.
func (r *ReallocationRequests) Append(req *Request) {
	if req.Role == RoleTester {
		r.Tester = append(r.Tester, req)
		return
	}
	r.Developer = append(r.Developer, req)
}

// Bug is the unit of tracked work.
type Bug struct {
	ID                       string               `json:"bugId"`
	Seq                      int64                `json:"-"`
	Title                    string               `json:"title"`
	Description              string               `json:"description,omitempty"`
	Application              string               `json:"application"`
	AssignedTeam             string               `json:"assignedTeam"`
	Priority                 Priority             `json:"priority"`
	Status                   Status               `json:"status"`
	StatusLastUpdated        *time.Time           `json:"statusLastUpdated,omitempty"`
	CreatedAt                time.Time            `json:"createdAt"`
	ReportedBy               string               `json:"reportedBy,omitempty"`
	AssignedTo               Assignees            `json:"assignedTo"`
	DeveloperResolutionHours *float64             `json:"developerResolutionHours,omitempty"`
	TesterValidationHours    *float64             `json:"testerValidationHours,omitempty"`
	ReallocationRequests     ReallocationRequests `json:"reallocationRequests"`
	ReopenRequests           []*Request           `json:"reopenRequests"`
	Reopened                 bool                 `json:"reopened"`
}

// Requests returns every request attached to the bug, reallocation first.
func (b *Bug) Requests() []*Request {
	all := make([]*Request, 0, len(b.ReallocationRequests.Developer)+len(b.ReallocationRequests.Tester)+len(b.ReopenRequests))
	all = append(all, b.ReallocationRequests.Developer...)
	all = append(all, b.ReallocationRequests.Tester...)
	all = append(all, b.ReopenRequests...)
	return all
}
