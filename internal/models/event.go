package models

import "time"

// EventKind classifies an audit record.
type EventKind string

const (
	EventStatusChange          EventKind = "status_change"
	EventAssignment            EventKind = "assignment"
	EventTeamChange            EventKind = "team_change"
	EventHoursLogged           EventKind = "hours_logged"
	EventReallocationRequested EventKind = "reallocation_requested"
	EventReallocationDecided   EventKind = "reallocation_decided"
	EventReopenRequested       EventKind = "reopen_requested"
	EventReopenDecided         EventKind = "reopen_decided"
)

// BugEvent is an append-only audit record written alongside each accepted mutation.
type BugEvent struct {
	ID         string    `json:"id"`
	BugID      string    `json:"bugId"`
	Kind       EventKind `json:"kind"`
	FromStatus Status    `json:"fromStatus,omitempty"`
	ToStatus   Status    `json:"toStatus,omitempty"`
	Actor      string    `json:"actor"`
	ActorRole  Role      `json:"actorRole,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
