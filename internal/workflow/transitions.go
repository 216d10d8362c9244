package workflow

import "github.com/joescharf/bugflow/internal/models"

// transitions is the status graph. Every forward stage may also be marked
// Duplicate; Closed and Duplicate have no outgoing edges.
var transitions = map[models.Status][]models.Status{
	models.StatusOpen:            {models.StatusAssigned, models.StatusDuplicate},
	models.StatusAssigned:        {models.StatusFixInProgress, models.StatusDuplicate},
	models.StatusFixInProgress:   {models.StatusFixed, models.StatusDuplicate},
	models.StatusFixed:           {models.StatusTesterAssigned, models.StatusDuplicate},
	models.StatusTesterAssigned:  {models.StatusTestingProgress, models.StatusDuplicate},
	models.StatusTestingProgress: {models.StatusTestedVerified, models.StatusDuplicate},
	models.StatusTestedVerified:  {models.StatusReadyForClosure, models.StatusClosed, models.StatusDuplicate},
	models.StatusReadyForClosure: {models.StatusClosed, models.StatusDuplicate},
	models.StatusClosed:          nil,
	models.StatusDuplicate:       nil,
}

// Successors returns the statuses reachable from s in one step.
func Successors(s models.Status) []models.Status {
	next := transitions[s]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// closureBlocked reports whether the Critical-priority closure guard refuses
// a move from Tested & Verified straight to Closed.
func closureBlocked(b *models.Bug, to models.Status) bool {
	return to == models.StatusClosed &&
		b.Priority == models.PriorityCritical &&
		b.Status == models.StatusTestedVerified
}
