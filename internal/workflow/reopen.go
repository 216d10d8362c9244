package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/joescharf/bugflow/internal/models"
)

// RequestReopen files a pending request to reopen a closed bug.
func (e *Engine) RequestReopen(ctx context.Context, bugID string, requester models.ActingUser, reason string) (*models.Bug, error) {
	const op = "request reopen"
	email := strings.TrimSpace(requester.Email)
	if email == "" {
		return nil, newErr(KindValidation, op, bugID, "requester is required")
	}
	pol := e.Policy().Reopen

	// A bug that is not Closed fails InvalidState whatever the request says.
	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		if b.Status != models.StatusClosed {
			return nil, newErr(KindInvalidState, op, b.ID, "only closed bugs can be reopened (status is %q)", b.Status)
		}
		if !requester.Role.WorkRole() {
			return nil, newErr(KindValidation, op, b.ID, "requester role must be developer or tester, got %q", requester.Role)
		}
		text, err := normalizeReason(op, b.ID, reason)
		if err != nil {
			return nil, err
		}
		if pol.Single && b.Reopened {
			return nil, newErr(KindInvalidState, op, b.ID, "bug has already been reopened once")
		}
		if pol.Window > 0 && b.StatusLastUpdated != nil && now.Sub(*b.StatusLastUpdated) > pol.Window {
			return nil, newErr(KindInvalidState, op, b.ID, "bug was closed more than %s ago", pol.Window)
		}
		for _, r := range b.ReopenRequests {
			if r.Status == models.RequestPending && strings.EqualFold(r.RequestedBy, email) {
				return nil, newErr(KindConflict, op, b.ID, "%s already has a pending reopen request", email)
			}
		}

		b.ReopenRequests = append(b.ReopenRequests, &models.Request{
			Kind:        models.RequestKindReopen,
			RequestedBy: email,
			Role:        requester.Role,
			Reason:      text,
			Status:      models.RequestPending,
			RequestedAt: now,
		})
		return []*models.BugEvent{{
			Kind:      models.EventReopenRequested,
			Actor:     email,
			ActorRole: requester.Role,
			Detail:    text,
			CreatedAt: now,
		}}, nil
	})
}

// ResolveReopen approves or rejects a pending reopen request. Approval sends
// the bug back to Assigned when it still has a developer, otherwise to Open.
func (e *Engine) ResolveReopen(ctx context.Context, bugID, requestID string, action models.RequestStatus, actor models.ActingUser) (*models.Bug, error) {
	const op = "resolve reopen"
	if !action.Resolved() {
		return nil, newErr(KindValidation, op, bugID, "action must be %s or %s, got %q", models.RequestApproved, models.RequestRejected, action)
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, newErr(KindValidation, op, bugID, "request id is required")
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		r := findRequest(b.ReopenRequests, requestID)
		if r == nil {
			return nil, newErr(KindNotFound, op, b.ID, "reopen request %s not found", requestID)
		}
		if r.Status.Resolved() {
			return nil, newErr(KindAlreadyResolved, op, b.ID, "request %s was already %s", r.ID, strings.ToLower(string(r.Status)))
		}

		event := &models.BugEvent{
			Kind:      models.EventReopenDecided,
			Actor:     actor.Email,
			ActorRole: actor.Role,
			Detail:    string(action),
			CreatedAt: now,
		}

		if action == models.RequestApproved {
			if b.Status != models.StatusClosed {
				return nil, newErr(KindInvalidState, op, b.ID, "bug is no longer closed (status is %q)", b.Status)
			}
			event.FromStatus = b.Status
			b.Status = ReopenTarget(b)
			b.Reopened = true
			stampStatus(b, now)
			event.ToStatus = b.Status
		}
		review(r, action, actor, now)

		return []*models.BugEvent{event}, nil
	})
}

// ReopenTarget is the status a bug re-enters when a reopen is approved.
func ReopenTarget(b *models.Bug) models.Status {
	if b.AssignedTo.Developer != "" {
		return models.StatusAssigned
	}
	return models.StatusOpen
}
