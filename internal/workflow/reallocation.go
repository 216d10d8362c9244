package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/bugflow/internal/models"
)

// RequestReallocation files a pending request to hand the developer or
// tester slot of a bug to someone else.
func (e *Engine) RequestReallocation(ctx context.Context, bugID string, role models.Role, requestedBy, reason string) (*models.Bug, error) {
	const op = "request reallocation"
	if !role.WorkRole() {
		return nil, newErr(KindValidation, op, bugID, "role must be developer or tester, got %q", role)
	}
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, newErr(KindValidation, op, bugID, "requester is required")
	}
	reason, err := normalizeReason(op, bugID, reason)
	if err != nil {
		return nil, err
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		for _, r := range b.ReallocationRequests.For(role) {
			if r.Status == models.RequestPending {
				return nil, newErr(KindConflict, op, b.ID, "a %s reallocation request is already pending", role)
			}
		}

		b.ReallocationRequests.Append(&models.Request{
			Kind:        models.RequestKindReallocation,
			RequestedBy: requestedBy,
			Role:        role,
			Reason:      reason,
			Status:      models.RequestPending,
			RequestedAt: now,
		})
		return []*models.BugEvent{{
			Kind:      models.EventReallocationRequested,
			Actor:     requestedBy,
			ActorRole: role,
			Detail:    reason,
			CreatedAt: now,
		}}, nil
	})
}

// ResolveReallocation approves or rejects a pending reallocation request.
// Approval requires the new assignee for the request's role. The bug's
// status is never changed.
func (e *Engine) ResolveReallocation(ctx context.Context, bugID, requestID string, action models.RequestStatus, newAssignee string, actor models.ActingUser) (*models.Bug, error) {
	const op = "resolve reallocation"
	if !action.Resolved() {
		return nil, newErr(KindValidation, op, bugID, "action must be %s or %s, got %q", models.RequestApproved, models.RequestRejected, action)
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, newErr(KindValidation, op, bugID, "request id is required")
	}
	newAssignee = strings.TrimSpace(newAssignee)

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		r := findRequest(reallocations(b), requestID)
		if r == nil {
			return nil, newErr(KindNotFound, op, b.ID, "reallocation request %s not found", requestID)
		}
		if r.Status.Resolved() {
			return nil, newErr(KindAlreadyResolved, op, b.ID, "request %s was already %s", r.ID, strings.ToLower(string(r.Status)))
		}
		if action == models.RequestApproved && newAssignee == "" {
			return nil, newErr(KindValidation, op, b.ID, "approval requires the new %s", r.Role)
		}

		detail := string(action)
		if action == models.RequestApproved {
			detail += ": " + describeChange(string(r.Role), b.AssignedTo.Get(r.Role), newAssignee)
			b.AssignedTo.Set(r.Role, newAssignee)
		}
		review(r, action, actor, now)

		return []*models.BugEvent{{
			Kind:      models.EventReallocationDecided,
			Actor:     actor.Email,
			ActorRole: actor.Role,
			Detail:    detail,
			CreatedAt: now,
		}}, nil
	})
}

func reallocations(b *models.Bug) []*models.Request {
	out := make([]*models.Request, 0, len(b.ReallocationRequests.Developer)+len(b.ReallocationRequests.Tester))
	out = append(out, b.ReallocationRequests.Developer...)
	return append(out, b.ReallocationRequests.Tester...)
}

func findRequest(reqs []*models.Request, id string) *models.Request {
	for _, r := range reqs {
		if strings.EqualFold(r.ID, strings.TrimSpace(id)) {
			return r
		}
	}
	return nil
}

func review(r *models.Request, action models.RequestStatus, actor models.ActingUser, now time.Time) {
	r.Status = action
	r.ReviewedBy = actor.Email
	t := now
	r.ReviewedAt = &t
}

// PendingRequests returns every pending request on b, reallocation first.
func PendingRequests(b *models.Bug) []*models.Request {
	var out []*models.Request
	for _, r := range b.Requests() {
		if r.Status == models.RequestPending {
			out = append(out, r)
		}
	}
	return out
}

// LatestRequest returns the most recently filed request of the given kind
// by requester, for echoing back the ID of a request just created.
func LatestRequest(b *models.Bug, kind models.RequestKind, requester string) (*models.Request, error) {
	reqs := b.ReopenRequests
	if kind == models.RequestKindReallocation {
		reqs = reallocations(b)
	}
	var latest *models.Request
	for _, r := range reqs {
		if r.RequestedBy != requester {
			continue
		}
		if latest == nil || !r.RequestedAt.Before(latest.RequestedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no %s request by %s on %s", kind, requester, b.ID)
	}
	return latest, nil
}
