// Package workflow implements the bug lifecycle: the status graph, the
// reallocation and reopen approval flows, and the supplementary assignment
// and effort-logging operations. Every mutation runs inside a single
// Store.MutateBug call and records one audit event.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
)

// Engine applies workflow operations to bugs held in a Store.
type Engine struct {
	store  store.Store
	clock  clock.Clock
	policy atomic.Pointer[policy.Policy]
}

// NewEngine returns an engine over s. A nil clock means the real clock and a
// nil policy means policy.Default().
func NewEngine(s store.Store, c clock.Clock, p *policy.Policy) *Engine {
	if c == nil {
		c = clock.Real()
	}
	if p == nil {
		p = policy.Default()
	}
	e := &Engine{store: s, clock: c}
	e.policy.Store(p)
	return e
}

// Policy returns the policy currently in force.
func (e *Engine) Policy() *policy.Policy { return e.policy.Load() }

// SetPolicy swaps the policy; in-flight operations keep the one they loaded.
func (e *Engine) SetPolicy(p *policy.Policy) {
	if p != nil {
		e.policy.Store(p)
	}
}

// Now reads the engine's clock.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Store exposes the underlying store to read-only callers.
func (e *Engine) Store() store.Store { return e.store }

// NewBug carries the reporter-supplied fields of a bug report.
type NewBug struct {
	Title       string
	Description string
	Application string
	Team        string
	Priority    models.Priority
}

// Report creates a bug in Open status.
func (e *Engine) Report(ctx context.Context, in NewBug, actor models.ActingUser) (*models.Bug, error) {
	const op = "report"
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newErr(KindValidation, op, "", "title is required")
	}
	if _, ok := models.ParsePriority(string(in.Priority)); !ok {
		return nil, newErr(KindValidation, op, "", "unknown priority %q", in.Priority)
	}
	team := strings.TrimSpace(in.Team)
	if team == "" {
		team = models.TeamUnassigned
	}

	now := e.clock.Now()
	b := &models.Bug{
		Title:             title,
		Description:       strings.TrimSpace(in.Description),
		Application:       strings.TrimSpace(in.Application),
		AssignedTeam:      team,
		Priority:          in.Priority,
		Status:            models.StatusOpen,
		StatusLastUpdated: &now,
		CreatedAt:         now,
		ReportedBy:        actor.Email,
	}
	if err := e.store.CreateBug(ctx, b); err != nil {
		return nil, fmt.Errorf("report bug: %w", err)
	}
	slog.Debug("bug reported", "bug", b.ID, "priority", b.Priority, "by", actor.Email)
	return b, nil
}

// Get loads a bug.
func (e *Engine) Get(ctx context.Context, bugID string) (*models.Bug, error) {
	b, err := e.store.GetBug(ctx, bugID)
	if err != nil {
		return nil, mapStoreErr("get", bugID, err)
	}
	return b, nil
}

// List returns bugs matching filter.
func (e *Engine) List(ctx context.Context, filter store.BugListFilter) ([]*models.Bug, error) {
	bugs, err := e.store.ListBugs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	return bugs, nil
}

// History returns the audit trail of a bug.
func (e *Engine) History(ctx context.Context, bugID string) ([]*models.BugEvent, error) {
	events, err := e.store.ListEvents(ctx, bugID)
	if err != nil {
		return nil, mapStoreErr("history", bugID, err)
	}
	return events, nil
}

// ToggleFavorite flips the acting user's favorite mark on a bug.
func (e *Engine) ToggleFavorite(ctx context.Context, bugID string, actor models.ActingUser) (bool, error) {
	if strings.TrimSpace(actor.Email) == "" {
		return false, newErr(KindValidation, "favorite", bugID, "acting user is required")
	}
	on, err := e.store.ToggleFavorite(ctx, actor.Email, bugID)
	if err != nil {
		return false, mapStoreErr("favorite", bugID, err)
	}
	return on, nil
}

// Favorites returns the IDs the acting user has favorited.
func (e *Engine) Favorites(ctx context.Context, actor models.ActingUser) ([]string, error) {
	ids, err := e.store.ListFavorites(ctx, actor.Email)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return ids, nil
}

// RequestTransition moves a bug to target if the status graph allows it.
// Role permission is the caller's concern; see MayTransition.
func (e *Engine) RequestTransition(ctx context.Context, bugID string, target models.Status, actor models.ActingUser) (*models.Bug, error) {
	const op = "move"
	if !target.Valid() {
		return nil, newErr(KindValidation, op, bugID, "unknown status %q", target)
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		if !CanTransition(b.Status, target) {
			return nil, newErr(KindInvalidTransition, op, b.ID, "cannot move from %q to %q", b.Status, target)
		}
		if closureBlocked(b, target) {
			return nil, newErr(KindPolicyViolation, op, b.ID, "critical bugs must pass through %q before closing", models.StatusReadyForClosure)
		}

		from := b.Status
		b.Status = target
		stampStatus(b, now)

		slog.Debug("status changed", "bug", b.ID, "from", from, "to", target, "by", actor.Email)
		return []*models.BugEvent{{
			Kind:       models.EventStatusChange,
			FromStatus: from,
			ToStatus:   target,
			Actor:      actor.Email,
			ActorRole:  actor.Role,
			CreatedAt:  now,
		}}, nil
	})
}

// Assign sets the developer or tester of a bug without touching its status.
func (e *Engine) Assign(ctx context.Context, bugID string, role models.Role, email string, actor models.ActingUser) (*models.Bug, error) {
	const op = "assign"
	if !role.WorkRole() {
		return nil, newErr(KindValidation, op, bugID, "role must be developer or tester, got %q", role)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, newErr(KindValidation, op, bugID, "assignee email is required")
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		prev := b.AssignedTo.Get(role)
		b.AssignedTo.Set(role, email)
		return []*models.BugEvent{{
			Kind:      models.EventAssignment,
			Actor:     actor.Email,
			ActorRole: actor.Role,
			Detail:    describeChange(string(role), prev, email),
			CreatedAt: now,
		}}, nil
	})
}

// AssignTeam routes a bug to a team.
func (e *Engine) AssignTeam(ctx context.Context, bugID, team string, actor models.ActingUser) (*models.Bug, error) {
	const op = "team"
	team = strings.TrimSpace(team)
	if team == "" {
		return nil, newErr(KindValidation, op, bugID, "team is required")
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		prev := b.AssignedTeam
		b.AssignedTeam = team
		return []*models.BugEvent{{
			Kind:      models.EventTeamChange,
			Actor:     actor.Email,
			ActorRole: actor.Role,
			Detail:    describeChange("team", prev, team),
			CreatedAt: now,
		}}, nil
	})
}

// LogHours records the effort spent by the developer or tester.
func (e *Engine) LogHours(ctx context.Context, bugID string, role models.Role, hours float64, actor models.ActingUser) (*models.Bug, error) {
	const op = "hours"
	if !role.WorkRole() {
		return nil, newErr(KindValidation, op, bugID, "role must be developer or tester, got %q", role)
	}
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return nil, newErr(KindValidation, op, bugID, "hours must be a non-negative number")
	}

	return e.mutate(ctx, op, bugID, func(b *models.Bug, now time.Time) ([]*models.BugEvent, error) {
		h := hours
		if role == models.RoleDeveloper {
			b.DeveloperResolutionHours = &h
		} else {
			b.TesterValidationHours = &h
		}
		return []*models.BugEvent{{
			Kind:      models.EventHoursLogged,
			Actor:     actor.Email,
			ActorRole: actor.Role,
			Detail:    fmt.Sprintf("%s: %g h", role, h),
			CreatedAt: now,
		}}, nil
	})
}

// mutate reads the clock once per operation and maps store failures onto
// workflow error kinds.
func (e *Engine) mutate(ctx context.Context, op, bugID string, fn func(b *models.Bug, now time.Time) ([]*models.BugEvent, error)) (*models.Bug, error) {
	b, err := e.store.MutateBug(ctx, bugID, func(b *models.Bug) ([]*models.BugEvent, error) {
		return fn(b, e.clock.Now())
	})
	if err != nil {
		return nil, mapStoreErr(op, bugID, err)
	}
	return b, nil
}

func mapStoreErr(op, bugID string, err error) error {
	switch {
	case KindOf(err) != "":
		return err
	case errors.Is(err, store.ErrNotFound):
		return newErr(KindNotFound, op, bugID, "bug not found")
	case errors.Is(err, store.ErrRequestResolved):
		return newErr(KindAlreadyResolved, op, bugID, "request has already been resolved")
	}
	return fmt.Errorf("%s %s: %w", op, bugID, err)
}

// stampStatus sets StatusLastUpdated without ever moving it backwards.
func stampStatus(b *models.Bug, now time.Time) {
	if b.StatusLastUpdated != nil && b.StatusLastUpdated.After(now) {
		now = *b.StatusLastUpdated
	}
	b.StatusLastUpdated = &now
}

func describeChange(field, from, to string) string {
	if from == "" {
		return fmt.Sprintf("%s: %s", field, to)
	}
	return fmt.Sprintf("%s: %s -> %s", field, from, to)
}
