package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
)

var (
	t0       = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	admin    = models.ActingUser{Email: "admin@example.com", Role: models.RoleAdmin}
	lead     = models.ActingUser{Email: "lead@example.com", Role: models.RoleTeamLead}
	dev      = models.ActingUser{Email: "dev@example.com", Role: models.RoleDeveloper}
	tester   = models.ActingUser{Email: "qa@example.com", Role: models.RoleTester}
	reporter = models.ActingUser{Email: "rita@example.com", Role: models.RoleReporter}
)

type harness struct {
	engine *Engine
	store  *store.SQLiteStore
	clock  *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bugflow.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	c := clock.NewFake(t0)
	return &harness{engine: NewEngine(s, c, policy.Default()), store: s, clock: c}
}

func (h *harness) report(t *testing.T, p models.Priority) *models.Bug {
	t.Helper()
	b, err := h.engine.Report(context.Background(), NewBug{
		Title:       "Checkout button unresponsive",
		Application: "storefront",
		Priority:    p,
	}, reporter)
	require.NoError(t, err)
	return b
}

// walk drives a bug along the forward track up to and including target.
func (h *harness) walk(t *testing.T, b *models.Bug, target models.Status) *models.Bug {
	t.Helper()
	ctx := context.Background()
	for b.Status != target {
		next := Successors(b.Status)
		require.NotEmpty(t, next, "no path from %s to %s", b.Status, target)
		var err error
		b, err = h.engine.RequestTransition(ctx, b.ID, next[0], admin)
		require.NoError(t, err)
	}
	return b
}

func (h *harness) closed(t *testing.T) *models.Bug {
	t.Helper()
	b := h.report(t, models.PriorityHigh)
	return h.walk(t, b, models.StatusClosed)
}

func TestReport(t *testing.T) {
	h := newHarness(t)
	b := h.report(t, models.PriorityLow)

	assert.Equal(t, "BUG-1", b.ID)
	assert.Equal(t, models.StatusOpen, b.Status)
	assert.Equal(t, models.TeamUnassigned, b.AssignedTeam)
	assert.Equal(t, reporter.Email, b.ReportedBy)
	assert.Equal(t, t0, b.CreatedAt)
	require.NotNil(t, b.StatusLastUpdated)
	assert.Equal(t, t0, *b.StatusLastUpdated)
}

func TestReport_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Report(ctx, NewBug{Title: "  ", Priority: models.PriorityLow}, reporter)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.Report(ctx, NewBug{Title: "x", Priority: "Urgent"}, reporter)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestTransition_FollowsGraph(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityMedium)

	h.clock.Advance(time.Hour)
	b, err := h.engine.RequestTransition(ctx, b.ID, models.StatusAssigned, lead)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, b.Status)
	assert.Equal(t, t0.Add(time.Hour), *b.StatusLastUpdated)

	events, err := h.engine.History(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventStatusChange, events[0].Kind)
	assert.Equal(t, models.StatusOpen, events[0].FromStatus)
	assert.Equal(t, models.StatusAssigned, events[0].ToStatus)
	assert.Equal(t, lead.Email, events[0].Actor)
}

func TestRequestTransition_Invalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityMedium)

	// Skipping a stage is refused and nothing is written.
	h.clock.Advance(time.Hour)
	_, err := h.engine.RequestTransition(ctx, b.ID, models.StatusFixed, admin)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := h.engine.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.True(t, got.StatusLastUpdated.Equal(t0))

	events, err := h.engine.History(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Staying put is not an edge either.
	_, err = h.engine.RequestTransition(ctx, b.ID, models.StatusOpen, admin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRequestTransition_TerminalStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	closed := h.closed(t)
	for _, s := range models.Statuses {
		_, err := h.engine.RequestTransition(ctx, closed.ID, s, admin)
		assert.ErrorIs(t, err, ErrInvalidTransition, "Closed -> %s", s)
	}

	dup := h.report(t, models.PriorityLow)
	dup, err := h.engine.RequestTransition(ctx, dup.ID, models.StatusDuplicate, admin)
	require.NoError(t, err)
	for _, s := range models.Statuses {
		_, err := h.engine.RequestTransition(ctx, dup.ID, s, admin)
		assert.ErrorIs(t, err, ErrInvalidTransition, "Duplicate -> %s", s)
	}
}

func TestRequestTransition_DuplicateFromAnyForwardStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, s := range models.Statuses {
		if s.Terminal() {
			continue
		}
		b := h.walk(t, h.report(t, models.PriorityLow), s)
		b, err := h.engine.RequestTransition(ctx, b.ID, models.StatusDuplicate, admin)
		require.NoError(t, err, "from %s", s)
		assert.Equal(t, models.StatusDuplicate, b.Status)
	}
}

func TestRequestTransition_UnknownTarget(t *testing.T) {
	h := newHarness(t)
	b := h.report(t, models.PriorityLow)
	_, err := h.engine.RequestTransition(context.Background(), b.ID, "Shipped", admin)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestTransition_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RequestTransition(context.Background(), "BUG-42", models.StatusAssigned, admin)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestClosureGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	crit := h.walk(t, h.report(t, models.PriorityCritical), models.StatusTestedVerified)
	_, err := h.engine.RequestTransition(ctx, crit.ID, models.StatusClosed, admin)
	assert.ErrorIs(t, err, ErrPolicyViolation)

	// Through Ready For Closure it is fine.
	crit, err = h.engine.RequestTransition(ctx, crit.ID, models.StatusReadyForClosure, admin)
	require.NoError(t, err)
	crit, err = h.engine.RequestTransition(ctx, crit.ID, models.StatusClosed, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, crit.Status)

	// Non-critical bugs may close directly.
	high := h.walk(t, h.report(t, models.PriorityHigh), models.StatusTestedVerified)
	high, err = h.engine.RequestTransition(ctx, high.ID, models.StatusClosed, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, high.Status)
}

func TestStatusLastUpdated_NeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityLow)

	h.clock.Set(t0.Add(-time.Hour))
	b, err := h.engine.RequestTransition(ctx, b.ID, models.StatusAssigned, admin)
	require.NoError(t, err)
	assert.True(t, b.StatusLastUpdated.Equal(t0))
}

func TestAssignAndTeam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityLow)

	b, err := h.engine.Assign(ctx, b.ID, models.RoleDeveloper, "dev@example.com", lead)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", b.AssignedTo.Developer)
	assert.Equal(t, models.StatusOpen, b.Status)

	b, err = h.engine.AssignTeam(ctx, b.ID, "payments", lead)
	require.NoError(t, err)
	assert.Equal(t, "payments", b.AssignedTeam)

	_, err = h.engine.Assign(ctx, b.ID, models.RoleAdmin, "x@example.com", lead)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.Assign(ctx, b.ID, models.RoleTester, " ", lead)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.AssignTeam(ctx, b.ID, "", lead)
	assert.ErrorIs(t, err, ErrValidation)

	events, err := h.engine.History(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventAssignment, events[0].Kind)
	assert.Equal(t, models.EventTeamChange, events[1].Kind)
	assert.Equal(t, "team: unassigned -> payments", events[1].Detail)
}

func TestLogHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityLow)

	b, err := h.engine.LogHours(ctx, b.ID, models.RoleDeveloper, 2.5, dev)
	require.NoError(t, err)
	require.NotNil(t, b.DeveloperResolutionHours)
	assert.Equal(t, 2.5, *b.DeveloperResolutionHours)
	assert.Nil(t, b.TesterValidationHours)

	b, err = h.engine.LogHours(ctx, b.ID, models.RoleTester, 0, tester)
	require.NoError(t, err)
	require.NotNil(t, b.TesterValidationHours)
	assert.Equal(t, 0.0, *b.TesterValidationHours)

	_, err = h.engine.LogHours(ctx, b.ID, models.RoleDeveloper, -1, dev)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []Kind{
		KindNotFound, KindValidation, KindConflict, KindInvalidTransition,
		KindPolicyViolation, KindInvalidState, KindAlreadyResolved, KindForbidden,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		msg := k.Message()
		assert.False(t, seen[msg], "duplicate message for %s", k)
		seen[msg] = true
	}

	err := newErr(KindConflict, "op", "BUG-1", "boom")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "op BUG-1: boom", err.Error())
}
