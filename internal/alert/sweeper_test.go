package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/notify"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
)

type fakeLister struct {
	bugs   []*models.Bug
	filter store.BugListFilter
}

func (f *fakeLister) ListBugs(_ context.Context, filter store.BugListFilter) ([]*models.Bug, error) {
	f.filter = filter
	return f.bugs, nil
}

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
	fail    bool
}

func (r *recorder) Notify(_ context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("unreachable")
	}
	r.notices = append(r.notices, n)
	return nil
}

func thresholds() policy.Thresholds { return policy.Default().Thresholds }

func TestSweep_NotifiesOnlyAlertingBugs(t *testing.T) {
	quiet := bugAt(10*time.Minute, dur(time.Hour), models.TeamUnassigned, models.StatusOpen)
	quiet.ID = "BUG-1"
	loud := bugAt(3*time.Hour, dur(25*time.Hour), models.TeamUnassigned, models.StatusOpen)
	loud.ID = "BUG-2"
	loud.Priority = models.PriorityHigh
	stale := bugAt(48*time.Hour, dur(8*time.Hour), "web", models.StatusAssigned)
	stale.ID = "BUG-3"

	lister := &fakeLister{bugs: []*models.Bug{quiet, loud, stale}}
	rec := &recorder{}
	s := NewSweeper(lister, clock.NewFake(now), rec, thresholds, time.Minute)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, lister.filter.Active)

	require.Len(t, rec.notices, 2)
	assert.Equal(t, "BUG-2", rec.notices[0].BugID)
	assert.Equal(t, "HIGH", rec.notices[0].Unassigned)
	assert.Equal(t, "HIGH", rec.notices[0].Stale)
	assert.Equal(t, "High", rec.notices[0].Priority)
	assert.Equal(t, "BUG-3", rec.notices[1].BugID)
	assert.Empty(t, rec.notices[1].Unassigned)
	assert.Equal(t, "LOW", rec.notices[1].Stale)
}

func TestSweep_CriticalAwaitingClosure(t *testing.T) {
	waiting := bugAt(48*time.Hour, dur(3*time.Hour), "web", models.StatusReadyForClosure)
	waiting.ID = "BUG-7"
	waiting.Priority = models.PriorityCritical
	recent := bugAt(48*time.Hour, dur(time.Hour), "web", models.StatusReadyForClosure)
	recent.ID = "BUG-8"
	recent.Priority = models.PriorityCritical

	rec := &recorder{}
	s := NewSweeper(&fakeLister{bugs: []*models.Bug{waiting, recent}}, clock.NewFake(now), rec, thresholds, 0)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.notices, 1)
	assert.Equal(t, "BUG-7", rec.notices[0].BugID)
	assert.Equal(t, "HIGH", rec.notices[0].CriticalClosure)
	assert.Empty(t, rec.notices[0].Unassigned)
	assert.Empty(t, rec.notices[0].Stale)
}

func TestSweep_ReportsNotifierFailures(t *testing.T) {
	loud := bugAt(3*time.Hour, nil, models.TeamUnassigned, models.StatusOpen)
	s := NewSweeper(&fakeLister{bugs: []*models.Bug{loud}}, clock.NewFake(now), &recorder{fail: true}, thresholds, 0)

	n, err := s.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	loud := bugAt(3*time.Hour, nil, models.TeamUnassigned, models.StatusOpen)
	rec := &recorder{}
	s := NewSweeper(&fakeLister{bugs: []*models.Bug{loud}}, clock.NewFake(now), rec, thresholds, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.notices) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
