package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/notify"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 15 * time.Minute

// BugLister is the read side of the store the sweeper needs.
type BugLister interface {
	ListBugs(ctx context.Context, filter store.BugListFilter) ([]*models.Bug, error)
}

// Sweeper periodically evaluates live bugs and pushes a notice for every
// bug with an alert. It never writes to the store.
type Sweeper struct {
	bugs       BugLister
	clock      clock.Clock
	notifier   notify.Notifier
	thresholds func() policy.Thresholds
	interval   time.Duration
}

// NewSweeper builds a sweeper. thresholds is called on every sweep so a
// reloaded policy takes effect without a restart.
func NewSweeper(bugs BugLister, c clock.Clock, n notify.Notifier, thresholds func() policy.Thresholds, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if c == nil {
		c = clock.Real()
	}
	return &Sweeper{bugs: bugs, clock: c, notifier: n, thresholds: thresholds, interval: interval}
}

// Sweep runs one pass and returns how many notices were sent.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	bugs, err := s.bugs.ListBugs(ctx, store.BugListFilter{Active: true})
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	now := s.clock.Now()
	th := s.thresholds()
	sent := 0
	var errs []error
	for _, b := range bugs {
		a := Evaluate(now, b, th)
		if !a.Any() {
			continue
		}
		if err := s.notifier.Notify(ctx, NoticeFor(b, a, now)); err != nil {
			slog.Warn("alert notification failed", "bug", b.ID, "error", err)
			errs = append(errs, fmt.Errorf("notify %s: %w", b.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			slog.Warn("alert sweep", "error", err, "sent", n)
		} else {
			slog.Debug("alert sweep", "sent", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// NoticeFor builds the notice for an alerting bug.
func NoticeFor(b *models.Bug, a Alerts, now time.Time) notify.Notice {
	n := notify.Notice{
		BugID:    b.ID,
		Title:    b.Title,
		Priority: string(b.Priority),
		Status:   string(b.Status),
		Team:     b.AssignedTeam,
		At:       now,
	}
	if a.Unassigned > None {
		n.Unassigned = a.Unassigned.String()
	}
	if a.Stale > None {
		n.Stale = a.Stale.String()
	}
	if a.CriticalClosure > None {
		n.CriticalClosure = a.CriticalClosure.String()
	}
	return n
}
