// Package notify delivers alert notices to people. Delivery is a side
// concern: a failed notice never affects a bug.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notice describes one alerting bug at sweep time.
type Notice struct {
	BugID      string `json:"bugId"`
	Title      string `json:"title"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	Team       string `json:"team"`
	Unassigned string `json:"unassigned,omitempty"`
	Stale      string `json:"stale,omitempty"`
	// CriticalClosure is set when a Critical bug has waited too long in
	// Ready For Closure.
	CriticalClosure string    `json:"criticalClosure,omitempty"`
	At              time.Time `json:"at"`
}

// Notifier sends a notice somewhere.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier on l, or slog.Default() when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{Logger: l}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) error {
	attrs := []any{"bug", n.BugID, "priority", n.Priority, "status", n.Status, "team", n.Team}
	if n.Unassigned != "" {
		attrs = append(attrs, "unassigned", n.Unassigned)
	}
	if n.Stale != "" {
		attrs = append(attrs, "stale", n.Stale)
	}
	if n.CriticalClosure != "" {
		attrs = append(attrs, "critical_closure", n.CriticalClosure)
	}
	l.Logger.WarnContext(ctx, "bug alert", attrs...)
	return nil
}

// Multi fans a notice out to several notifiers, attempting all of them.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
