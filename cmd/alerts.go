package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/workflow"
)

var (
	alertsWatch    bool
	alertsInterval time.Duration
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List live bugs that are unassigned or stale",
	Long: `List live bugs with an unassigned or stale alert, highest level first.

With --watch the list is redrawn whenever the database changes and on every
--interval tick, since alerts escalate as time passes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsWatch {
			return alertsWatchRun(cmd.Context())
		}
		return alertsRun()
	},
}

func init() {
	alertsCmd.Flags().BoolVarP(&alertsWatch, "watch", "w", false, "Redraw on changes until interrupted")
	alertsCmd.Flags().DurationVar(&alertsInterval, "interval", time.Minute, "Redraw interval with --watch")
	alertsCmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	rootCmd.AddCommand(alertsCmd)
}

func alertsRun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := actingUser()
	if err != nil {
		return err
	}
	views, err := e.Alerting(context.Background(), u)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(views)
	}
	if len(views) == 0 {
		ui.Info("No bugs are alerting.")
		return nil
	}
	printAlerts(views, e.Now())
	return nil
}

func printAlerts(views []workflow.BugView, now time.Time) {
	table := ui.Table([]string{"Level", "ID", "Title", "Priority", "Status", "Unassigned", "Stale", "Closure", "In status"})
	for _, v := range views {
		since := v.CreatedAt
		if v.StatusLastUpdated != nil {
			since = *v.StatusLastUpdated
		}
		_ = table.Append([]string{
			output.AlertColor(v.Alerts.Max().String()),
			v.ID,
			truncate(v.Title, 40),
			output.PriorityColor(string(v.Priority)),
			output.StatusColor(string(v.Status)),
			output.AlertColor(v.Alerts.Unassigned.String()),
			output.AlertColor(v.Alerts.Stale.String()),
			output.AlertColor(v.Alerts.CriticalClosure.String()),
			formatAge(now.Sub(since)),
		})
	}
	_ = table.Render()
}

// alertsWatchRun redraws the alert list on database writes (debounced) and
// on every tick until interrupted.
func alertsWatchRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	dbPath := viper.GetString("db_path")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(dbPath), err)
	}

	redraw := func() {
		fmt.Fprint(ui.Out, "\033[H\033[2J")
		fmt.Fprintf(ui.Out, "Alerts at %s (Ctrl+C to exit)\n\n", time.Now().Format("15:04:05"))
		if err := alertsRun(); err != nil {
			ui.Error("%v", err)
		}
	}
	redraw()

	ticker := time.NewTicker(alertsInterval)
	defer ticker.Stop()

	const debounceDelay = 500 * time.Millisecond
	debounce := time.NewTimer(debounceDelay)
	debounce.Stop()

	base := filepath.Base(dbPath)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nStopped watching.")
			return nil
		case <-ticker.C:
			redraw()
		case <-debounce.C:
			redraw()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// WAL mode writes land in <db>-wal before checkpointing.
			if ev.Has(fsnotify.Write) && strings.HasPrefix(filepath.Base(ev.Name), base) {
				debounce.Reset(debounceDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ui.Warning("watch: %v", err)
		}
	}
}
