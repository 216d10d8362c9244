package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/bugflow/internal/alert"
	"github.com/joescharf/bugflow/internal/api"
	"github.com/joescharf/bugflow/internal/daemon"
	"github.com/joescharf/bugflow/internal/notify"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/workflow"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and alert sweeper",
	Long: `Run the REST API under /api/v1 together with the alert sweeper, which
pushes a notice for every live bug that is unassigned or stale.

The alert and SLA policy is reloaded whenever the config file changes.
Use 'serve start' to run in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile is the state file of the background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "bugflow-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "bugflow-serve.log")
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := getEngine()
	if err != nil {
		return err
	}
	interval, err := time.ParseDuration(viper.GetString("sweep_interval"))
	if err != nil {
		return fmt.Errorf("sweep_interval: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(e, newClassifier()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := alert.NewSweeper(e.Store(), nil, newNotifier(), func() policy.Thresholds {
		return e.Policy().Thresholds
	}, interval)

	pf := pidFile()
	if err := pf.Write(addr); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	watchPolicy(e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving api", "addr", addr)
		ui.Info("Serving API at http://localhost%s/api/v1", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("alert sweeper started", "interval", interval)
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// watchPolicy swaps the engine's policy whenever the config file changes.
// A file that fails validation leaves the running policy in place.
func watchPolicy(e *workflow.Engine) {
	if viper.ConfigFileUsed() == "" {
		slog.Debug("no config file, policy reload disabled")
		return
	}
	viper.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		p, err := policy.Load(viper.GetViper())
		if err != nil {
			slog.Warn("config reload rejected", "file", ev.Name, "error", err)
			return
		}
		e.SetPolicy(p)
		slog.Info("policy reloaded", "file", ev.Name)
	})
	viper.WatchConfig()
}

// newNotifier always logs notices and also posts them when a webhook is set.
func newNotifier() notify.Notifier {
	n := notify.Multi{notify.NewLogNotifier(nil)}
	if url := viper.GetString("notify.webhook_url"); url != "" {
		n = append(n, notify.NewWebhook(url, notify.WebhookOptions{
			PerMinute: viper.GetInt("notify.per_minute"),
		}))
	}
	return n
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	port := viper.GetInt("port")
	logPath := serveLogPath()
	if dryRun {
		ui.DryRunMsg("Would start server on :%d, logging to %s", port, logPath)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--port", strconv.Itoa(port)}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	c := exec.Command(exe, args...)
	c.Stdout = logFile
	c.Stderr = logFile
	setDaemonAttrs(c)

	if err := c.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	ui.Success("Started bugflow server (pid %d) on :%d", c.Process.Pid, port)
	ui.Info("Logs: %s", logPath)
	return c.Process.Release()
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}
	if !pf.WaitExit(10 * time.Second) {
		ui.Warning("Server did not exit, killing pid %d", pid)
		if err := pf.Signal(sigKILL()); err != nil {
			return fmt.Errorf("kill server: %w", err)
		}
		pf.WaitExit(2 * time.Second)
	}
	_ = pf.Remove()
	ui.Success("Stopped bugflow server (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if _, running := pf.IsRunning(); !running {
		ui.Info("bugflow server is not running")
		return nil
	}
	st, err := pf.ReadState()
	if err != nil {
		return err
	}
	ui.Success("bugflow server running (pid %d) on %s, up %s", st.PID, dash(st.Addr), st.Uptime(time.Now()))
	return nil
}
