package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/cmdrun"
	"github.com/openprism/desktop/internal/config"
	"github.com/openprism/desktop/internal/desktop"
	"github.com/openprism/desktop/internal/health"
	"github.com/openprism/desktop/internal/logging"
	"github.com/openprism/desktop/internal/metrics"
	"github.com/openprism/desktop/internal/navguard"
	"github.com/openprism/desktop/internal/store"
	"github.com/openprism/desktop/internal/supervisor"
	"github.com/openprism/desktop/internal/ui"
)

const (
	historyRetention = 30 * 24 * time.Hour
	quitTimeout      = 10 * time.Second
)

func newRunCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and open the app (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDesktop(cmd, f)
		},
	}
	bindRunFlags(cmd.Flags(), f)
	return cmd
}

func bindRunFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVar(&f.backend, "backend", "", "Backend executable or script")
	fs.IntVar(&f.port, "port", 0, "Fixed backend port (0 allocates one)")
	fs.StringVar(&f.external, "external", "", "Use an already running backend at this URL")
	fs.StringVar(&f.devURL, "dev-url", "", "Load the frontend from a dev server")
	fs.DurationVar(&f.healthTimeout, "health-timeout", 0, "How long to wait for the backend to become healthy")
	fs.BoolVar(&f.tui, "tui", false, "Show startup progress in a terminal UI")
	fs.BoolVar(&f.noBrowser, "no-browser", false, "Do not open the system browser")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve shell metrics on this address")
}

func runDesktop(cmd *cobra.Command, f *flags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	var console io.Writer = cmd.ErrOrStderr()
	if cfg.TUI {
		console = io.Discard
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogPath, Console: console})
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := store.OpenDataDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	if n, err := db.Prune(ctx, time.Now().Add(-historyRetention)); err != nil {
		logger.Warn("prune lifecycle history", zap.Error(err))
	} else if n > 0 {
		logger.Debug("pruned lifecycle history", zap.Int64("events", n))
	}

	collector := metrics.NewCollector("")
	if f.metricsAddr != "" {
		stop := serveMetrics(f.metricsAddr, collector.Handler(), logger)
		defer stop()
	}

	runner := &cmdrun.Runner{Observer: collector}
	events := supervisor.Sinks{
		db,
		supervisor.SinkFunc(func(ctx context.Context, ev supervisor.Event) error {
			collector.ObserveLifecycle(string(ev.Kind))
			return nil
		}),
	}

	var window desktop.Window
	if f.noBrowser {
		window = &desktop.HeadlessWindow{}
	}
	var report func(desktop.Progress)
	app, err := desktop.New(cfg, desktop.Deps{
		Logger: logger,
		Events: events,
		Prober: &health.Prober{Observer: collector},
		Opener: &navguard.CommandOpener{Runner: runner},
		Window: window,
		Notifier: &desktop.DialogNotifier{
			Runner:   runner,
			Fallback: desktop.LogNotifier{Logger: logger},
		},
		Progress: func(p desktop.Progress) {
			if report != nil {
				report(p)
			}
		},
		Closers: []io.Closer{db},
	})
	if err != nil {
		db.Close()
		return err
	}
	defer quit(app, logger)

	var endpoint string
	if cfg.TUI {
		endpoint, err = ui.RunStartup(ctx, func(ctx context.Context, progress func(desktop.Progress)) (string, error) {
			report = progress
			return app.Start(ctx)
		})
	} else {
		report = func(p desktop.Progress) {
			logger.Info("startup", zap.String("phase", string(p.Phase)),
				zap.Int("attempt", p.Attempt), zap.String("detail", p.Detail))
		}
		endpoint, err = app.Start(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "OpenPrism running at %s\n", endpoint)
	if cfg.DevURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "frontend loaded from %s\n", cfg.DevURL)
	}
	logDataDir(logger, cfg)

	if h := app.Supervisor.Current(); h != nil {
		select {
		case <-ctx.Done():
		case <-h.Done():
			if !app.Supervisor.Quitting() {
				status, _ := h.ExitStatus()
				return fmt.Errorf("backend exited unexpectedly: %s", status)
			}
		}
	} else {
		<-ctx.Done()
	}
	return nil
}

func quit(app *desktop.App, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := app.Quit(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func logDataDir(logger *zap.Logger, cfg config.Config) {
	logger.Info("desktop ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("log", cfg.LogPath),
		zap.Bool("external", cfg.External))
}

func serveMetrics(addr string, handler http.Handler, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
