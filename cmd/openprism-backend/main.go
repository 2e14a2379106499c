package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/cmdrun"
	"github.com/openprism/desktop/internal/config"
	"github.com/openprism/desktop/internal/diagnostics"
	"github.com/openprism/desktop/internal/logging"
	"github.com/openprism/desktop/internal/metrics"
	"github.com/openprism/desktop/internal/tunnel"
	"github.com/openprism/desktop/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var staticDir, logLevel string
	cmd := &cobra.Command{
		Use:          "openprism-backend",
		Short:        "OpenPrism backend HTTP server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.BackendConfigFromEnv(os.Getenv)
			if err != nil {
				return err
			}
			logger, closeLog, err := logging.New(logging.Options{Level: logLevel, Console: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(cmd.Context(), cfg, staticDir, logger)
		},
	}
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Serve a built frontend from this directory")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

func serve(ctx context.Context, cfg config.BackendConfig, staticDir string, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ln, err := listen(cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("")
	api := &server.APIServer{
		Diagnostics: diagnostics.New(cfg.DataDir, &cmdrun.Runner{Observer: collector}, logger.Named("diagnostics")),
		Metrics:     collector.Handler(),
		Logger:      logger,
		StaticDir:   staticDir,
	}

	tun := tunnel.FromMode(cfg.TunnelMode, cfg.Desktop, logger.Named("tunnel"))
	defer tun.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		res, err := tun.Start(ctx, port)
		switch {
		case err != nil:
			logger.Warn("tunnel failed", zap.Error(err))
		case res != nil:
			logger.Info("tunnel ready", zap.String("provider", res.Provider), zap.String("url", res.URL))
		}
	}()

	logger.Info("backend starting",
		zap.Int("port", port),
		zap.Bool("desktop", cfg.Desktop),
		zap.Bool("inherited_listener", cfg.ListenFD != 0),
		zap.String("data_dir", cfg.DataDir))
	err = api.ServeContext(ctx, ln)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen adopts the listener passed by the desktop shell, or binds the
// configured address.
func listen(cfg config.BackendConfig) (net.Listener, error) {
	if cfg.ListenFD == 0 {
		return net.Listen("tcp", cfg.Addr)
	}
	f := os.NewFile(uintptr(cfg.ListenFD), "openprism-listener")
	if f == nil {
		return nil, fmt.Errorf("listen fd %d is not open", cfg.ListenFD)
	}
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("adopt listen fd %d: %w", cfg.ListenFD, err)
	}
	return ln, nil
}
