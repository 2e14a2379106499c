package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/config"
	"github.com/openprism/desktop/internal/logging"
)

// flags holds command-line overrides. Zero values leave the loaded config
// untouched.
type flags struct {
	configPath    string
	dataDir       string
	backend       string
	port          int
	external      string
	devURL        string
	healthTimeout time.Duration
	tui           bool
	logLevel      string
	noBrowser     bool
	metricsAddr   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "openprism-desktop",
		Short:        "Desktop shell for the OpenPrism backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDesktop(cmd, f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (YAML)")
	pf.StringVar(&f.dataDir, "data-dir", "", "Per-user data directory")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	bindRunFlags(root.Flags(), f)

	root.AddCommand(
		newRunCmd(f),
		newDiagnosticsCmd(f),
		newHealthCmd(),
		newPortCmd(),
		newHistoryCmd(f),
	)
	return root
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath, os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	changed := cmd.Flags().Changed
	if changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("backend") {
		cfg.BackendEntry = f.backend
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("external") {
		cfg.External = true
		cfg.ExternalURL = f.external
	}
	if changed("dev-url") {
		cfg.DevURL = f.devURL
	}
	if changed("health-timeout") {
		cfg.HealthTimeout = f.healthTimeout
	}
	if changed("tui") {
		cfg.TUI = f.tui
	}
	if err := cfg.Normalize(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// cliLogger logs to stderr only, for the short-lived subcommands.
func cliLogger(cmd *cobra.Command, level string) (*zap.Logger, func() error, error) {
	return logging.New(logging.Options{Level: level, Console: cmd.ErrOrStderr()})
}
