package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openprism/desktop/internal/cmdrun"
	"github.com/openprism/desktop/internal/diagnostics"
	"github.com/openprism/desktop/internal/health"
	"github.com/openprism/desktop/internal/portalloc"
	"github.com/openprism/desktop/internal/store"
	"github.com/openprism/desktop/internal/supervisor"
	"github.com/openprism/desktop/internal/ui"
)

const diagnosticsPath = "/api/desktop/diagnostics"

func newDiagnosticsCmd(f *flags) *cobra.Command {
	var asJSON bool
	var from string
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Report LaTeX engines and Python capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report diagnostics.Report
			var err error
			if from != "" {
				report, err = fetchReport(cmd.Context(), from)
			} else {
				report, err = localReport(cmd, f)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintln(out, ui.RenderReport(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&from, "from", "", "Ask a running backend at this URL instead of probing locally")
	return cmd
}

func localReport(cmd *cobra.Command, f *flags) (diagnostics.Report, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return diagnostics.Report{}, err
	}
	logger, closeLog, err := cliLogger(cmd, cfg.LogLevel)
	if err != nil {
		return diagnostics.Report{}, err
	}
	defer closeLog()
	prober := diagnostics.New(cfg.DataDir, &cmdrun.Runner{}, logger)
	prober.Timeout = cfg.ProbeTimeout
	return prober.Collect(cmd.Context()), nil
}

func fetchReport(ctx context.Context, base string) (diagnostics.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+diagnosticsPath, nil)
	if err != nil {
		return diagnostics.Report{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return diagnostics.Report{}, fmt.Errorf("fetch diagnostics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return diagnostics.Report{}, fmt.Errorf("fetch diagnostics: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var report diagnostics.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return diagnostics.Report{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	return report, nil
}

func newHealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health URL",
		Short: "Wait until a backend answers its health endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := supervisor.HealthURL(args[0])
			if err := health.WaitUntilHealthy(cmd.Context(), url, timeout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s healthy\n", url)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", health.DefaultTimeout, "How long to keep polling")
	return cmd
}

func newPortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "port",
		Short: "Print a free loopback port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portalloc.Request()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
}

func newHistoryCmd(f *flags) *cobra.Command {
	var limit int
	var handle string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backend lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			db, err := store.OpenDataDir(cfg.DataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			var events []supervisor.Event
			if handle != "" {
				events, err = db.ForHandle(cmd.Context(), handle)
			} else {
				events, err = db.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			fmt.Fprintln(out, ui.RenderHistory(events))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of events")
	cmd.Flags().StringVar(&handle, "handle", "", "Only events for this backend handle")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}
