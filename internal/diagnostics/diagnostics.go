// Package diagnostics builds the capability report describing which optional
// toolchains the host can offer: typesetting engines, a Python interpreter and
// the plotting packages installed in it.
//
// Every probe failure is recorded as data. Collect always returns a complete
// report and never caches: each call re-derives the host state.
package diagnostics

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openprism/desktop/internal/cmdrun"
)

// Engines lists the typesetting engines in report order.
var Engines = []string{"pdflatex", "xelatex", "lualatex", "latexmk", "tectonic"}

// CommandRunner is the subset of *cmdrun.Runner the prober needs.
type CommandRunner interface {
	RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) cmdrun.Result
}

// Report is the capability snapshot served to the UI.
type Report struct {
	OK             bool      `json:"ok"`
	Platform       string    `json:"platform"`
	Arch           string    `json:"arch"`
	RuntimeVersion string    `json:"runtimeVersion"`
	Hostname       string    `json:"hostname"`
	DataDir        string    `json:"dataDir"`
	Latex          EngineSet `json:"latex"`
	Python         Python    `json:"python"`
}

// Prober runs the diagnostic probes. Zero-valued fields fall back to the host
// environment.
type Prober struct {
	Runner      CommandRunner
	DataDir     string
	Engines     []string
	Timeout     time.Duration
	Concurrency int
	Getenv      func(string) string
	LookPath    func(string) (string, error)
	Logger      *zap.Logger
}

// New builds a prober backed by runner.
func New(dataDir string, runner CommandRunner, logger *zap.Logger) *Prober {
	return &Prober{Runner: runner, DataDir: dataDir, Logger: logger}
}

// Collect runs the engine probes and the interpreter chain side by side and
// merges them into one report.
func (p *Prober) Collect(ctx context.Context) Report {
	report := Report{
		OK:             true,
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		RuntimeVersion: runtime.Version(),
		DataDir:        p.DataDir,
	}
	if host, err := os.Hostname(); err == nil {
		report.Hostname = host
	}

	var g errgroup.Group
	g.Go(func() error {
		report.Latex = p.ProbeEngines(ctx)
		return nil
	})
	g.Go(func() error {
		report.Python = p.ProbePython(ctx)
		return nil
	})
	_ = g.Wait()
	return report
}

// ProbePython discovers an interpreter and, when one answers, its packages.
func (p *Prober) ProbePython(ctx context.Context) Python {
	py := Python{Packages: allUnavailable()}
	interp := p.DetectInterpreter(ctx)
	if interp == nil {
		return py
	}
	py.OK = true
	py.Command = interp.Command
	py.Executable = interp.Executable
	py.Version = interp.Version
	py.Packages = p.DetectPackages(ctx, interp.Command)
	return py
}

func (p *Prober) run(ctx context.Context, name string, args ...string) cmdrun.Result {
	runner := p.Runner
	if runner == nil {
		runner = &cmdrun.Runner{}
	}
	return runner.RunTimeout(ctx, p.Timeout, name, args...)
}

func (p *Prober) getenv(key string) string {
	if p.Getenv != nil {
		return p.Getenv(key)
	}
	return os.Getenv(key)
}

func (p *Prober) lookPath(name string) (string, error) {
	if p.LookPath != nil {
		return p.LookPath(name)
	}
	return exec.LookPath(name)
}

func (p *Prober) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// FirstLine returns the first non-blank line of text, trimmed.
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
