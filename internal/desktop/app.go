// Package desktop wires the shell together: it owns the supervisor, brings the
// backend up, arms the navigation guard and attaches the window.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/config"
	"github.com/openprism/desktop/internal/health"
	"github.com/openprism/desktop/internal/navguard"
	"github.com/openprism/desktop/internal/portalloc"
	"github.com/openprism/desktop/internal/supervisor"
)

// StartupFailedTitle heads the fatal notification.
const StartupFailedTitle = "OpenPrism startup failed"

// Phase marks startup progress.
type Phase string

const (
	PhaseAllocate Phase = "allocate"
	PhaseSpawn    Phase = "spawn"
	PhaseHealth   Phase = "health"
	PhaseExternal Phase = "external"
	PhaseRetry    Phase = "retry"
	PhaseReady    Phase = "ready"
	PhaseFailed   Phase = "failed"
)

// Progress is one startup progress event.
type Progress struct {
	Phase   Phase
	Attempt int
	Detail  string
}

// Deps are the collaborators of an App. Nil fields get defaults.
type Deps struct {
	Logger   *zap.Logger
	Events   supervisor.EventSink
	Prober   *health.Prober
	Opener   navguard.Opener
	Window   Window
	Notifier Notifier
	Progress func(Progress)
	Closers  []io.Closer
}

// App is the top-level owner of the backend lifecycle.
type App struct {
	Config     config.Config
	Supervisor *supervisor.Supervisor
	Guard      *navguard.Guard
	Window     Window

	logger   *zap.Logger
	notifier Notifier
	progress func(Progress)
	closers  []io.Closer

	notifyOnce sync.Once
	quitOnce   sync.Once
	quitErr    error
}

// New builds an App for cfg. cfg must already be normalized.
func New(cfg config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard, err := navguard.New("", cfg.AllowList(), deps.Opener, logger.Named("navguard"))
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(logger.Named("supervisor"), deps.Events, deps.Prober)
	sup.GracePeriod = cfg.GracePeriod

	window := deps.Window
	if window == nil {
		window = &BrowserWindow{Guard: guard, Opener: deps.Opener}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &App{
		Config:     cfg,
		Supervisor: sup,
		Guard:      guard,
		Window:     window,
		logger:     logger,
		notifier:   notifier,
		progress:   deps.Progress,
		closers:    deps.Closers,
	}, nil
}

// Start brings the backend up and attaches the window. Startup failures are
// reported once through the notifier and returned.
func (a *App) Start(ctx context.Context) (string, error) {
	endpoint, err := a.startBackend(ctx)
	if err == nil {
		err = a.attach(ctx, endpoint)
	}
	if err != nil {
		a.report(Progress{Phase: PhaseFailed, Detail: err.Error()})
		a.fail(ctx, err)
		return "", err
	}
	a.report(Progress{Phase: PhaseReady, Detail: endpoint})
	return endpoint, nil
}

func (a *App) startBackend(ctx context.Context) (string, error) {
	cfg := a.Config
	if cfg.External {
		a.report(Progress{Phase: PhaseExternal, Attempt: 1, Detail: cfg.ExternalURL})
		return a.Supervisor.UseExternal(ctx, cfg.ExternalURL, cfg.HealthTimeout)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	attempts := cfg.StartupAttempts
	if cfg.Port != 0 || attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		endpoint, err := a.launch(ctx, attempt)
		if err == nil {
			return endpoint, nil
		}
		if !supervisor.IsExitedBeforeReady(err) || attempt >= attempts {
			return "", err
		}
		a.logger.Warn("backend exited during startup, retrying with a fresh port",
			zap.Int("attempt", attempt), zap.Error(err))
		a.report(Progress{Phase: PhaseRetry, Attempt: attempt + 1, Detail: err.Error()})
	}
}

func (a *App) launch(ctx context.Context, attempt int) (string, error) {
	cfg := a.Config
	spec := supervisor.Spec{
		Entry:       cfg.BackendEntry,
		Interpreter: cfg.BackendInterpreter,
		Args:        cfg.BackendArgs,
		Dir:         cfg.RepoRoot,
		DataDir:     cfg.DataDir,
		RepoRoot:    cfg.RepoRoot,
		Port:        cfg.Port,
	}

	a.report(Progress{Phase: PhaseAllocate, Attempt: attempt})
	if spec.Port == 0 {
		if cfg.InheritListener && runtime.GOOS != "windows" {
			res, err := portalloc.Reserve()
			if err != nil {
				return "", err
			}
			spec.Port = res.Port
			spec.Reservation = res
		} else {
			port, err := portalloc.Request()
			if err != nil {
				return "", err
			}
			spec.Port = port
		}
	}

	a.report(Progress{Phase: PhaseSpawn, Attempt: attempt, Detail: fmt.Sprintf("port %d", spec.Port)})
	h, err := a.Supervisor.Start(ctx, spec)
	if err != nil {
		return "", err
	}

	base := supervisor.LocalURL(spec.Port)
	a.report(Progress{Phase: PhaseHealth, Attempt: attempt, Detail: supervisor.HealthURL(base)})
	endpoint, err := a.Supervisor.WaitReady(ctx, h, base, cfg.HealthTimeout)
	if err != nil {
		if stopErr := a.Supervisor.Stop(h); stopErr != nil {
			a.logger.Warn("stop unready backend", zap.Error(stopErr))
		}
		return "", err
	}
	return endpoint, nil
}

func (a *App) attach(ctx context.Context, endpoint string) error {
	if err := a.Guard.Arm(endpoint); err != nil {
		return err
	}
	target := endpoint
	if a.Config.DevURL != "" {
		target = a.Config.DevURL
	}
	if err := a.Window.Load(ctx, target); err != nil {
		return fmt.Errorf("attach window: %w", err)
	}
	a.logger.Info("window attached", zap.String("url", target))
	return nil
}

func (a *App) fail(ctx context.Context, err error) {
	a.notifyOnce.Do(func() {
		a.logger.Error("startup failed", zap.String("kind", FailureKind(err)), zap.Error(err))
		if nerr := a.notifier.Notify(ctx, StartupFailedTitle, err.Error()); nerr != nil {
			a.logger.Warn("notify startup failure", zap.Error(nerr))
		}
	})
}

// Quit stops the backend and releases resources. It is safe to call more
// than once.
func (a *App) Quit(ctx context.Context) error {
	a.quitOnce.Do(func() {
		var errs []error
		if err := a.Supervisor.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		for _, c := range a.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.quitErr = errors.Join(errs...)
	})
	return a.quitErr
}

// Endpoint returns the ready backend URL.
func (a *App) Endpoint() (string, bool) {
	return a.Supervisor.Endpoint()
}

func (a *App) report(p Progress) {
	if a.progress != nil {
		a.progress(p)
	}
}

// FailureKind classifies a startup error for operators.
func FailureKind(err error) string {
	var allocErr *portalloc.AllocationError
	var spawnErr *supervisor.SpawnError
	var exitErr *supervisor.ExitedBeforeReadyError
	switch {
	case errors.As(err, &allocErr):
		return "allocation"
	case errors.As(err, &spawnErr):
		return "spawn"
	case health.IsTimeout(err):
		return "health-timeout"
	case errors.As(err, &exitErr):
		return "exited-before-ready"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
