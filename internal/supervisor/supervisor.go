// Package supervisor owns the backend process: it spawns it with the port and
// environment contract, relays its output to the structured log, waits for
// readiness, and stops it with a graceful signal followed by a forced kill.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openprism/desktop/internal/health"
	"github.com/openprism/desktop/internal/portalloc"
)

const (
	// DefaultGracePeriod separates the graceful signal from the forced kill.
	DefaultGracePeriod = 2 * time.Second
	// DefaultKillWait bounds the wait for a killed process to be reaped.
	DefaultKillWait = 5 * time.Second
	// DefaultPipeDrain bounds output draining once the process is gone.
	DefaultPipeDrain = time.Second
)

// Spec describes how to launch the backend.
type Spec struct {
	// Entry is the backend executable, or the script run by Interpreter.
	Entry       string
	Interpreter string
	Args        []string
	Env         []string
	Dir         string
	Port        int
	DataDir     string
	RepoRoot    string
	// Reservation, when set, is inherited by the child as its listener. Start
	// takes ownership and releases the parent's copy.
	Reservation *portalloc.Reservation
}

// Supervisor manages at most one backend at a time.
type Supervisor struct {
	Logger      *zap.Logger
	Events      EventSink
	Prober      *health.Prober
	GracePeriod time.Duration
	KillWait    time.Duration

	mu          sync.Mutex
	current     *Handle
	endpoint    string
	endpointSet bool
	quitting    bool

	afterSpawn func()
}

// New creates a supervisor.
func New(logger *zap.Logger, events EventSink, prober *health.Prober) *Supervisor {
	return &Supervisor{Logger: logger, Events: events, Prober: prober}
}

// Start launches the backend and returns without waiting for readiness.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Reservation != nil {
		defer spec.Reservation.Release()
	}
	s.mu.Lock()
	quitting := s.quitting
	s.mu.Unlock()
	if quitting {
		return nil, ErrQuitting
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, args, err := resolveCommand(spec)
	if err != nil {
		return nil, &SpawnError{Entry: spec.Entry, Err: err}
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	cmd.Env = Environment(spec)
	cmd.Stdin = nil
	cmd.WaitDelay = DefaultPipeDrain
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if spec.Reservation != nil {
		f, err := spec.Reservation.File()
		if err != nil {
			return nil, &SpawnError{Entry: spec.Entry, Err: fmt.Errorf("inherit listener: %w", err)}
		}
		defer f.Close()
		cmd.ExtraFiles = []*os.File{f}
	}

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, &SpawnError{Entry: spec.Entry, Err: err}
	}

	h := newHandle(ulid.Make().String(), cmd, spec.Port)
	if s.afterSpawn != nil {
		s.afterSpawn()
	}
	// Shutdown may have run while the process was spawning; it saw no
	// current handle, so this process is ours to stop.
	s.mu.Lock()
	quitting = s.quitting
	if !quitting {
		s.current = h
	}
	s.mu.Unlock()

	s.logger().Info("backend started",
		zap.String("handle", h.ID), zap.Int("pid", h.PID), zap.Int("port", h.Port),
		zap.String("entry", spec.Entry), zap.Bool("inherited_listener", spec.Reservation != nil))
	s.emit(h, EventStarted, name)

	go s.monitor(h, stdoutR, stdoutW, stderrR, stderrW)

	if quitting {
		s.logger().Warn("shutdown began during spawn, stopping backend", zap.String("handle", h.ID), zap.Int("pid", h.PID))
		if err := s.Stop(h); err != nil {
			s.logger().Warn("stop backend spawned during shutdown", zap.Int("pid", h.PID), zap.Error(err))
		}
		return nil, ErrQuitting
	}
	return h, nil
}

func resolveCommand(spec Spec) (string, []string, error) {
	if strings.TrimSpace(spec.Entry) == "" {
		return "", nil, errors.New("no backend entry configured")
	}
	if spec.Interpreter == "" {
		path, err := exec.LookPath(spec.Entry)
		if err != nil {
			return "", nil, err
		}
		return path, spec.Args, nil
	}
	info, err := os.Stat(spec.Entry)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory", spec.Entry)
	}
	path, err := exec.LookPath(spec.Interpreter)
	if err != nil {
		return "", nil, err
	}
	return path, append([]string{spec.Entry}, spec.Args...), nil
}

func (s *Supervisor) monitor(h *Handle, stdoutR *io.PipeReader, stdoutW *io.PipeWriter, stderrR *io.PipeReader, stderrW *io.PipeWriter) {
	var g errgroup.Group
	g.Go(func() error { return s.forward(h, "stdout", stdoutR) })
	g.Go(func() error { return s.forward(h, "stderr", stderrR) })

	waitErr := h.cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	if err := g.Wait(); err != nil {
		s.logger().Warn("backend output forwarding failed", zap.String("handle", h.ID), zap.Error(err))
	}

	status := exitStatusOf(h.cmd, waitErr)
	defer close(h.done)
	deliberate := h.finish(status)
	s.emit(h, EventExit, status.String())
	if deliberate {
		s.logger().Info("backend exited", zap.String("handle", h.ID), zap.Int("pid", h.PID), zap.Stringer("status", status))
		return
	}
	s.logger().Warn("backend exited unexpectedly", zap.String("handle", h.ID), zap.Int("pid", h.PID), zap.Stringer("status", status))
	s.emit(h, EventAnomaly, status.String())
}

// forward relays r line by line until EOF. Overlong lines end scanning but the
// stream is still drained so the child never blocks on a full pipe.
func (s *Supervisor) forward(h *Handle, stream string, r io.Reader) error {
	log := s.logger().Named("backend").With(zap.String("source", "backend"), zap.String("stream", stream), zap.Int("pid", h.PID))
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if stream == "stderr" {
			log.Warn(line)
		} else {
			log.Info(line)
		}
	}
	err := scanner.Err()
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("%s: %w", stream, err)
	}
	return nil
}

// Stop asks the process to exit and kills it if the grace period passes.
// Calls after the first share its outcome.
func (s *Supervisor) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.stopErr = s.escalate(h)
	})
	return h.stopErr
}

func (s *Supervisor) escalate(h *Handle) error {
	if !h.beginExit() {
		return nil
	}
	s.emit(h, EventStop, "")
	if err := terminate(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger().Warn("graceful stop signal failed", zap.Int("pid", h.PID), zap.Error(err))
	}

	grace := time.NewTimer(s.gracePeriod())
	defer grace.Stop()
	select {
	case <-h.done:
		return nil
	case <-grace.C:
	}

	s.logger().Warn("backend did not exit within grace period, killing", zap.Int("pid", h.PID), zap.Duration("grace", s.gracePeriod()))
	s.emit(h, EventEscalated, "")
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("force kill backend: %w", err)
	}
	wait := time.NewTimer(s.killWait())
	defer wait.Stop()
	select {
	case <-h.done:
		return nil
	case <-wait.C:
		return fmt.Errorf("backend pid %d did not exit after kill", h.PID)
	}
}

// WaitReady polls the backend's health route and records base as the
// endpoint once it answers. It fails early if the process exits first.
func (s *Supervisor) WaitReady(ctx context.Context, h *Handle, base string, timeout time.Duration) (string, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- s.prober().WaitUntilHealthy(pollCtx, HealthURL(base), timeout)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return "", err
		}
	case <-h.done:
		cancel()
		<-errc
		status, _ := h.ExitStatus()
		return "", &ExitedBeforeReadyError{PID: h.PID, Port: h.Port, Status: status}
	}

	if err := s.setEndpoint(base); err != nil {
		return "", err
	}
	s.logger().Info("backend ready", zap.String("handle", h.ID), zap.String("endpoint", base))
	s.emit(h, EventReady, base)
	return base, nil
}

// UseExternal adopts an already running backend at base after it passes the
// health check.
func (s *Supervisor) UseExternal(ctx context.Context, base string, timeout time.Duration) (string, error) {
	if err := s.prober().WaitUntilHealthy(ctx, HealthURL(base), timeout); err != nil {
		return "", err
	}
	if err := s.setEndpoint(base); err != nil {
		return "", err
	}
	s.logger().Info("using external backend", zap.String("endpoint", base))
	return base, nil
}

func (s *Supervisor) setEndpoint(base string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpointSet {
		return fmt.Errorf("%w: %s", ErrEndpointSet, s.endpoint)
	}
	s.endpoint = base
	s.endpointSet = true
	return nil
}

// Endpoint returns the ready backend URL.
func (s *Supervisor) Endpoint() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.endpointSet
}

// Current returns the most recently started handle.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Shutdown refuses further starts and stops the current backend.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.quitting = true
	h := s.current
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Stop(h) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quitting reports whether Shutdown has been called.
func (s *Supervisor) Quitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitting
}

func (s *Supervisor) emit(h *Handle, kind EventKind, detail string) {
	if s.Events == nil {
		return
	}
	ev := Event{
		ID:       ulid.Make().String(),
		HandleID: h.ID,
		Kind:     kind,
		PID:      h.PID,
		Port:     h.Port,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
	if err := s.Events.Record(context.Background(), ev); err != nil {
		s.logger().Warn("record lifecycle event", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Supervisor) prober() *health.Prober {
	if s.Prober != nil {
		return s.Prober
	}
	return &health.Prober{}
}

func (s *Supervisor) gracePeriod() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}

func (s *Supervisor) killWait() time.Duration {
	if s.KillWait > 0 {
		return s.KillWait
	}
	return DefaultKillWait
}

func (s *Supervisor) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
