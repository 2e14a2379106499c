package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of a backend process. Transitions only move
// forward.
type State int

const (
	Running State = iota
	Exiting
	Exited
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exiting:
		return "exiting"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExitStatus describes how a process ended. Code is -1 when a signal ended it.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal: " + e.Signal
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func exitStatusOf(cmd *exec.Cmd, waitErr error) ExitStatus {
	ps := cmd.ProcessState
	if ps == nil {
		return ExitStatus{Code: -1, Signal: fmt.Sprint(waitErr)}
	}
	if code := ps.ExitCode(); code >= 0 {
		return ExitStatus{Code: code}
	}
	return ExitStatus{Code: -1, Signal: strings.TrimPrefix(ps.String(), "signal: ")}
}

// Handle tracks one spawned backend.
type Handle struct {
	ID        string
	PID       int
	Port      int
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu         sync.Mutex
	state      State
	status     ExitStatus
	deliberate bool

	stopOnce sync.Once
	stopErr  error
}

func newHandle(id string, cmd *exec.Cmd, port int) *Handle {
	return &Handle{
		ID:        id,
		PID:       cmd.Process.Pid,
		Port:      port,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus returns the exit status once the process has exited.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.state == Exited
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		status, _ := h.ExitStatus()
		return status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// beginExit moves Running to Exiting. It reports false when the process has
// already exited.
func (h *Handle) beginExit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Exited {
		return false
	}
	h.deliberate = true
	if h.state < Exiting {
		h.state = Exiting
	}
	return true
}

// finish records the exit. It returns whether the exit was requested.
func (h *Handle) finish(status ExitStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Exited
	h.status = status
	return h.deliberate
}
