// Package cmdrun executes short-lived external programs under a deadline and
// reports exactly one typed outcome per invocation.
package cmdrun

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single invocation when the caller does not.
	DefaultTimeout = 4 * time.Second
	// DefaultMaxOutput caps each captured stream.
	DefaultMaxOutput = 1 << 20
	// DefaultWaitDelay bounds reaping when descendants keep the pipes open.
	DefaultWaitDelay = 500 * time.Millisecond
)

// Kind classifies how an invocation ended.
type Kind string

const (
	KindSuccess  Kind = ""
	KindExit     Kind = "exit"
	KindSignal   Kind = "signal"
	KindTimeout  Kind = "timeout"
	KindSpawn    Kind = "spawn"
	KindCanceled Kind = "canceled"
)

// ErrTimeout is the error text reported for deadline outcomes.
var ErrTimeout = errors.New("timeout")

// Result is the terminal outcome of one invocation. OK implies ExitCode == 0
// and Signaled == false.
type Result struct {
	Command  string        `json:"command,omitempty"`
	OK       bool          `json:"ok"`
	ExitCode int           `json:"exitCode"`
	Signaled bool          `json:"signaled,omitempty"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Kind     Kind          `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// TimedOut reports whether the deadline ended the invocation.
func (r Result) TimedOut() bool { return r.Kind == KindTimeout }

// Err converts a failed outcome into a *CommandError; successful results
// return nil.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &CommandError{Command: r.Command, Kind: r.Kind, ExitCode: r.ExitCode, Detail: r.Error}
}

// CommandError describes a failed invocation.
type CommandError struct {
	Command  string
	Kind     Kind
	ExitCode int
	Detail   string
}

func (e *CommandError) Error() string {
	name := e.Command
	if name == "" {
		name = "command"
	}
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: %v", name, ErrTimeout)
	case KindExit:
		return fmt.Sprintf("%s: exit status %d", name, e.ExitCode)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", name, e.Detail)
		}
		return fmt.Sprintf("%s: %s", name, e.Kind)
	}
}

// Is lets errors.Is(err, ErrTimeout) match timeout outcomes.
func (e *CommandError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}

// Observer receives one callback per finished invocation.
type Observer interface {
	ObserveCommand(name string, kind Kind, duration time.Duration)
}

// Runner executes commands. The zero value is usable and applies the package
// defaults.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int
	WaitDelay time.Duration
	Dir       string
	Env       []string
	Observer  Observer
}

var defaultRunner = &Runner{}

// Run executes name with args using the package default runner.
func Run(ctx context.Context, name string, args ...string) Result {
	return defaultRunner.Run(ctx, name, args...)
}

// Run executes name with args under the runner's timeout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) Result {
	return r.RunTimeout(ctx, 0, name, args...)
}

// RunTimeout executes name with args under timeout; a non-positive timeout
// falls back to the runner's configured value.
func (r *Runner) RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	if timeout <= 0 {
		timeout = r.timeout()
	}
	start := time.Now()
	res := r.run(ctx, timeout, name, args)
	res.Command = name
	res.Duration = time.Since(start)
	if r != nil && r.Observer != nil {
		r.Observer.ObserveCommand(name, res.Kind, res.Duration)
	}
	return res
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, name string, args []string) Result {
	if strings.TrimSpace(name) == "" {
		return Result{ExitCode: -1, Kind: KindSpawn, Error: "command name required"}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdin = nil
	cmd.WaitDelay = r.waitDelay()
	if r != nil {
		cmd.Dir = r.Dir
		if len(r.Env) > 0 {
			cmd.Env = r.Env
		}
	}
	stdout := &cappedBuffer{limit: r.maxOutput()}
	stderr := &cappedBuffer{limit: r.maxOutput()}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	switch {
	case err == nil:
		res.OK = true
		return res
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
		res.OK = true
		return res
	case cmd.ProcessState == nil:
		// Never started, or the context expired before Start.
		res.ExitCode = -1
		if ctx.Err() != nil {
			res.Kind = KindCanceled
			res.Error = ctx.Err().Error()
			return res
		}
		res.Kind = KindSpawn
		res.Error = err.Error()
		return res
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		res.Kind = KindTimeout
		res.Error = ErrTimeout.Error()
		return res
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Kind = KindCanceled
		res.Error = ctx.Err().Error()
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			res.ExitCode = -1
			res.Signaled = true
			res.Kind = KindSignal
			res.Error = exitErr.Error()
			return res
		}
		res.ExitCode = code
		res.Kind = KindExit
		res.Error = exitErr.Error()
		return res
	}
	res.ExitCode = -1
	res.Kind = KindSpawn
	res.Error = err.Error()
	return res
}

func (r *Runner) timeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func (r *Runner) maxOutput() int {
	if r == nil || r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

func (r *Runner) waitDelay() time.Duration {
	if r == nil || r.WaitDelay <= 0 {
		return DefaultWaitDelay
	}
	return r.WaitDelay
}

// cappedBuffer keeps the first limit bytes and silently drops the rest so a
// chatty child never blocks on a full pipe.
type cappedBuffer struct {
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
