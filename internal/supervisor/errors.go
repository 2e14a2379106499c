package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrQuitting is returned by Start once Shutdown has begun.
	ErrQuitting = errors.New("supervisor is shutting down")
	// ErrEndpointSet is returned when a second endpoint would replace the first.
	ErrEndpointSet = errors.New("backend endpoint already set")
)

// SpawnError reports that the backend could not be launched.
type SpawnError struct {
	Entry string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn backend %s: %v", e.Entry, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitedBeforeReadyError reports that the backend exited while its health
// endpoint was still being polled. A fresh port may succeed.
type ExitedBeforeReadyError struct {
	PID    int
	Port   int
	Status ExitStatus
}

func (e *ExitedBeforeReadyError) Error() string {
	return fmt.Sprintf("backend pid %d exited before ready (%s)", e.PID, e.Status)
}

// IsExitedBeforeReady reports whether err is an early exit.
func IsExitedBeforeReady(err error) bool {
	var exitErr *ExitedBeforeReadyError
	return errors.As(err, &exitErr)
}
