// Package portalloc obtains free loopback TCP ports for the backend process.
//
// Request returns a bare port number: the transient listener is closed before
// the number is handed out, so another process may claim the port before the
// backend binds it. Callers must treat a backend that fails to come up on such
// a port as a retryable startup failure. Reserve avoids the race by keeping
// the socket bound and handing the descriptor itself to the child.
package portalloc

import (
	"fmt"
	"net"
	"os"
)

// Host is the loopback address every port is allocated on.
const Host = "127.0.0.1"

// AllocationError reports that no port could be obtained.
type AllocationError struct {
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate port: %v", e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Request binds an ephemeral port, releases it and returns its number.
func Request() (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return 0, &AllocationError{Err: err}
	}
	port, err := portOf(ln)
	closeErr := ln.Close()
	if err != nil {
		return 0, &AllocationError{Err: err}
	}
	if closeErr != nil {
		return 0, &AllocationError{Err: fmt.Errorf("release listener: %w", closeErr)}
	}
	return port, nil
}

// Reservation is a bound loopback listener whose descriptor can be inherited
// by a child process.
type Reservation struct {
	Port int
	ln   *net.TCPListener
}

// Reserve binds an ephemeral port and keeps it bound.
func Reserve() (*Reservation, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return nil, &AllocationError{Err: err}
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, &AllocationError{Err: fmt.Errorf("unexpected listener type %T", ln)}
	}
	port, err := portOf(ln)
	if err != nil {
		_ = ln.Close()
		return nil, &AllocationError{Err: err}
	}
	return &Reservation{Port: port, ln: tcp}, nil
}

// File returns a duplicate of the listening socket suitable for
// exec.Cmd.ExtraFiles. The caller closes the returned file once the child has
// been started.
func (r *Reservation) File() (*os.File, error) {
	if r == nil || r.ln == nil {
		return nil, fmt.Errorf("reservation released")
	}
	return r.ln.File()
}

// Addr returns the host:port of the reservation.
func (r *Reservation) Addr() string {
	return net.JoinHostPort(Host, fmt.Sprint(r.Port))
}

// Release closes the parent's copy of the socket. Safe to call repeatedly.
func (r *Reservation) Release() error {
	if r == nil || r.ln == nil {
		return nil
	}
	err := r.ln.Close()
	r.ln = nil
	return err
}

func portOf(ln net.Listener) (int, error) {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || addr.Port <= 0 {
		return 0, fmt.Errorf("failed to resolve a free port from %v", ln.Addr())
	}
	return addr.Port, nil
}
