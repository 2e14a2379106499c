// Package health blocks until an HTTP endpoint reports ready.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the overall readiness deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultInterval separates consecutive polls.
	DefaultInterval = 300 * time.Millisecond
	// DefaultRequestTimeout bounds a single poll.
	DefaultRequestTimeout = 2 * time.Second
)

// HealthTimeoutError reports that the endpoint never became ready.
type HealthTimeoutError struct {
	URL     string
	Timeout time.Duration
	Polls   int
	Last    error
}

func (e *HealthTimeoutError) Error() string {
	msg := fmt.Sprintf("backend health check timed out after %s: %s", e.Timeout, e.URL)
	if e.Last != nil {
		msg += fmt.Sprintf(" (last: %v)", e.Last)
	}
	return msg
}

func (e *HealthTimeoutError) Unwrap() error { return e.Last }

// Observer is notified of every poll.
type Observer interface {
	ObserveHealthPoll(healthy bool, duration time.Duration)
}

// Prober polls health endpoints. The zero value uses the package defaults.
type Prober struct {
	Client   *http.Client
	Interval time.Duration
	Observer Observer
}

// WaitUntilHealthy uses a zero-value Prober.
func WaitUntilHealthy(ctx context.Context, url string, timeout time.Duration) error {
	return (&Prober{}).WaitUntilHealthy(ctx, url, timeout)
}

// WaitUntilHealthy polls url until it answers 200 or timeout elapses. Poll
// failures are retried; only the deadline (or ctx) ends the wait.
func (p *Prober) WaitUntilHealthy(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(p.interval())
	timer.Stop()
	defer timer.Stop()

	var last error
	polls := 0
	for time.Now().Before(deadline) {
		polls++
		pollCtx, cancel := context.WithDeadline(ctx, deadline)
		last = p.Check(pollCtx, url)
		cancel()
		if last == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		timer.Reset(p.interval())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &HealthTimeoutError{URL: url, Timeout: timeout, Polls: polls, Last: last}
}

// Check performs a single poll. Any status other than 200 is an error.
func (p *Prober) Check(ctx context.Context, url string) error {
	start := time.Now()
	err := p.check(ctx, url)
	if p.Observer != nil {
		p.Observer.ObserveHealthPoll(err == nil, time.Since(start))
	}
	return err
}

func (p *Prober) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health responded with %s", resp.Status)
	}
	return nil
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: DefaultRequestTimeout}
}

func (p *Prober) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// IsTimeout reports whether err is a readiness timeout.
func IsTimeout(err error) bool {
	var timeoutErr *HealthTimeoutError
	return errors.As(err, &timeoutErr)
}
