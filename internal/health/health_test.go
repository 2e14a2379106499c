package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyServer fails the first k requests with 503 and answers 200 afterwards.
func flakyServer(t *testing.T, k int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= k {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type countingObserver struct {
	healthy, unhealthy atomic.Int32
}

func (o *countingObserver) ObserveHealthPoll(healthy bool, d time.Duration) {
	if healthy {
		o.healthy.Add(1)
		return
	}
	o.unhealthy.Add(1)
}

func TestWaitUntilHealthyImmediate(t *testing.T) {
	srv, hits := flakyServer(t, 0)
	require.NoError(t, WaitUntilHealthy(context.Background(), srv.URL, time.Second))
	assert.Equal(t, int32(1), hits.Load())
}

func TestWaitUntilHealthyRetriesUntilSuccess(t *testing.T) {
	srv, hits := flakyServer(t, 3)
	obs := &countingObserver{}
	p := &Prober{Observer: obs}

	start := time.Now()
	require.NoError(t, p.WaitUntilHealthy(context.Background(), srv.URL, 5*time.Second))
	elapsed := time.Since(start)

	assert.Equal(t, int32(4), hits.Load())
	assert.GreaterOrEqual(t, elapsed, 3*DefaultInterval)
	assert.Equal(t, int32(3), obs.unhealthy.Load())
	assert.Equal(t, int32(1), obs.healthy.Load())
}

func TestWaitUntilHealthyTimesOutWhenFailuresOutlastDeadline(t *testing.T) {
	// K * 300ms >= timeout: the success poll can never happen in time.
	srv, _ := flakyServer(t, 4)

	err := WaitUntilHealthy(context.Background(), srv.URL, 900*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *HealthTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, srv.URL, timeoutErr.URL)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "503")
}

func TestWaitUntilHealthyConnectionRefusedIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	start := time.Now()
	err := WaitUntilHealthy(context.Background(), url, 700*time.Millisecond)
	require.True(t, IsTimeout(err), "unexpected error: %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond)
}

func TestWaitUntilHealthyNon200IsNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := WaitUntilHealthy(context.Background(), srv.URL, 400*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestWaitUntilHealthyHonoursContext(t *testing.T) {
	srv, _ := flakyServer(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := WaitUntilHealthy(ctx, srv.URL, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTimeout(err))
}

func TestCheckSinglePoll(t *testing.T) {
	srv, _ := flakyServer(t, 1)
	p := &Prober{}
	assert.Error(t, p.Check(context.Background(), srv.URL))
	assert.NoError(t, p.Check(context.Background(), srv.URL))
}
