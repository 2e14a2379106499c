package cmdrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "CMDRUN_TEST_HELPER"

// TestMain turns the test binary into a configurable child process when the
// helper variable is set.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "echo":
		fmt.Fprintln(os.Stdout, "hello stdout")
		fmt.Fprintln(os.Stderr, "hello stderr")
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(os.Getenv("CMDRUN_TEST_CODE"))
		fmt.Fprintln(os.Stderr, "failing on purpose")
		os.Exit(code)
	case "sleep":
		fmt.Fprintln(os.Stdout, "started")
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "sleep-pid":
		fmt.Fprintln(os.Stdout, os.Getpid())
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "flood":
		chunk := make([]byte, 64*1024)
		for i := range chunk {
			chunk[i] = 'x'
		}
		for i := 0; i < 64; i++ {
			_, _ = os.Stdout.Write(chunk)
		}
		os.Exit(0)
	}
	os.Exit(3)
}

func helperRunner(mode string, extra ...string) *Runner {
	env := append(os.Environ(), helperEnv+"="+mode)
	env = append(env, extra...)
	return &Runner{Env: env}
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []Kind
}

func (o *recordingObserver) ObserveCommand(name string, kind Kind, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func TestRunSuccessCapturesBothStreams(t *testing.T) {
	obs := &recordingObserver{}
	r := helperRunner("echo")
	r.Observer = obs

	res := r.Run(context.Background(), os.Args[0])
	require.True(t, res.OK, "result: %+v", res)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Signaled)
	assert.Equal(t, KindSuccess, res.Kind)
	assert.Contains(t, res.Stdout, "hello stdout")
	assert.Contains(t, res.Stderr, "hello stderr")
	assert.NoError(t, res.Err())
	assert.Equal(t, []Kind{KindSuccess}, obs.kinds)
}

func TestRunNonZeroExit(t *testing.T) {
	r := helperRunner("exit", "CMDRUN_TEST_CODE=7")

	res := r.Run(context.Background(), os.Args[0])
	require.False(t, res.OK)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, KindExit, res.Kind)
	assert.False(t, res.Signaled)
	assert.Contains(t, res.Stderr, "failing on purpose")
	assert.EqualError(t, res.Err(), os.Args[0]+": exit status 7")
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	r := helperRunner("sleep")
	timeout := 300 * time.Millisecond

	start := time.Now()
	res := r.RunTimeout(context.Background(), timeout, os.Args[0])
	elapsed := time.Since(start)

	require.False(t, res.OK)
	assert.True(t, res.TimedOut())
	assert.Equal(t, "timeout", res.Error)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.Signaled, "a deadline kill is reported as a timeout, not a foreign signal")
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+3*time.Second)
	assert.True(t, errors.Is(res.Err(), ErrTimeout))
	assert.Contains(t, res.Stdout, "started")
}

func TestRunSpawnFailure(t *testing.T) {
	res := Run(context.Background(), "openprism-definitely-not-installed", "--version")
	require.False(t, res.OK)
	assert.Equal(t, KindSpawn, res.Kind)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Stdout)
}

func TestRunEmptyName(t *testing.T) {
	res := Run(context.Background(), "  ")
	assert.False(t, res.OK)
	assert.Equal(t, KindSpawn, res.Kind)
}

func TestRunParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res := helperRunner("sleep").RunTimeout(ctx, 10*time.Second, os.Args[0])
	require.False(t, res.OK)
	assert.Equal(t, KindCanceled, res.Kind)
}

func TestRunCapsOutput(t *testing.T) {
	r := helperRunner("flood")
	r.MaxOutput = 1024

	res := r.Run(context.Background(), os.Args[0])
	require.True(t, res.OK, "result: %+v", res)
	assert.Len(t, res.Stdout, 1024)
}

func TestResultInvariants(t *testing.T) {
	for _, mode := range []string{"echo", "exit", "sleep"} {
		r := helperRunner(mode, "CMDRUN_TEST_CODE=2")
		res := r.RunTimeout(context.Background(), 250*time.Millisecond, os.Args[0])
		if res.OK {
			assert.Equal(t, 0, res.ExitCode, mode)
			assert.False(t, res.Signaled, mode)
		}
	}
}
