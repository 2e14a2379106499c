//go:build !windows

package cmdrun

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTimeoutLeavesNoProcessBehind(t *testing.T) {
	r := helperRunner("sleep-pid")

	res := r.RunTimeout(context.Background(), 300*time.Millisecond, os.Args[0])
	require.True(t, res.TimedOut(), "result: %+v", res)

	pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	require.NoError(t, err, "stdout: %q", res.Stdout)
	require.Greater(t, pid, 0)

	err = syscall.Kill(pid, 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "pid %d still exists: %v", pid, err)
}
