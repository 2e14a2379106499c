//go:build !windows

package main

import (
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprism/desktop/internal/config"
)

func TestListenAdoptsInheritedSocket(t *testing.T) {
	parent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer parent.Close()
	f, err := parent.(*net.TCPListener).File()
	require.NoError(t, err)
	fd, err := syscall.Dup(int(f.Fd()))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ln, err := listen(config.BackendConfig{ListenFD: fd})
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, parent.Addr().String(), ln.Addr().String())
}
