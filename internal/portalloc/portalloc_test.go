package portalloc

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestReturnsBindablePort(t *testing.T) {
	port, err := Request()
	require.NoError(t, err)
	require.Greater(t, port, 0)

	ln, err := net.Listen("tcp", net.JoinHostPort(Host, strconv.Itoa(port)))
	require.NoError(t, err, "released port should be bindable again")
	require.NoError(t, ln.Close())
}

func TestReserveHoldsPort(t *testing.T) {
	res, err := Reserve()
	require.NoError(t, err)
	defer res.Release()

	_, err = net.Listen("tcp", res.Addr())
	assert.Error(t, err, "reserved port must stay bound")

	f, err := res.File()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, res.Release())
	require.NoError(t, res.Release())
	_, err = res.File()
	assert.Error(t, err)
}

func TestAllocationErrorUnwraps(t *testing.T) {
	cause := errors.New("no sockets")
	err := error(&AllocationError{Err: cause})
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "allocate port")
}
