package portalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorReserveWithinRange(t *testing.T) {
	a := New(20000, 20010)

	for i := 0; i < 10; i++ {
		port, err := a.Reserve()
		require.NoError(t, err)
		require.GreaterOrEqual(t, port, uint16(20000))
		require.Less(t, port, uint16(20010))
	}

	require.Equal(t, 10, a.InUse())
}

func TestAllocatorReserveNeverDuplicates(t *testing.T) {
	a := New(30000, 30050)

	seen := make(map[uint16]bool)
	for i := 0; i < 50; i++ {
		port, err := a.Reserve()
		require.NoError(t, err)
		require.False(t, seen[port], "port %d reserved twice", port)
		seen[port] = true
	}
}

func TestAllocatorExhaustionReturnsError(t *testing.T) {
	a := New(40000, 40002)

	_, err := a.Reserve()
	require.NoError(t, err)
	_, err = a.Reserve()
	require.NoError(t, err)

	_, err = a.Reserve()
	require.ErrorIs(t, err, ErrRangeExhausted)
}

func TestAllocatorReleaseFreesPort(t *testing.T) {
	a := New(50000, 50001)

	port, err := a.Reserve()
	require.NoError(t, err)

	_, err = a.Reserve()
	require.ErrorIs(t, err, ErrRangeExhausted)

	a.Release(port)
	again, err := a.Reserve()
	require.NoError(t, err)
	require.Equal(t, port, again)
}
