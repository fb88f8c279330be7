// Package portalloc hands out public-facing TCP ports from a fixed range
// to sessions completing the ClientConnected handshake, and reclaims them
// when a session ends.
package portalloc

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrRangeExhausted is returned by Reserve when every port in the
// configured range is already in use.
var ErrRangeExhausted = fmt.Errorf("portalloc: no ports available in range")

// Allocator reserves ports from [Min, Max) at random, retrying on
// collision, matching the original allocator's random-probe strategy
// rather than a sequential scan.
type Allocator struct {
	min, max uint16

	mu   sync.Mutex
	used map[uint16]struct{}
}

// New returns an Allocator over the half-open range [min, max).
func New(min, max uint16) *Allocator {
	return &Allocator{
		min:  min,
		max:  max,
		used: make(map[uint16]struct{}),
	}
}

// Reserve picks a random free port in the configured range and marks it
// used, drawing a new random candidate after each collision. When every
// port in the range is in use it returns ErrRangeExhausted after as many
// draws as the range has ports; otherwise it returns ErrRangeExhausted
// only after more than four times that many colliding draws. It does not
// stop after a number of collisions equal to the count of used ports.
func (a *Allocator) Reserve() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := int(a.max) - int(a.min)
	if span <= 0 {
		return 0, ErrRangeExhausted
	}

	tries := 0
	for {
		candidate := a.min + uint16(rand.Intn(span))
		if _, taken := a.used[candidate]; !taken {
			a.used[candidate] = struct{}{}
			return candidate, nil
		}

		tries++
		if tries >= len(a.used) && len(a.used) >= span {
			return 0, ErrRangeExhausted
		}
		if tries > span*4 {
			return 0, ErrRangeExhausted
		}
	}
}

// Release returns port to the pool.
func (a *Allocator) Release(port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}

// InUse reports how many ports are currently reserved.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Listen binds a TCP listener on port at the given host, enabling
// SO_REUSEADDR on the backing socket so a recently released public port can
// be rebound immediately instead of sitting in TIME_WAIT.
func Listen(ctx context.Context, host string, port uint16) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("portalloc: listen on port %d: %w", port, err)
	}
	return ln, nil
}
