// Package proxylistener binds a session's allocated public port and fans
// out accepted TCP connections as framed HostPacket/ClientPacket traffic,
// multiplexed by connection id over the owning session's outbound frame
// channel. It owns none of the bookkeeping itself — the session's
// connection table and id allocation are reached through Hooks so this
// package stays ignorant of authentication state or session lifecycle.
package proxylistener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/metrics"
)

const (
	readBufferSize         = 8 * 1024
	inboundChannelCapacity = 100
	minBackoff             = time.Millisecond
	maxBackoff             = 64 * time.Millisecond
)

// RemoteConn is one accepted public-side TCP connection, identified by the
// connectionId carried on every frame that references it.
type RemoteConn struct {
	ID      uint32
	Inbound chan []byte
	Close   func() error
}

// Hooks lets the listener observe connection lifecycle and emit frames
// without owning the session's connection table.
type Hooks struct {
	NextConnID func() uint32
	Register   func(*RemoteConn)
	Unregister func(id uint32)
	Outbound   chan<- frame.Frame
}

// Listener accepts connections on one bound public port and runs a
// reader/writer task pair per connection, gated by a per-session
// concurrency semaphore.
type Listener struct {
	ln    net.Listener
	sem   *semaphore.Weighted
	hooks Hooks
	log   *zap.Logger
}

// New wraps ln, admitting at most maxConnections live remote connections
// at once.
func New(ln net.Listener, maxConnections int, hooks Hooks) *Listener {
	return &Listener{
		ln:    ln,
		sem:   semaphore.NewWeighted(int64(maxConnections)),
		hooks: hooks,
		log:   logging.Named("proxylistener"),
	}
}

// Addr returns the bound listener address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections. In-flight connections drain via
// their own context cancellation.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Consecutive accept errors back off from 1ms to 64ms before
// retrying.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	backoff := minBackoff
	for {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		conn, err := l.ln.Accept()
		if err != nil {
			l.sem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			l.log.Warn("accept error, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = minBackoff

		id := l.hooks.NextConnID()
		rc := &RemoteConn{ID: id, Inbound: make(chan []byte, inboundChannelCapacity), Close: conn.Close}
		l.hooks.Register(rc)
		metrics.RemoteConnectionAccepted()

		select {
		case l.hooks.Outbound <- frame.SocketConnected{ConnectionID: id}:
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		}

		connCtx, cancel := context.WithCancel(ctx)
		go l.serveConn(connCtx, cancel, conn, rc)
	}
}

func (l *Listener) serveConn(ctx context.Context, cancel context.CancelFunc, conn net.Conn, rc *RemoteConn) {
	defer l.sem.Release(1)
	defer cancel()

	pairCtx, stopPair := context.WithCancel(ctx)
	defer stopPair()
	g, gctx := errgroup.WithContext(pairCtx)
	g.Go(func() error { defer stopPair(); return l.readLoop(gctx, conn, rc) })
	g.Go(func() error { defer stopPair(); return l.writeLoop(gctx, conn, rc) })
	g.Go(func() error { <-gctx.Done(); _ = conn.Close(); return nil })
	_ = g.Wait()

	_ = conn.Close()
	l.hooks.Unregister(rc.ID)
	metrics.RemoteConnectionClosed()

	select {
	case l.hooks.Outbound <- frame.SocketDisconnected{ConnectionID: rc.ID}:
	case <-ctx.Done():
	}
}

// readLoop is the single producer of HostPacket frames for rc.ID: bytes
// read from the public socket, in order, forwarded to the control writer.
func (l *Listener) readLoop(ctx context.Context, conn net.Conn, rc *RemoteConn) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			select {
			case l.hooks.Outbound <- frame.HostPacket{ConnectionID: rc.ID, Buffer: payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("proxylistener: read: %w", err)
		}
	}
}

// writeLoop drains ClientPacket payloads routed to rc.Inbound by the
// session and writes them to the public socket in the order received.
func (l *Listener) writeLoop(ctx context.Context, conn net.Conn, rc *RemoteConn) error {
	for {
		select {
		case buf, ok := <-rc.Inbound:
			if !ok {
				return nil
			}
			if _, err := conn.Write(buf); err != nil {
				return fmt.Errorf("proxylistener: write: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
