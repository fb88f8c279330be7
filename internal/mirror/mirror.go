// Package mirror is the client-side counterpart to internal/session: it
// dials the private target whenever the server announces a new public
// connection, and bridges bytes between that local socket and the framed
// control connection.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/liveness"
	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/transport"
)

const (
	readBufferSize         = 8 * 1024
	inboundChannelCapacity = 100
	pingTimerKey           = liveness.Key(1)
	livenessFactor         = 3
)

// Config tunes the mirror's liveness behavior.
type Config struct {
	TargetAddr   string
	PingInterval time.Duration
}

// localConn is one dialed connection to the private target, multiplexed
// by the connection id the server assigned.
type localConn struct {
	id      uint32
	inbound chan []byte
	close   func() error
}

// Mirror owns the control connection on the client side: it dispatches
// inbound control frames and manages the dialed connections to the
// private target.
type Mirror struct {
	cfg Config
	r   *transport.Reader
	w   *transport.Writer
	log *zap.Logger

	mu    sync.Mutex
	conns map[uint32]*localConn

	timers *liveness.Manager

	lastPongMu sync.Mutex
	lastPong   time.Time

	publicPort uint16
}

// New wraps conn, dialing TargetAddr for every SocketConnected the server
// sends.
func New(conn net.Conn, cfg Config) *Mirror {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Mirror{
		cfg:    cfg,
		r:      transport.NewReader(conn),
		w:      transport.NewWriter(conn),
		log:    logging.Named("mirror"),
		conns:  make(map[uint32]*localConn),
		timers: liveness.NewManager(),
	}
}

// PublicPort returns the port the server advertised in ClientConnectedAck,
// or 0 before the handshake completes.
func (m *Mirror) PublicPort() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publicPort
}

// Run performs the handshake and then dispatches frames until the control
// connection closes, ctx is cancelled, or liveness is lost.
func (m *Mirror) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.timers.Stop()

	if err := m.w.Send(frame.ClientConnected{}); err != nil {
		return fmt.Errorf("mirror: send ClientConnected: %w", err)
	}

	m.lastPongMu.Lock()
	m.lastPong = time.Now()
	m.lastPongMu.Unlock()

	m.timers.SchedulePeriodic(pingTimerKey, m.cfg.PingInterval, func() {
		if err := m.w.Send(frame.Ping{}); err != nil {
			m.log.Warn("failed to send ping", zap.Error(err))
			return
		}

		m.lastPongMu.Lock()
		last := m.lastPong
		m.lastPongMu.Unlock()

		if time.Since(last) > livenessFactor*m.cfg.PingInterval {
			m.log.Error("control connection liveness lost, cancelling session")
			cancel()
		}
	})

	for {
		f, err := m.r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := m.dispatch(ctx, f); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (m *Mirror) dispatch(ctx context.Context, f frame.Frame) error {
	switch v := f.(type) {
	case frame.ClientConnectedAck:
		m.mu.Lock()
		m.publicPort = v.Port
		m.mu.Unlock()
		m.log.Info("public port assigned", zap.Uint16("port", v.Port))
		return nil

	case frame.AuthenticateAck:
		m.log.Info("authenticated", zap.String("account_id", v.AccountID))
		return nil

	case frame.Pong:
		m.lastPongMu.Lock()
		m.lastPong = time.Now()
		m.lastPongMu.Unlock()
		return nil

	case frame.Ping:
		return m.send(frame.Pong{TimestampMs: time.Now().UnixMilli()})

	case frame.SocketConnected:
		return m.onSocketConnected(ctx, v)

	case frame.HostPacket:
		return m.onHostPacket(v)

	case frame.SocketDisconnected:
		m.onSocketDisconnected(v.ConnectionID)
		return nil

	case frame.ErrorFrame:
		m.log.Warn("server reported error", zap.Stringer("reason", v.Reason), zap.ByteString("data", v.Data))
		return nil

	default:
		m.log.Warn("ignoring unhandled frame", zap.String("kind", f.Kind().String()))
		return nil
	}
}

func (m *Mirror) onSocketConnected(ctx context.Context, f frame.SocketConnected) error {
	target, err := net.Dial("tcp", m.cfg.TargetAddr)
	if err != nil {
		m.log.Warn("failed to dial private target", zap.Error(err), zap.Uint32("connection_id", f.ConnectionID))
		return m.send(frame.ErrorFrame{Reason: frame.ReasonClientUnableToConnect, Data: []byte(err.Error())})
	}

	lc := &localConn{id: f.ConnectionID, inbound: make(chan []byte, inboundChannelCapacity), close: target.Close}

	m.mu.Lock()
	m.conns[f.ConnectionID] = lc
	m.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	go m.serveLocalConn(connCtx, cancel, target, lc)
	return nil
}

func (m *Mirror) serveLocalConn(ctx context.Context, cancel context.CancelFunc, conn net.Conn, lc *localConn) {
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.readLoop(gctx, conn, lc) })
	g.Go(func() error { return m.writeLoop(gctx, conn, lc) })
	_ = g.Wait()

	_ = conn.Close()

	m.mu.Lock()
	delete(m.conns, lc.id)
	m.mu.Unlock()

	_ = m.send(frame.SocketDisconnected{ConnectionID: lc.id})
}

func (m *Mirror) readLoop(ctx context.Context, conn net.Conn, lc *localConn) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if sendErr := m.send(frame.ClientPacket{ConnectionID: lc.id, Buffer: payload}); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mirror: read target: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (m *Mirror) writeLoop(ctx context.Context, conn net.Conn, lc *localConn) error {
	for {
		select {
		case buf, ok := <-lc.inbound:
			if !ok {
				return nil
			}
			if _, err := conn.Write(buf); err != nil {
				return fmt.Errorf("mirror: write target: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Mirror) onHostPacket(f frame.HostPacket) error {
	m.mu.Lock()
	lc, ok := m.conns[f.ConnectionID]
	m.mu.Unlock()

	if !ok {
		m.log.Debug("dropping host packet for unknown connection", zap.Uint32("connection_id", f.ConnectionID))
		return nil
	}

	lc.inbound <- f.Buffer
	return nil
}

func (m *Mirror) onSocketDisconnected(id uint32) {
	m.mu.Lock()
	lc, ok := m.conns[id]
	m.mu.Unlock()

	if ok && lc.close != nil {
		_ = lc.close()
	}
}

func (m *Mirror) send(f frame.Frame) error {
	return m.w.Send(f)
}
