// Package session implements the server-side per-client state machine: the
// handshake that reserves a public port, the authentication grant
// exchange, and dispatch of inbound frames once the session is serving
// traffic. One Session is created per accepted control connection.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth"
	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/metrics"
	"github.com/M4urici0GM/tcproxy-sub000/internal/portalloc"
	"github.com/M4urici0GM/tcproxy-sub000/internal/proxylistener"
	"github.com/M4urici0GM/tcproxy-sub000/internal/tcperror"
	"github.com/M4urici0GM/tcproxy-sub000/internal/transport"
)

// State is the session's position in the handshake → authenticate →
// serving lifecycle.
type State int

const (
	StateGreeted State = iota
	StateAuthenticating
	StateServing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateGreeted:
		return "greeted"
	case StateAuthenticating:
		return "authenticating"
	case StateServing:
		return "serving"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	outboundChannelCapacity = 256
	maxAuthFailures         = 3
	tokenTTL                = 2 * time.Hour
	tokenIssuer             = "tcproxy"
	tokenAudience           = "tcproxy"
)

// Config carries the per-session tunables that come from server-wide
// configuration rather than from the wire.
type Config struct {
	PublicHost             string
	PortMin, PortMax       uint16
	MaxConnectionsPerProxy int
}

// Deps are the collaborators a Session needs but does not own: the
// process-wide port allocator and the pluggable authentication
// abstractions.
type Deps struct {
	Allocator *portalloc.Allocator
	Users     auth.UserLookup
	Tokens    auth.TokenCodec
}

// Session is the server-side aggregate state for one control connection.
type Session struct {
	id   string
	conn net.Conn
	r    *transport.Reader
	w    *transport.Writer
	out  chan frame.Frame

	cfg  Config
	deps Deps
	log  *zap.Logger

	stateMu      sync.Mutex
	state        State
	principal    *auth.Account
	authFailures int

	connMu sync.Mutex
	conns  map[uint32]*proxylistener.RemoteConn
	nextID uint32

	port     uint16
	listener *proxylistener.Listener
	group    *errgroup.Group
}

// New wraps an accepted control connection. id is used only for logging.
func New(id string, conn net.Conn, cfg Config, deps Deps) *Session {
	return &Session{
		id:    id,
		conn:  conn,
		r:     transport.NewReader(conn),
		w:     transport.NewWriter(conn),
		out:   make(chan frame.Frame, outboundChannelCapacity),
		cfg:   cfg,
		deps:  deps,
		log:   logging.Named("session").With(zap.String("session_id", id)),
		conns: make(map[uint32]*proxylistener.RemoteConn),
	}
}

// Run drives the session until the control connection closes, a protocol
// violation occurs, or ctx is cancelled. It always tears down the proxy
// listener and releases the reserved port before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.teardown()

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		err := s.readLoop(gctx)
		if err == nil {
			cancel()
		}
		return err
	})

	err := g.Wait()

	s.stateMu.Lock()
	s.state = StateClosing
	s.stateMu.Unlock()

	if err != nil && err != context.Canceled {
		s.log.Info("session ending", zap.Error(err))
	}
	return err
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case f, ok := <-s.out:
			if !ok {
				return nil
			}
			if err := s.w.Send(f); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		f, err := s.r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := s.dispatch(ctx, f); err != nil {
			return err
		}
	}
}

// dispatch routes an inbound frame by current state, matching on the
// frame's concrete type rather than a handler registry: the set of frames
// is small and closed, so exhaustiveness is worth more than
// extensibility here.
func (s *Session) dispatch(ctx context.Context, f frame.Frame) error {
	s.stateMu.Lock()
	state := s.state
	s.stateMu.Unlock()

	switch state {
	case StateGreeted:
		switch f.(type) {
		case frame.ClientConnected:
			return s.onClientConnected(ctx)
		default:
			return s.protocolError(ctx, fmt.Sprintf("unexpected %s before handshake", f.Kind()))
		}

	case StateAuthenticating:
		switch v := f.(type) {
		case frame.Authenticate:
			return s.onAuthenticate(ctx, v)
		case frame.Ping:
			return s.onPing(ctx)
		default:
			return s.protocolError(ctx, fmt.Sprintf("unexpected %s before authentication", f.Kind()))
		}

	case StateServing:
		switch v := f.(type) {
		case frame.Ping:
			return s.onPing(ctx)
		case frame.Authenticate:
			return s.onAuthenticate(ctx, v)
		case frame.ClientPacket:
			return s.onClientPacket(ctx, v)
		case frame.SocketDisconnected:
			return s.onSocketDisconnected(v)
		default:
			s.log.Warn("ignoring out-of-state frame", zap.String("kind", f.Kind().String()))
			return nil
		}

	default:
		return nil
	}
}

func (s *Session) onClientConnected(ctx context.Context) error {
	port, err := s.deps.Allocator.Reserve()
	if err != nil {
		return s.sendErrorAndClose(ctx, tcperror.New(frame.ReasonPortLimitReached, err))
	}

	ln, err := portalloc.Listen(ctx, s.cfg.PublicHost, port)
	if err != nil {
		s.deps.Allocator.Release(port)
		return s.sendErrorAndClose(ctx, tcperror.New(frame.ReasonFailedToCreateProxy, err))
	}

	s.port = port
	s.listener = proxylistener.New(ln, s.cfg.MaxConnectionsPerProxy, proxylistener.Hooks{
		NextConnID: s.nextConnID,
		Register:   s.registerConn,
		Unregister: s.unregisterConn,
		Outbound:   s.out,
	})

	s.stateMu.Lock()
	s.state = StateAuthenticating
	s.stateMu.Unlock()

	s.log.Info("public port reserved", zap.Uint16("port", port))
	return s.sendFrame(ctx, frame.ClientConnectedAck{Port: port})
}

func (s *Session) onAuthenticate(ctx context.Context, f frame.Authenticate) error {
	s.stateMu.Lock()
	alreadyAuthenticated := s.principal != nil
	s.stateMu.Unlock()

	if alreadyAuthenticated {
		s.log.Debug("rejecting authenticate, session already authenticated")
		return s.sendFrame(ctx, tcperror.ToFrame(tcperror.New(frame.ReasonAlreadyAuthenticated, nil)))
	}

	acc, err := s.authenticate(ctx, f)
	if err != nil {
		s.stateMu.Lock()
		s.authFailures++
		failures := s.authFailures
		s.stateMu.Unlock()

		metrics.AuthFailure()
		s.log.Warn("authentication failed", zap.Error(err), zap.Int("failures", failures))
		if sendErr := s.sendFrame(ctx, tcperror.ToFrame(tcperror.New(frame.ReasonAuthenticationFailed, err))); sendErr != nil {
			return sendErr
		}
		if failures >= maxAuthFailures {
			return fmt.Errorf("session: too many authentication failures")
		}
		return nil
	}

	s.stateMu.Lock()
	s.principal = &acc
	s.authFailures = 0
	alreadyServing := s.state == StateServing
	s.state = StateServing
	s.stateMu.Unlock()

	ack := frame.AuthenticateAck{AccountID: acc.ID, Email: acc.Email}
	if f.Grant == frame.GrantPassword {
		token, err := s.mintToken(acc)
		if err != nil {
			return fmt.Errorf("session: mint token: %w", err)
		}
		ack.Token = token
		ack.HasToken = true
	}
	if err := s.sendFrame(ctx, ack); err != nil {
		return err
	}

	if alreadyServing {
		return nil
	}

	s.group.Go(func() error { return s.listener.Serve(ctx) })
	return nil
}

func (s *Session) authenticate(ctx context.Context, f frame.Authenticate) (auth.Account, error) {
	switch f.Grant {
	case frame.GrantPassword:
		otp := ""
		if f.HasOTP {
			otp = f.OTP
		}
		return s.deps.Users.Verify(ctx, f.User, f.Password, otp)

	case frame.GrantToken:
		claims, err := s.deps.Tokens.Decode(f.Token)
		if err != nil {
			return auth.Account{}, err
		}
		return auth.Account{ID: claims.Subject}, nil

	default:
		return auth.Account{}, fmt.Errorf("session: unknown grant type %v", f.Grant)
	}
}

func (s *Session) mintToken(acc auth.Account) (string, error) {
	now := time.Now()
	return s.deps.Tokens.Encode(auth.Claims{
		Subject:   acc.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(tokenTTL),
		Issuer:    tokenIssuer,
		Audience:  tokenAudience,
	})
}

func (s *Session) onPing(ctx context.Context) error {
	return s.sendFrame(ctx, frame.Pong{TimestampMs: time.Now().UnixMilli()})
}

func (s *Session) onClientPacket(ctx context.Context, f frame.ClientPacket) error {
	s.connMu.Lock()
	rc, ok := s.conns[f.ConnectionID]
	s.connMu.Unlock()

	if !ok {
		s.log.Debug("dropping packet for unknown connection", zap.Uint32("connection_id", f.ConnectionID))
		return nil
	}

	select {
	case rc.Inbound <- f.Buffer:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onSocketDisconnected(f frame.SocketDisconnected) error {
	s.connMu.Lock()
	rc, ok := s.conns[f.ConnectionID]
	s.connMu.Unlock()

	if ok && rc.Close != nil {
		_ = rc.Close()
	}
	return nil
}

func (s *Session) nextConnID() uint32 {
	return atomic.AddUint32(&s.nextID, 1)
}

func (s *Session) registerConn(rc *proxylistener.RemoteConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[rc.ID] = rc
}

func (s *Session) unregisterConn(id uint32) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, id)
}

// LiveConnections reports the number of remote connections currently
// registered.
func (s *Session) LiveConnections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

func (s *Session) sendFrame(ctx context.Context, f frame.Frame) error {
	select {
	case s.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) protocolError(ctx context.Context, reason string) error {
	_ = s.sendFrame(ctx, frame.ErrorFrame{Reason: frame.ReasonUnexpectedError, Data: []byte(reason)})
	return fmt.Errorf("session: protocol error: %s", reason)
}

func (s *Session) sendErrorAndClose(ctx context.Context, werr *tcperror.WireError) error {
	_ = s.sendFrame(ctx, tcperror.ToFrame(werr))
	return werr
}

func (s *Session) teardown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.port != 0 {
		s.deps.Allocator.Release(s.port)
	}
}
