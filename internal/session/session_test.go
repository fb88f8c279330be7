package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth/jwtcodec"
	"github.com/M4urici0GM/tcproxy-sub000/internal/auth/memstore"
	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/portalloc"
	"github.com/M4urici0GM/tcproxy-sub000/internal/transport"
)

func newTestSession(t *testing.T) (net.Conn, *Session, context.CancelFunc) {
	t.Helper()

	users := memstore.New()
	require.NoError(t, users.AddUser("acct-1", "alice@example.com", "hunter2"))
	tokens := jwtcodec.New([]byte("test-secret"))
	alloc := portalloc.New(21000, 21100)

	serverConn, clientConn := net.Pipe()

	sess := New("test", serverConn, Config{
		PublicHost:             "127.0.0.1",
		PortMin:                21000,
		PortMax:                21100,
		MaxConnectionsPerProxy: 10,
	}, Deps{Allocator: alloc, Users: users, Tokens: tokens})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = clientConn.Close()
	})

	return clientConn, sess, cancel
}

func TestSessionHandshakeAndAuthenticate(t *testing.T) {
	clientConn, _, _ := newTestSession(t)

	w := transport.NewWriter(clientConn)
	r := transport.NewReader(clientConn)

	require.NoError(t, w.Send(frame.ClientConnected{}))

	got, err := r.Next()
	require.NoError(t, err)
	ack, ok := got.(frame.ClientConnectedAck)
	require.True(t, ok)
	require.GreaterOrEqual(t, ack.Port, uint16(21000))
	require.Less(t, ack.Port, uint16(21100))

	require.NoError(t, w.Send(frame.Authenticate{
		Grant:    frame.GrantPassword,
		User:     "alice@example.com",
		Password: "hunter2",
	}))

	got, err = r.Next()
	require.NoError(t, err)
	authAck, ok := got.(frame.AuthenticateAck)
	require.True(t, ok)
	require.Equal(t, "acct-1", authAck.AccountID)
	require.True(t, authAck.HasToken)
}

func TestSessionRejectsBadPassword(t *testing.T) {
	clientConn, _, _ := newTestSession(t)

	w := transport.NewWriter(clientConn)
	r := transport.NewReader(clientConn)

	require.NoError(t, w.Send(frame.ClientConnected{}))
	_, err := r.Next()
	require.NoError(t, err)

	require.NoError(t, w.Send(frame.Authenticate{
		Grant:    frame.GrantPassword,
		User:     "alice@example.com",
		Password: "wrong",
	}))

	got, err := r.Next()
	require.NoError(t, err)
	errFrame, ok := got.(frame.ErrorFrame)
	require.True(t, ok)
	require.Equal(t, frame.ReasonAuthenticationFailed, errFrame.Reason)
}

func TestSessionPingPong(t *testing.T) {
	clientConn, _, _ := newTestSession(t)

	w := transport.NewWriter(clientConn)
	r := transport.NewReader(clientConn)

	require.NoError(t, w.Send(frame.ClientConnected{}))
	_, err := r.Next()
	require.NoError(t, err)

	require.NoError(t, w.Send(frame.Authenticate{Grant: frame.GrantPassword, User: "alice@example.com", Password: "hunter2"}))
	_, err = r.Next()
	require.NoError(t, err)

	require.NoError(t, w.Send(frame.Ping{}))

	got, err := r.Next()
	require.NoError(t, err)
	pong, ok := got.(frame.Pong)
	require.True(t, ok)
	require.WithinDuration(t, time.Now(), time.UnixMilli(pong.TimestampMs), 2*time.Second)
}

func TestSessionRejectsReauthenticateWhenAlreadyAuthenticated(t *testing.T) {
	clientConn, _, _ := newTestSession(t)

	w := transport.NewWriter(clientConn)
	r := transport.NewReader(clientConn)

	require.NoError(t, w.Send(frame.ClientConnected{}))
	_, err := r.Next()
	require.NoError(t, err)

	require.NoError(t, w.Send(frame.Authenticate{Grant: frame.GrantPassword, User: "alice@example.com", Password: "hunter2"}))
	got, err := r.Next()
	require.NoError(t, err)
	_, ok := got.(frame.AuthenticateAck)
	require.True(t, ok)

	require.NoError(t, w.Send(frame.Authenticate{Grant: frame.GrantPassword, User: "alice@example.com", Password: "hunter2"}))
	got, err = r.Next()
	require.NoError(t, err)
	errFrame, ok := got.(frame.ErrorFrame)
	require.True(t, ok)
	require.Equal(t, frame.ReasonAlreadyAuthenticated, errFrame.Reason)

	require.NoError(t, w.Send(frame.Ping{}))
	got, err = r.Next()
	require.NoError(t, err)
	_, ok = got.(frame.Pong)
	require.True(t, ok)
}

func TestSessionRejectsOutOfOrderFrame(t *testing.T) {
	clientConn, _, _ := newTestSession(t)

	w := transport.NewWriter(clientConn)
	r := transport.NewReader(clientConn)

	require.NoError(t, w.Send(frame.Ping{}))

	got, err := r.Next()
	require.NoError(t, err)
	errFrame, ok := got.(frame.ErrorFrame)
	require.True(t, ok)
	require.Equal(t, frame.ReasonUnexpectedError, errFrame.Reason)
}
