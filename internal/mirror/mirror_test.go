package mirror

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/transport"
)

func newTestTarget(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestMirrorSendsClientConnectedOnRun(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	target := newTestTarget(t)
	m := New(clientConn, Config{TargetAddr: target.Addr().String(), PingInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	r := transport.NewReader(serverConn)
	got, err := r.Next()
	require.NoError(t, err)
	require.IsType(t, frame.ClientConnected{}, got)
}

func TestMirrorDialsTargetOnSocketConnected(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	target := newTestTarget(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := target.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	m := New(clientConn, Config{TargetAddr: target.Addr().String(), PingInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	r := transport.NewReader(serverConn)
	_, err := r.Next()
	require.NoError(t, err)

	w := transport.NewWriter(serverConn)
	require.NoError(t, w.Send(frame.SocketConnected{ConnectionID: 7}))

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(time.Second):
		t.Fatal("mirror did not dial target")
	}
}

func TestMirrorRoutesHostPacketToTarget(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	target := newTestTarget(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := target.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	m := New(clientConn, Config{TargetAddr: target.Addr().String(), PingInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	r := transport.NewReader(serverConn)
	_, err := r.Next()
	require.NoError(t, err)

	w := transport.NewWriter(serverConn)
	require.NoError(t, w.Send(frame.SocketConnected{ConnectionID: 9}))

	var targetConn net.Conn
	select {
	case targetConn = <-accepted:
		defer targetConn.Close()
	case <-time.After(time.Second):
		t.Fatal("mirror did not dial target")
	}

	require.NoError(t, w.Send(frame.HostPacket{ConnectionID: 9, Buffer: []byte("to target")}))

	buf := make([]byte, 32)
	_ = targetConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := targetConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "to target", string(buf[:n]))
}
