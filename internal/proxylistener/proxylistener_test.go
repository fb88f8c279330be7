package proxylistener

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
)

type fakeTable struct {
	mu    sync.Mutex
	conns map[uint32]*RemoteConn
	next  uint32
}

func newFakeTable() *fakeTable {
	return &fakeTable{conns: make(map[uint32]*RemoteConn)}
}

func (t *fakeTable) nextID() uint32 {
	return atomic.AddUint32(&t.next, 1)
}

func (t *fakeTable) register(rc *RemoteConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[rc.ID] = rc
}

func (t *fakeTable) unregister(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

func (t *fakeTable) get(id uint32) (*RemoteConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.conns[id]
	return rc, ok
}

func (t *fakeTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func newTestListener(t *testing.T) (*Listener, *fakeTable, chan frame.Frame, net.Addr) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	table := newFakeTable()
	outbound := make(chan frame.Frame, 64)

	l := New(ln, 120, Hooks{
		NextConnID: table.nextID,
		Register:   table.register,
		Unregister: table.unregister,
		Outbound:   outbound,
	})

	return l, table, outbound, ln.Addr()
}

func TestListenerEmitsSocketConnectedAndDisconnected(t *testing.T) {
	l, table, outbound, addr := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Serve(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	connected := <-outbound
	sc, ok := connected.(frame.SocketConnected)
	require.True(t, ok)
	require.Equal(t, table.len(), 1)

	_ = conn.Close()

	disconnected := <-outbound
	sd, ok := disconnected.(frame.SocketDisconnected)
	require.True(t, ok)
	require.Equal(t, sc.ConnectionID, sd.ConnectionID)

	require.Eventually(t, func() bool { return table.len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestListenerForwardsSocketBytesAsHostPackets(t *testing.T) {
	l, _, outbound, addr := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Serve(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	connected := (<-outbound).(frame.SocketConnected)

	_, err = conn.Write([]byte("hello from public side"))
	require.NoError(t, err)

	hp := (<-outbound).(frame.HostPacket)
	require.Equal(t, connected.ConnectionID, hp.ConnectionID)
	require.Equal(t, "hello from public side", string(hp.Buffer))
}

func TestListenerWritesRoutedClientPacketsToSocket(t *testing.T) {
	l, table, outbound, addr := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Serve(ctx) }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	connected := (<-outbound).(frame.SocketConnected)

	rc, ok := table.get(connected.ConnectionID)
	require.True(t, ok)
	rc.Inbound <- []byte("routed to target")

	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "routed to target", string(buf[:n]))
}
