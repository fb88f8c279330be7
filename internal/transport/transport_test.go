package transport

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestWriterSendReaderNext(t *testing.T) {
	client, server := pipe(t)
	w := NewWriter(client)
	r := NewReader(server)

	want := frame.HostPacket{ConnectionID: 11, Buffer: []byte("payload bytes")}

	go func() {
		require.NoError(t, w.Send(want))
	}()

	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReaderNextSpansMultipleReads(t *testing.T) {
	client, server := pipe(t)
	r := NewReader(server)

	encoded := frame.Encode(frame.Authenticate{Grant: frame.GrantToken, Token: "abc.def.ghi"})

	go func() {
		for _, b := range encoded {
			_, _ = client.Write([]byte{b})
		}
	}()

	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, frame.Authenticate{Grant: frame.GrantToken, Token: "abc.def.ghi"}, got)
}

func TestReaderNextReturnsEOFOnCleanClose(t *testing.T) {
	client, server := pipe(t)
	r := NewReader(server)

	_ = client.Close()

	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderNextReturnsResetOnPartialFrame(t *testing.T) {
	client, server := pipe(t)
	r := NewReader(server)

	done := make(chan struct{})
	go func() {
		_, _ = client.Write([]byte{byte(frame.KindSocketConnected), 0x00})
		_ = client.Close()
		close(done)
	}()

	_, err := r.Next()
	<-done
	require.ErrorIs(t, err, ErrConnectionReset)
}

func TestReaderNextDispatchesMultipleFramesInOrder(t *testing.T) {
	client, server := pipe(t)
	w := NewWriter(client)
	r := NewReader(server)

	frames := []frame.Frame{
		frame.Ping{},
		frame.SocketConnected{ConnectionID: 1},
		frame.HostPacket{ConnectionID: 1, Buffer: []byte("a")},
	}

	go func() {
		for _, f := range frames {
			require.NoError(t, w.Send(f))
		}
	}()

	for _, want := range frames {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
