// Package transport turns a net.Conn into a framed stream of
// internal/frame values: a Reader that accumulates bytes until a full frame
// is available, and a Writer that serializes and flushes one frame at a
// time.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/metrics"
)

const initialBufferSize = 8 * 1024

// ErrConnectionReset is returned by Reader.Next when the peer closes the
// socket mid-frame: enough bytes arrived to start a frame but not enough to
// complete it. A clean shutdown (EOF with an empty buffer) instead returns
// io.EOF.
var ErrConnectionReset = errors.New("transport: connection reset by peer")

// Reader accumulates bytes read from a net.Conn and yields one frame.Frame
// at a time.
type Reader struct {
	conn net.Conn
	buf  []byte
}

// NewReader wraps conn for framed reads, starting with an 8 KiB buffer that
// grows as needed.
func NewReader(conn net.Conn) *Reader {
	return &Reader{conn: conn, buf: make([]byte, 0, initialBufferSize)}
}

// Next blocks until a full frame is available, the peer closes the
// connection, or a read error occurs. It returns io.EOF once the socket
// closes cleanly with no partial frame pending, and ErrConnectionReset if
// the socket closes with a partial frame buffered.
func (r *Reader) Next() (frame.Frame, error) {
	for {
		if f, consumed, err := r.tryParse(); err != nil {
			return nil, err
		} else if f != nil {
			r.buf = r.buf[consumed:]
			return f, nil
		}

		if len(r.buf) == cap(r.buf) {
			grown := make([]byte, len(r.buf), cap(r.buf)*2)
			copy(grown, r.buf)
			r.buf = grown
		}

		n, err := r.conn.Read(r.buf[len(r.buf):cap(r.buf)])
		if n > 0 {
			r.buf = r.buf[:len(r.buf)+n]
			continue
		}

		if err == nil || errors.Is(err, io.EOF) {
			if len(r.buf) == 0 {
				return nil, io.EOF
			}
			return nil, ErrConnectionReset
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}
}

func (r *Reader) tryParse() (frame.Frame, int, error) {
	c := frame.NewCursor(r.buf)
	err := frame.Check(c)
	switch {
	case err == nil:
		consumed := c.Position()
		c.SetPosition(0)
		f, parseErr := frame.Parse(c)
		if parseErr != nil {
			return nil, 0, fmt.Errorf("transport: parse: %w", parseErr)
		}
		metrics.FrameDecoded()
		return f, consumed, nil
	case errors.Is(err, frame.ErrIncomplete):
		return nil, 0, nil
	default:
		return nil, 0, fmt.Errorf("transport: malformed frame: %w", err)
	}
}

// Writer serializes and writes frame.Frame values to a net.Conn, one frame
// per Send call.
type Writer struct {
	conn net.Conn
}

// NewWriter wraps conn for framed writes.
func NewWriter(conn net.Conn) *Writer {
	return &Writer{conn: conn}
}

// Send encodes f and writes it in full, returning any write error.
func (w *Writer) Send(f frame.Frame) error {
	buf := frame.Encode(f)
	if _, err := w.conn.Write(buf); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	metrics.FrameEncoded()
	return nil
}
