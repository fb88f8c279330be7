// Package mgmtapi is the thin management HTTP surface the external spec
// excludes in full but still names as a CLI-wired concern: a /healthz
// liveness probe and a /metrics endpoint serving the counters registered
// in internal/metrics, on a side address separate from the control
// connection listener.
package mgmtapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server serves /healthz and /metrics on a dedicated address.
type Server struct {
	addr    string
	srv     *http.Server
	handler http.Handler
	log     *zap.Logger
}

// New returns a Server bound to addr. addr may be empty, in which case
// Run is a no-op (the management surface is disabled).
func New(addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, handler: mux, log: logging.Named("mgmtapi")}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w)
	})

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the underlying http.Handler, for tests that want to
// exercise routing without binding a real socket.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled. It returns nil immediately if addr
// was empty.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	s.log.Info("management API listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
