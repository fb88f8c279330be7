// Command tcproxy-server is the rendezvous server: it accepts control
// connections, runs one internal/session.Session per client, and serves
// the thin management HTTP surface (internal/mgmtapi) alongside it.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth/jwtcodec"
	"github.com/M4urici0GM/tcproxy-sub000/internal/auth/memstore"
	"github.com/M4urici0GM/tcproxy-sub000/internal/config"
	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/metrics"
	"github.com/M4urici0GM/tcproxy-sub000/internal/mgmtapi"
	"github.com/M4urici0GM/tcproxy-sub000/internal/portalloc"
	"github.com/M4urici0GM/tcproxy-sub000/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(cfg.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate JWT secret: %w", err)
		}
		logging.Warn("TCPROXY_JWT_SECRET not set, generated an ephemeral secret for this process")
	}

	users := memstore.New()
	tokens := jwtcodec.New(secret)
	allocator := portalloc.New(cfg.PortMin, cfg.PortMax)

	addr := net.JoinHostPort(cfg.ListenIP.String(), strconv.Itoa(int(cfg.ListenPort)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	logging.Info("control listener bound", zap.String("addr", ln.Addr().String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	mgmt := mgmtapi.New(cfg.MgmtAddr)
	g.Go(func() error { return mgmt.Run(gctx) })

	g.Go(func() error { return acceptLoop(gctx, ln, cfg, allocator, users, tokens) })

	go func() {
		<-gctx.Done()
		_ = ln.Close()
	}()

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

func acceptLoop(
	ctx context.Context,
	ln net.Listener,
	cfg config.ServerConfig,
	allocator *portalloc.Allocator,
	users *memstore.Store,
	tokens *jwtcodec.Codec,
) error {
	sessionCfg := session.Config{
		PublicHost:             cfg.ListenIP.String(),
		PortMin:                cfg.PortMin,
		PortMax:                cfg.PortMax,
		MaxConnectionsPerProxy: cfg.MaxConnectionsPerProxy,
	}
	deps := session.Deps{Allocator: allocator, Users: users, Tokens: tokens}

	var nextID uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		nextID++
		id := strconv.FormatUint(nextID, 10)
		metrics.SessionStarted()

		go func() {
			defer metrics.SessionEnded()
			sess := session.New(id, conn, sessionCfg, deps)
			if err := sess.Run(ctx); err != nil {
				logging.Debug("session ended", zap.String("session_id", id), zap.Error(err))
			}
			metrics.SetPortsInUse(allocator.InUse())
		}()
	}
}
