// Command tcproxy-client dials a rendezvous server's control connection
// and mirrors its tunneled traffic to a private target (the "listen"
// subcommand), plus the context/login surface the external spec names as
// CLI-wired collaborators.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/M4urici0GM/tcproxy-sub000/internal/clientconfig"
	"github.com/M4urici0GM/tcproxy-sub000/internal/clistatus"
	"github.com/M4urici0GM/tcproxy-sub000/internal/config"
	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
	"github.com/M4urici0GM/tcproxy-sub000/internal/logging"
	"github.com/M4urici0GM/tcproxy-sub000/internal/mirror"
	"github.com/M4urici0GM/tcproxy-sub000/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "listen":
		err = runListen(os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	case "context":
		err = runContext(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tcproxy-client <command> [options]

commands:
  listen   dial a server and forward tunneled connections to a local target
  login    authenticate and save a bearer token for future sessions
  context  manage saved server contexts (create|list|set-default)`)
}

func runListen(args []string) error {
	lc, err := config.LoadListenConfig(args)
	if err != nil {
		return err
	}

	if err := logging.Init(lc.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()

	ctxEntry, err := clientconfig.Resolve(lc.AppContext)
	if err != nil {
		return fmt.Errorf("resolve context: %w", err)
	}

	conn, err := net.Dial("tcp", ctxEntry.ServerAddr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", ctxEntry.ServerAddr(), err)
	}
	defer conn.Close()

	m := mirror.New(conn, mirror.Config{
		TargetAddr:   lc.TargetAddr,
		PingInterval: time.Duration(lc.PingInterval) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go clistatus.Run(ctx, m, ctxEntry.ServerAddr())

	logging.Info("connected to server", zap.String("server", ctxEntry.ServerAddr()), zap.String("target", lc.TargetAddr))
	return m.Run(ctx)
}

// runLogin prompts for a password on stdin, performs a standalone
// handshake + password-grant Authenticate against the saved context's
// server, and persists the returned bearer token in the context file. The
// account store itself lives on the server behind UserLookup. The listen
// command does not read the saved token.
func runLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	username := fs.String("username", "", "account email")
	appContext := fs.String("app-context", "", "context to authenticate against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("login: --username is required")
	}

	ctxEntry, err := clientconfig.Resolve(*appContext)
	if err != nil {
		return fmt.Errorf("resolve context: %w", err)
	}

	fmt.Printf("logging in as %s against %s\n", *username, ctxEntry.ServerAddr())
	fmt.Print("password: ")
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	conn, err := net.Dial("tcp", ctxEntry.ServerAddr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", ctxEntry.ServerAddr(), err)
	}
	defer conn.Close()

	r := transport.NewReader(conn)
	w := transport.NewWriter(conn)

	if err := w.Send(frame.ClientConnected{}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	if _, err := r.Next(); err != nil {
		return fmt.Errorf("await handshake ack: %w", err)
	}

	if err := w.Send(frame.Authenticate{Grant: frame.GrantPassword, User: *username, Password: password}); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	resp, err := r.Next()
	if err != nil {
		return fmt.Errorf("await authenticate response: %w", err)
	}

	switch v := resp.(type) {
	case frame.AuthenticateAck:
		if !v.HasToken {
			return fmt.Errorf("login: server did not return a token")
		}
		if err := clientconfig.SaveToken(v.Token); err != nil {
			return err
		}
		fmt.Println("login succeeded, token saved")
		return nil
	case frame.ErrorFrame:
		return fmt.Errorf("login: %s", v.Reason)
	default:
		return fmt.Errorf("login: unexpected response %s", resp.Kind())
	}
}

func runContext(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("context: expected create|list|set-default")
	}

	switch args[0] {
	case "create":
		fs := pflag.NewFlagSet("context create", pflag.ContinueOnError)
		name := fs.String("name", "", "context name")
		serverAddr := fs.String("server", "", "server address, host:port")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" || *serverAddr == "" {
			return fmt.Errorf("context create: --name and --server are required")
		}
		if err := clientconfig.Create(*name, *serverAddr); err != nil {
			return err
		}
		fmt.Printf("created context %q -> %s\n", *name, *serverAddr)
		return nil

	case "list":
		contexts, err := clientconfig.List()
		if err != nil {
			return err
		}
		for _, c := range contexts {
			fmt.Printf("%s\t%s\n", c.Name, c.ServerAddr())
		}
		return nil

	case "set-default":
		fs := pflag.NewFlagSet("context set-default", pflag.ContinueOnError)
		name := fs.String("name", "", "context name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("context set-default: --name is required")
		}
		return clientconfig.SetDefault(*name)

	default:
		return fmt.Errorf("context: unknown subcommand %q", args[0])
	}
}
