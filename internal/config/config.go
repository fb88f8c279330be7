// Package config resolves server and client startup configuration by
// layering a YAML config file, environment variables, and CLI flags, in
// that precedence order (flags win). It mirrors the flag-first, env
// fallback style the teacher's cmd/*/main.go binaries use, built on
// github.com/spf13/pflag for GNU-style long flags.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the fully resolved set of server startup parameters.
type ServerConfig struct {
	ListenPort             uint16
	ListenIP               net.IP
	PortMin, PortMax       uint16
	MaxConnectionsPerProxy int
	ServerFQDN             string
	JWTSecret              string
	MgmtAddr               string
	Debug                  bool
}

// fileConfig is the shape of the optional TCPROXY_CONFIG_FILE YAML
// document; every field is optional, and only the ones present override
// the built-in defaults.
type fileConfig struct {
	ListenPort             *uint16 `yaml:"listen_port"`
	ListenIP               *string `yaml:"listen_ip"`
	PortMin                *uint16 `yaml:"port_min"`
	PortMax                *uint16 `yaml:"port_max"`
	MaxConnectionsPerProxy *int    `yaml:"max_connections_per_proxy"`
	ServerFQDN             *string `yaml:"server_fqdn"`
	JWTSecret              *string `yaml:"jwt_secret"`
	MgmtAddr               *string `yaml:"mgmt_addr"`
}

const (
	defaultListenPort             = 8080
	defaultPortMin                = 15000
	defaultPortMax                = 25000
	defaultMaxConnectionsPerProxy = 120
	defaultMgmtAddr               = ""
)

// LoadServerConfig resolves ServerConfig from args (typically os.Args[1:]),
// layering: built-in defaults < TCPROXY_CONFIG_FILE < environment
// variables < CLI flags.
func LoadServerConfig(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		ListenPort:             defaultListenPort,
		ListenIP:               net.IPv4zero,
		PortMin:                defaultPortMin,
		PortMax:                defaultPortMax,
		MaxConnectionsPerProxy: defaultMaxConnectionsPerProxy,
		MgmtAddr:               defaultMgmtAddr,
	}

	if path := os.Getenv("TCPROXY_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return ServerConfig{}, fmt.Errorf("config: load file: %w", err)
		}
	}

	applyServerEnv(&cfg)

	fs := pflag.NewFlagSet("tcproxy-server", pflag.ContinueOnError)
	port := fs.Uint16("port", cfg.ListenPort, "control connection listen port")
	ip := fs.String("ip", cfg.ListenIP.String(), "listen address (v4 or v6)")
	portRange := fs.String("port-range", fmt.Sprintf("%d:%d", cfg.PortMin, cfg.PortMax), "allocatable public port range min:max")
	maxConns := fs.Uint16("max-connections-per-proxy", uint16(cfg.MaxConnectionsPerProxy), "max live remote connections per session")
	fqdn := fs.String("server-fqdn", cfg.ServerFQDN, "public FQDN advertised to clients")
	mgmtAddr := fs.String("mgmt-addr", cfg.MgmtAddr, "address to serve /healthz and /metrics on, empty to disable")
	debug := fs.Bool("debug", cfg.Debug, "enable development logging")

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg.ListenPort = *port
	cfg.MaxConnectionsPerProxy = int(*maxConns)
	cfg.ServerFQDN = *fqdn
	cfg.MgmtAddr = *mgmtAddr
	cfg.Debug = *debug

	if parsed := net.ParseIP(*ip); parsed != nil {
		cfg.ListenIP = parsed
	}

	min, max, err := parsePortRange(*portRange)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config: %w", err)
	}
	cfg.PortMin, cfg.PortMax = min, max

	return cfg, nil
}

func applyFile(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ListenPort != nil {
		cfg.ListenPort = *fc.ListenPort
	}
	if fc.ListenIP != nil {
		if ip := net.ParseIP(*fc.ListenIP); ip != nil {
			cfg.ListenIP = ip
		}
	}
	if fc.PortMin != nil {
		cfg.PortMin = *fc.PortMin
	}
	if fc.PortMax != nil {
		cfg.PortMax = *fc.PortMax
	}
	if fc.MaxConnectionsPerProxy != nil {
		cfg.MaxConnectionsPerProxy = *fc.MaxConnectionsPerProxy
	}
	if fc.ServerFQDN != nil {
		cfg.ServerFQDN = *fc.ServerFQDN
	}
	if fc.JWTSecret != nil {
		cfg.JWTSecret = *fc.JWTSecret
	}
	if fc.MgmtAddr != nil {
		cfg.MgmtAddr = *fc.MgmtAddr
	}
	return nil
}

func applyServerEnv(cfg *ServerConfig) {
	if v := os.Getenv("TCPROXY_LISTEN_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.ListenPort = uint16(n)
		}
	}
	if v := os.Getenv("TCPROXY_LISTEN_IP"); v != "" {
		if ip := net.ParseIP(v); ip != nil {
			cfg.ListenIP = ip
		}
	}
	if v := os.Getenv("TCPROXY_PORT_MIN"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.PortMin = uint16(n)
		}
	}
	if v := os.Getenv("TCPROXY_PORT_MAX"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.PortMax = uint16(n)
		}
	}
	if v := os.Getenv("TCPROXY_SERVER_FQDN"); v != "" {
		cfg.ServerFQDN = v
	}
	if v := os.Getenv("TCPROXY_CONNECTIONS_PER_PROXY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnectionsPerProxy = n
		}
	}
	if v := os.Getenv("TCPROXY_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

func parsePortRange(s string) (uint16, uint16, error) {
	before, after, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid port range %q, expected min:max", s)
	}

	min, err := strconv.ParseUint(before, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range min %q: %w", before, err)
	}
	max, err := strconv.ParseUint(after, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range max %q: %w", after, err)
	}
	if max <= min {
		return 0, 0, fmt.Errorf("invalid port range %q: max must be greater than min", s)
	}
	return uint16(min), uint16(max), nil
}

// ListenConfig carries the resolved parameters for the "listen" client
// subcommand.
type ListenConfig struct {
	ServerAddr   string
	TargetAddr   string
	PingInterval int
	AppContext   string
	Debug        bool
}

// LoadListenConfig parses the flags accepted by "tcproxy-client listen".
func LoadListenConfig(args []string) (ListenConfig, error) {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	port := fs.Uint16("port", 0, "local target port to forward tunneled connections to")
	ip := fs.String("ip", "127.0.0.1", "local target address")
	pingInterval := fs.Int("ping-interval", 30, "ping interval in seconds")
	appContext := fs.String("app-context", "", "saved context to use, defaults to the current default context")
	debug := fs.Bool("debug", false, "enable development logging")

	if err := fs.Parse(args); err != nil {
		return ListenConfig{}, fmt.Errorf("config: parse flags: %w", err)
	}
	if *port == 0 {
		return ListenConfig{}, fmt.Errorf("config: --port is required")
	}

	return ListenConfig{
		TargetAddr:   fmt.Sprintf("%s:%d", *ip, *port),
		PingInterval: *pingInterval,
		AppContext:   *appContext,
		Debug:        *debug,
	}, nil
}
