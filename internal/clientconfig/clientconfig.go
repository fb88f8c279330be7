// Package clientconfig persists the client's saved server contexts to a
// YAML file under the OS config directory, the storage half of the
// context/profile manager the external spec names as a collaborator: this
// package owns the file format, the create/list/set-default operations
// the CLI surface calls, and the saved bearer token field; it does not
// run a login flow.
package clientconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Context is one saved rendezvous server target. Field names follow
// spec.md §6's persisted-state schema verbatim (target_ip/target_port),
// inherited from the original source's AppContext record even though the
// fields hold the control-connection server address, not a private
// target.
type Context struct {
	Name       string `yaml:"name"`
	TargetIP   string `yaml:"target_ip"`
	TargetPort uint16 `yaml:"target_port"`
}

// ServerAddr returns the context's server address as host:port.
func (c Context) ServerAddr() string {
	return net.JoinHostPort(c.TargetIP, strconv.Itoa(int(c.TargetPort)))
}

// State is the on-disk shape of the context file: the default context
// name, an optional saved bearer token from a prior login, and the list
// of saved contexts.
type State struct {
	DefaultContext string    `yaml:"default_context"`
	UserToken      string    `yaml:"user_token,omitempty"`
	Contexts       []Context `yaml:"contexts"`
}

const fileName = "tcproxy.yaml"

// Path returns the path to the persisted context file under the OS config
// directory, e.g. ~/.config/tcproxy/tcproxy.yaml.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("clientconfig: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "tcproxy", fileName), nil
}

// Load reads the persisted state, returning a zero-value State (not an
// error) if the file does not exist yet.
func Load() (State, error) {
	path, err := Path()
	if err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("clientconfig: read %s: %w", path, err)
	}

	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("clientconfig: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to the persisted context file, creating its parent
// directory if needed.
func Save(s State) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("clientconfig: create config dir: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("clientconfig: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("clientconfig: write %s: %w", path, err)
	}
	return nil
}

// Create adds or replaces a named context and saves the file. serverAddr
// is a host:port pair.
func Create(name, serverAddr string) error {
	host, portStr, err := net.SplitHostPort(serverAddr)
	if err != nil {
		return fmt.Errorf("clientconfig: invalid server address %q: %w", serverAddr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("clientconfig: invalid server port %q: %w", portStr, err)
	}

	s, err := Load()
	if err != nil {
		return err
	}

	found := false
	for i, c := range s.Contexts {
		if c.Name == name {
			s.Contexts[i].TargetIP = host
			s.Contexts[i].TargetPort = uint16(port)
			found = true
			break
		}
	}
	if !found {
		s.Contexts = append(s.Contexts, Context{Name: name, TargetIP: host, TargetPort: uint16(port)})
	}
	if s.DefaultContext == "" {
		s.DefaultContext = name
	}

	return Save(s)
}

// List returns every saved context.
func List() ([]Context, error) {
	s, err := Load()
	if err != nil {
		return nil, err
	}
	return s.Contexts, nil
}

// SetDefault marks name as the default context. It is an error if no
// context by that name exists.
func SetDefault(name string) error {
	s, err := Load()
	if err != nil {
		return err
	}

	for _, c := range s.Contexts {
		if c.Name == name {
			s.DefaultContext = name
			return Save(s)
		}
	}
	return fmt.Errorf("clientconfig: no such context %q", name)
}

// Resolve returns the named context, or the default context if name is
// empty.
func Resolve(name string) (Context, error) {
	s, err := Load()
	if err != nil {
		return Context{}, err
	}

	if name == "" {
		name = s.DefaultContext
	}
	if name == "" {
		return Context{}, fmt.Errorf("clientconfig: no context selected and no default set")
	}

	for _, c := range s.Contexts {
		if c.Name == name {
			return c, nil
		}
	}
	return Context{}, fmt.Errorf("clientconfig: no such context %q", name)
}

// SaveToken persists a bearer token obtained from a successful login.
func SaveToken(token string) error {
	s, err := Load()
	if err != nil {
		return err
	}
	s.UserToken = token
	return Save(s)
}
