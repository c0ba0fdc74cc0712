package attic

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Server is one [servers.<name>] entry of the attic client config.
type Server struct {
	Endpoint  string `toml:"endpoint"`
	Token     string `toml:"token"`
	TokenFile string `toml:"token-file"`
}

type clientConfig struct {
	DefaultServer string            `toml:"default-server"`
	Servers       map[string]Server `toml:"servers"`
}

// LoadServer reads the attic client config at path and returns the named
// server, or the default server when name is empty.
func LoadServer(path, name string) (Server, error) {
	if strings.TrimSpace(path) == "" {
		return Server{}, errors.New("attic client config path not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Server{}, fmt.Errorf("attic client config %s not found: %w", path, err)
		}
		return Server{}, fmt.Errorf("read attic client config: %w", err)
	}

	var cfg clientConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("parse attic client config %s: %w", path, err)
	}
	if name == "" {
		name = cfg.DefaultServer
	}
	if name == "" {
		return Server{}, fmt.Errorf("attic client config %s has no default-server", path)
	}
	server, ok := cfg.Servers[name]
	if !ok {
		return Server{}, fmt.Errorf("attic client config %s has no server %q", path, name)
	}
	server.Endpoint = strings.TrimRight(strings.TrimSpace(server.Endpoint), "/")
	if server.Token == "" && server.TokenFile != "" {
		token, err := os.ReadFile(server.TokenFile)
		if err != nil {
			return Server{}, fmt.Errorf("read token file for server %q: %w", name, err)
		}
		server.Token = strings.TrimSpace(string(token))
	}
	return server, nil
}
