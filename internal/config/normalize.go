package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consulted during normalization.
const (
	EnvQueuePath     = "QUEUE_PATH"
	EnvDatabasePath  = "DATABASE_PATH"
	EnvAtticToken    = "ATTIC_TOKEN"
	EnvAtticEndpoint = "ATTIC_ENDPOINT"
	EnvAtticCache    = "ATTIC_CACHE"
	EnvAtticServer   = "ATTIC_SERVER"
)

func (c *Config) normalize() error {
	// QUEUE_PATH and DATABASE_PATH take precedence over the file so service
	// units can relocate the pipe and state without editing config.
	if value, ok := lookupEnv(EnvQueuePath); ok {
		c.Paths.QueuePipe = value
	}
	if value, ok := lookupEnv(EnvDatabasePath); ok {
		c.Paths.StateDir = value
	}

	var err error
	if c.Paths.QueuePipe, err = expandPath(c.Paths.QueuePipe); err != nil {
		return fmt.Errorf("paths.queue_pipe: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}

	if err := c.normalizeCache(); err != nil {
		return err
	}

	c.Nix.StoreDir = strings.TrimRight(strings.TrimSpace(c.Nix.StoreDir), "/")
	if c.Nix.StoreDir == "" {
		c.Nix.StoreDir = defaultStoreDir
	}
	c.Nix.NixStoreBinary = strings.TrimSpace(c.Nix.NixStoreBinary)
	if c.Nix.NixStoreBinary == "" {
		c.Nix.NixStoreBinary = defaultNixStoreBinary
	}
	c.Nix.NixBinary = strings.TrimSpace(c.Nix.NixBinary)
	if c.Nix.NixBinary == "" {
		c.Nix.NixBinary = defaultNixBinary
	}
	if c.Nix.PathInfoCacheSize <= 0 {
		c.Nix.PathInfoCacheSize = defaultPathInfoCacheSize
	}
	if c.Nix.CommandTimeout <= 0 {
		c.Nix.CommandTimeout = defaultNixCommandTimeout
	}

	if c.Workflow.MaxConcurrentUploads == 0 {
		c.Workflow.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	if c.Workflow.MetadataConcurrency == 0 {
		c.Workflow.MetadataConcurrency = defaultMetadataConcurrency
	}
	if c.Workflow.ErrorRetryInterval == 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.UploadTimeout == 0 {
		c.Workflow.UploadTimeout = defaultUploadTimeout
	}

	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	return nil
}

func (c *Config) normalizeCache() error {
	c.Cache.Name = strings.TrimSpace(c.Cache.Name)
	if c.Cache.Name == "" {
		if value, ok := lookupEnv(EnvAtticCache); ok {
			c.Cache.Name = value
		}
	}
	c.Cache.Server = strings.TrimSpace(c.Cache.Server)
	if c.Cache.Server == "" {
		if value, ok := lookupEnv(EnvAtticServer); ok {
			c.Cache.Server = value
		}
	}
	c.Cache.Endpoint = strings.TrimRight(strings.TrimSpace(c.Cache.Endpoint), "/")
	if c.Cache.Endpoint == "" {
		if value, ok := lookupEnv(EnvAtticEndpoint); ok {
			c.Cache.Endpoint = strings.TrimRight(value, "/")
		}
	}
	c.Cache.Token = strings.TrimSpace(c.Cache.Token)
	if c.Cache.Token == "" {
		if value, ok := lookupEnv(EnvAtticToken); ok {
			c.Cache.Token = value
		}
	}

	if strings.TrimSpace(c.Cache.AtticConfig) != "" {
		expanded, err := expandPath(c.Cache.AtticConfig)
		if err != nil {
			return fmt.Errorf("cache.attic_config: %w", err)
		}
		c.Cache.AtticConfig = expanded
	}

	keys := make([]string, 0, len(c.Cache.TrustedKeys))
	seen := make(map[string]struct{}, len(c.Cache.TrustedKeys))
	for _, key := range c.Cache.TrustedKeys {
		key = strings.TrimSuffix(strings.TrimSpace(key), ":")
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	c.Cache.TrustedKeys = keys

	if c.Cache.RequestTimeout <= 0 {
		c.Cache.RequestTimeout = defaultCacheRequestTimeout
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
