package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.QueuePipe) == "" {
		return errors.New("paths.queue_pipe must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	switch c.Store.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendSQLite, BackendBadger, c.Store.Backend)
	}
	if c.Cache.Name == "" {
		return fmt.Errorf("cache.name must be set (or export %s)", EnvAtticCache)
	}
	if !strings.HasPrefix(c.Nix.StoreDir, "/") {
		return fmt.Errorf("nix.store_dir must be absolute, got %q", c.Nix.StoreDir)
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
			return fmt.Errorf("metrics.bind: %w", err)
		}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentUploads < 1 {
		return errors.New("workflow.max_concurrent_uploads must be at least 1")
	}
	if c.Workflow.MetadataConcurrency < 1 {
		return errors.New("workflow.metadata_concurrency must be at least 1")
	}
	if c.Workflow.ErrorRetryInterval < 1 {
		return errors.New("workflow.error_retry_interval must be at least 1 second")
	}
	if c.Workflow.RescanInterval < 0 {
		return errors.New("workflow.rescan_interval must be zero (disabled) or positive")
	}
	if c.Workflow.UploadTimeout < 1 {
		return errors.New("workflow.upload_timeout must be at least 1 second")
	}
	return nil
}
