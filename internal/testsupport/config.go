package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"atticqueue/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.QueuePipe = filepath.Join(base, "run", "queue.pipe")
	cfgVal.Paths.SocketPath = filepath.Join(base, "state", "atticqueue.sock")
	cfgVal.Cache.Name = "test"
	cfgVal.Cache.Endpoint = "http://127.0.0.1:0"
	cfgVal.Cache.AtticConfig = ""
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.RescanInterval = 0
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the work store backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithUploadConcurrency overrides workflow.max_concurrent_uploads.
func WithUploadConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxConcurrentUploads = n
	}
}

// WithConfig applies an arbitrary mutation to the generated config.
func WithConfig(mutate func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		mutate(b.cfg)
	}
}

// WithStubbedBinary writes an executable shell script named name into a
// private bin directory and prepends that directory to PATH for the test.
func WithStubbedBinary(name, script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
		current := os.Getenv("PATH")
		if filepath.SplitList(current)[0] != binDir {
			b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
