package config

const (
	defaultConfigPath           = "~/.config/atticqueue/config.toml"
	defaultQueuePipe            = "~/.local/share/atticqueue/queue.pipe"
	defaultStateDir             = "~/.local/share/atticqueue/state"
	defaultLogDir               = "~/.local/share/atticqueue/logs"
	defaultSocketName           = "atticqueue.sock"
	defaultAtticConfig          = "~/.config/attic/config.toml"
	defaultTrustedKey           = "cache.nixos.org-1"
	defaultCacheRequestTimeout  = 60
	defaultStoreDir             = "/nix/store"
	defaultNixStoreBinary       = "nix-store"
	defaultNixBinary            = "nix"
	defaultPathInfoCacheSize    = 4096
	defaultNixCommandTimeout    = 300
	defaultMaxConcurrentUploads = 10
	defaultMetadataConcurrency  = 32
	defaultErrorRetryInterval   = 10
	defaultRescanInterval       = 300
	defaultUploadTimeout        = 3600
	defaultMetricsBind          = "127.0.0.1:9466"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30

	// BackendSQLite stores work items in a SQLite database.
	BackendSQLite = "sqlite"
	// BackendBadger stores work items in a Badger key-value directory.
	BackendBadger = "badger"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			QueuePipe: defaultQueuePipe,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Store: Store{
			Backend: BackendSQLite,
		},
		Cache: Cache{
			AtticConfig:    defaultAtticConfig,
			TrustedKeys:    []string{defaultTrustedKey},
			RequestTimeout: defaultCacheRequestTimeout,
		},
		Nix: Nix{
			StoreDir:          defaultStoreDir,
			NixStoreBinary:    defaultNixStoreBinary,
			NixBinary:         defaultNixBinary,
			PathInfoCacheSize: defaultPathInfoCacheSize,
			CommandTimeout:    defaultNixCommandTimeout,
		},
		Workflow: Workflow{
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
			MetadataConcurrency:  defaultMetadataConcurrency,
			ErrorRetryInterval:   defaultErrorRetryInterval,
			RescanInterval:       defaultRescanInterval,
			UploadTimeout:        defaultUploadTimeout,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
