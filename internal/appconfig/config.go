// Package appconfig binds TrakBridge's process-wide tunables (spec.md §6)
// to spf13/viper, with spf13/cobra persistent flags as the highest-priority
// override and fsnotify-driven hot reload that rebuilds the whole Config when
// the config file changes. This mirrors the teacher's
// config/components.*.RegisterFlag pattern (bind a cobra flag to a viper
// key) without importing the teacher's own component-registry machinery,
// which is overkill for TrakBridge's much smaller config surface.
package appconfig

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trakbridge/trakbridge/internal/db"
)

// Defaults from spec.md §6 "Defaults".
const (
	DefaultPollInterval         = 60 * time.Second
	DefaultMaxQueueDepth        = 1000
	DefaultStaleFrameWindow     = 60 * time.Second
	DefaultStaleAfter           = 5 * time.Minute
	DefaultTransformBatchSize   = 50
	DefaultHealthInterval       = 15 * time.Second
	DefaultWorkerGrace          = 10 * time.Second
	DefaultManagerGrace         = 15 * time.Second
	DefaultTransformEventWindow = 2 * time.Second
	DefaultConfigMaxBytes       = 64 * 1024
	DefaultConfigMaxDepth       = 32
	DefaultConfigMaxKeys        = 1000
	DefaultConfigMaxArrayElems  = 10000
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffCap           = 60 * time.Second
	DefaultDeviceStateTTL       = 24 * time.Hour
)

// Config is the fully resolved process configuration (spec.md §6).
type Config struct {
	DataDir string

	DB db.Config

	PollIntervalDefault   time.Duration
	MaxQueueDepth         int
	StaleFrameWindow      time.Duration
	DefaultStaleAfter     time.Duration
	TransformBatchSize    int
	TransformParallelism  int
	TransformEventWindow  time.Duration
	HealthInterval        time.Duration
	WorkerGrace           time.Duration
	ManagerGrace          time.Duration
	DeviceStateTTL        time.Duration

	ConfigMaxBytes      int
	ConfigMaxDepth      int
	ConfigMaxKeys       int
	ConfigMaxArrayElems int

	BackoffBase time.Duration
	BackoffCap  time.Duration

	PluginAllowlist []string

	APIListenAddr string
	MetricsListenAddr string
}

func defaultTransformParallelism() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BindFlags registers the root command's persistent flags and binds each to
// a viper key, the way the teacher's RegisterFlag hooks do per-component
// (config/component.go). Call once when building the cobra root command.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to config file (yaml/json/toml)")
	flags.String("data-dir", "/var/lib/trakbridge", "data directory for sqlite db, advisory lock, certs")
	flags.String("db-driver", "sqlite", "database driver: sqlite, postgres, mysql")
	flags.String("db-dsn", "", "database DSN (defaults to <data-dir>/trakbridge.db for sqlite)")
	flags.Duration("poll-interval-default", DefaultPollInterval, "default stream poll interval")
	flags.Int("max-queue-depth", DefaultMaxQueueDepth, "per-destination queue capacity")
	flags.String("api-listen", ":8080", "management API listen address")
	flags.String("metrics-listen", ":9090", "prometheus metrics listen address")
	flags.StringSlice("plugin-allowlist", nil, "allow-listed external plugin identifiers")
	flags.Duration("stale-frame-window", DefaultStaleFrameWindow, "max age of a frame before it is dropped instead of sent")
	flags.Duration("default-stale-after", DefaultStaleAfter, "default device staleness threshold")
	flags.Int("transform-batch-size", DefaultTransformBatchSize, "locations transformed per batch")
	flags.Int("transform-parallelism", defaultTransformParallelism(), "concurrent transform workers per stream")
	flags.Duration("transform-event-window", DefaultTransformEventWindow, "per-event transform timeout before a batch falls back to serial transformation")
	flags.Duration("health-interval", DefaultHealthInterval, "stream manager health check interval")
	flags.Duration("worker-grace", DefaultWorkerGrace, "grace period for a stream worker to stop")
	flags.Duration("manager-grace", DefaultManagerGrace, "grace period for manager-wide shutdown")
	flags.Int("config-max-bytes", DefaultConfigMaxBytes, "max serialized size of a plugin config document")
	flags.Int("config-max-depth", DefaultConfigMaxDepth, "max nesting depth of a plugin config document")
	flags.Int("config-max-keys", DefaultConfigMaxKeys, "max keys per object in a plugin config document")
	flags.Int("config-max-array-elements", DefaultConfigMaxArrayElems, "max array length in a plugin config document")
	flags.Duration("backoff-base", DefaultBackoffBase, "base delay for plugin fetch retry backoff")
	flags.Duration("backoff-cap", DefaultBackoffCap, "max delay for plugin fetch retry backoff")
	flags.Duration("device-state-ttl", DefaultDeviceStateTTL, "device state tracker purge TTL")

	for _, name := range []string{
		"config", "data-dir", "db-driver", "db-dsn", "poll-interval-default",
		"max-queue-depth", "api-listen", "metrics-listen", "plugin-allowlist",
		"stale-frame-window", "default-stale-after", "transform-batch-size",
		"transform-parallelism", "transform-event-window", "health-interval",
		"worker-grace", "manager-grace", "config-max-bytes", "config-max-depth",
		"config-max-keys", "config-max-array-elements", "backoff-base", "backoff-cap",
		"device-state-ttl",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("appconfig: bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads viper's merged flag/env/file state into a Config, filling in
// every spec.md §6 default that was not overridden.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TRAKBRIDGE")
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("appconfig: read config file %q: %w", path, err)
		}
	}

	dataDir := v.GetString("data-dir")
	if dataDir == "" {
		dataDir = "/var/lib/trakbridge"
	}

	dsn := v.GetString("db-dsn")
	driver := db.DriverFromString(v.GetString("db-driver"))
	if dsn == "" && driver == db.DriverSQLite {
		dsn = dataDir + "/trakbridge.db"
	}

	cfg := &Config{
		DataDir: dataDir,
		DB: db.Config{
			Driver: driver,
			DSN:    dsn,
		},
		PollIntervalDefault:  getDurationOrDefault(v, "poll-interval-default", DefaultPollInterval),
		MaxQueueDepth:        getIntOrDefault(v, "max-queue-depth", DefaultMaxQueueDepth),
		StaleFrameWindow:     getDurationOrDefault(v, "stale-frame-window", DefaultStaleFrameWindow),
		DefaultStaleAfter:    getDurationOrDefault(v, "default-stale-after", DefaultStaleAfter),
		TransformBatchSize:   getIntOrDefault(v, "transform-batch-size", DefaultTransformBatchSize),
		TransformParallelism: getIntOrDefault(v, "transform-parallelism", defaultTransformParallelism()),
		TransformEventWindow: getDurationOrDefault(v, "transform-event-window", DefaultTransformEventWindow),
		HealthInterval:       getDurationOrDefault(v, "health-interval", DefaultHealthInterval),
		WorkerGrace:          getDurationOrDefault(v, "worker-grace", DefaultWorkerGrace),
		ManagerGrace:         getDurationOrDefault(v, "manager-grace", DefaultManagerGrace),
		ConfigMaxBytes:       getIntOrDefault(v, "config-max-bytes", DefaultConfigMaxBytes),
		ConfigMaxDepth:       getIntOrDefault(v, "config-max-depth", DefaultConfigMaxDepth),
		ConfigMaxKeys:        getIntOrDefault(v, "config-max-keys", DefaultConfigMaxKeys),
		ConfigMaxArrayElems:  getIntOrDefault(v, "config-max-array-elements", DefaultConfigMaxArrayElems),
		BackoffBase:          getDurationOrDefault(v, "backoff-base", DefaultBackoffBase),
		BackoffCap:           getDurationOrDefault(v, "backoff-cap", DefaultBackoffCap),
		DeviceStateTTL:       getDurationOrDefault(v, "device-state-ttl", DefaultDeviceStateTTL),
		PluginAllowlist:      v.GetStringSlice("plugin-allowlist"),
		APIListenAddr:        v.GetString("api-listen"),
		MetricsListenAddr:    v.GetString("metrics-listen"),
	}
	if cfg.APIListenAddr == "" {
		cfg.APIListenAddr = ":8080"
	}
	if cfg.MetricsListenAddr == "" {
		cfg.MetricsListenAddr = ":9090"
	}
	return cfg, nil
}

func getDurationOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	d := v.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}

func getIntOrDefault(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	n := v.GetInt(key)
	if n <= 0 {
		return def
	}
	return n
}

// Watcher hot-reloads the configuration on file change (spec.md §6 "process
// tunables... MAY be hot reloaded via file watch"): each change re-runs Load,
// replaces the whole current Config and hands it to onChange. It restarts
// nothing itself; running workers keep the values they were started with.
type Watcher struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur *Config

	onChange func(*Config)
}

// NewWatcher wraps v with fsnotify-based reload, following
// config/components/log/default.go's viper.WatchConfig + OnConfigChange
// pairing.
func NewWatcher(v *viper.Viper, initial *Config, onChange func(*Config)) *Watcher {
	w := &Watcher{v: v, cur: initial, onChange: onChange}
	v.OnConfigChange(func(e fsnotify.Event) {
		w.reload()
	})
	v.WatchConfig()
	return w
}

func (w *Watcher) reload() {
	next, err := Load(w.v)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.cur = next
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(next)
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}
