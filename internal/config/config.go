// Package config loads server settings from an optional YAML file and
// KV_* environment variables, in that order of precedence (environment
// wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"exstrkv/internal/logging"
)

type CommitLog struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	MaxEnqueuing   int           `yaml:"max_enqueuing"`
	BufferBytes    int           `yaml:"buffer_bytes"`
}

// Snapshot configures periodic persistence. Driver "none" disables the
// snapshot store; the commit log is then compacted in place instead.
type Snapshot struct {
	Driver   string        `yaml:"driver"`
	DSN      string        `yaml:"dsn"`
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	HTTPAddr            string         `yaml:"http_addr"`
	RESPAddr            string         `yaml:"resp_addr"`
	GRPCAddr            string         `yaml:"grpc_addr"`
	DataDir             string         `yaml:"data_dir"`
	CommitLog           CommitLog      `yaml:"commit_log"`
	Snapshot            Snapshot       `yaml:"snapshot"`
	ExpirySweepInterval time.Duration  `yaml:"expiry_sweep_interval"`
	Log                 logging.Config `yaml:"log"`
}

func Default() Config {
	return Config{
		HTTPAddr: "127.0.0.1:8080",
		RESPAddr: "127.0.0.1:6380",
		GRPCAddr: "127.0.0.1:9090",
		DataDir:  "data",
		CommitLog: CommitLog{
			FlushInterval:  time.Second,
			EnqueueTimeout: 5 * time.Second,
			MaxEnqueuing:   1024,
			BufferBytes:    4 * 1024 * 1024,
		},
		Snapshot: Snapshot{
			Driver:   "sqlite3",
			Interval: 5 * time.Minute,
		},
		ExpirySweepInterval: 100 * time.Millisecond,
		Log:                 logging.DefaultConfig,
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("KV_HTTP_ADDR", &c.HTTPAddr)
	str("KV_RESP_ADDR", &c.RESPAddr)
	str("KV_GRPC_ADDR", &c.GRPCAddr)
	str("KV_DATA_DIR", &c.DataDir)
	dur("KV_COMMIT_LOG_FLUSH_INTERVAL", &c.CommitLog.FlushInterval)
	dur("KV_COMMIT_LOG_ENQUEUE_TIMEOUT", &c.CommitLog.EnqueueTimeout)
	num("KV_COMMIT_LOG_MAX_ENQUEUING", &c.CommitLog.MaxEnqueuing)
	num("KV_COMMIT_LOG_BUFFER_BYTES", &c.CommitLog.BufferBytes)
	str("KV_SNAPSHOT_DRIVER", &c.Snapshot.Driver)
	str("KV_SNAPSHOT_DSN", &c.Snapshot.DSN)
	dur("KV_SNAPSHOT_INTERVAL", &c.Snapshot.Interval)
	dur("KV_EXPIRY_SWEEP_INTERVAL", &c.ExpirySweepInterval)
	str("KV_LOG_LEVEL", &c.Log.Level)
	str("KV_LOG_FORMAT", &c.Log.Format)
	return errors.Join(errs...)
}

// Validate reports every problem found, not just the first.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.RESPAddr == "" {
		errs = append(errs, errors.New("resp_addr is required"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.CommitLog.FlushInterval <= 0 {
		errs = append(errs, errors.New("commit_log.flush_interval must be positive"))
	}
	if c.CommitLog.EnqueueTimeout <= 0 {
		errs = append(errs, errors.New("commit_log.enqueue_timeout must be positive"))
	}
	// The interval also paces commit log compaction when snapshots are off.
	if c.Snapshot.Interval <= 0 {
		errs = append(errs, errors.New("snapshot.interval must be positive"))
	}
	switch strings.ToLower(c.Snapshot.Driver) {
	case "none", "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("snapshot.driver %q is not one of none, sqlite3, postgres", c.Snapshot.Driver))
	}
	if strings.HasPrefix(strings.ToLower(c.Snapshot.Driver), "postgres") && c.Snapshot.DSN == "" {
		errs = append(errs, errors.New("snapshot.dsn is required for postgres"))
	}
	if c.ExpirySweepInterval <= 0 {
		errs = append(errs, errors.New("expiry_sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}

// CommitLogPath is where the commit log lives inside DataDir.
func (c Config) CommitLogPath() string {
	return filepath.Join(c.DataDir, "commit.log")
}

// SnapshotDSN defaults the sqlite database to a file inside DataDir.
func (c Config) SnapshotDSN() string {
	if c.Snapshot.DSN != "" {
		return c.Snapshot.DSN
	}
	return "file:" + filepath.Join(c.DataDir, "snapshots.db") + "?_journal_mode=WAL"
}

// SnapshotsEnabled reports whether a snapshot store is configured.
func (c Config) SnapshotsEnabled() bool {
	return !strings.EqualFold(c.Snapshot.Driver, "none")
}
