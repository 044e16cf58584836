// Package config loads the demo configuration: built-in defaults, then an
// optional YAML file, then AGGREPO_ environment variables.
package config

import (
	"log/slog"
	"time"
)

type Config struct {
	Log       LogConfig      `koanf:"log"`
	Backend   string         `koanf:"backend"`
	Database  DatabaseConfig `koanf:"database"`
	NATS      NATSConfig     `koanf:"nats"`
	Redis     RedisConfig    `koanf:"redis"`
	Snapshots SnapshotConfig `koanf:"snapshots"`
	Metrics   MetricsConfig  `koanf:"metrics"`
	Workload  WorkloadConfig `koanf:"workload"`
	Repo      RepoConfig     `koanf:"repo"`
}

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type DatabaseConfig struct {
	// URL is a postgres:// URL or sqlite:<dsn>.
	URL string `koanf:"url"`
	// Mode is state (one row per aggregate) or events (one row per event).
	Mode         string `koanf:"mode"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

const (
	ModeState  = "state"
	ModeEvents = "events"
)

type NATSConfig struct {
	URL           string `koanf:"url"`
	StreamSubject string `koanf:"stream_subject"`
	SubjectPrefix string `koanf:"subject_prefix"`
	KvBucket      string `koanf:"kv_bucket"`
}

type RedisConfig struct {
	URL       string `koanf:"url"`
	KeyPrefix string `koanf:"key_prefix"`
}

type SnapshotConfig struct {
	// Every writes a snapshot each time a write crosses a multiple of this many
	// versions. Zero disables snapshots.
	Every     uint64 `koanf:"every"`
	CacheSize int    `koanf:"cache_size"`
	Codec     string `koanf:"codec"`
	// Store is memory, redis or backend (the backend's own kv store).
	Store string        `koanf:"store"`
	TTL   time.Duration `koanf:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type WorkloadConfig struct {
	Accounts int           `koanf:"accounts"`
	Commands int           `koanf:"commands"`
	Workers  int           `koanf:"workers"`
	Timeout  time.Duration `koanf:"timeout"`
}

type RepoConfig struct {
	FlushConcurrency int `koanf:"flush_concurrency"`
}
