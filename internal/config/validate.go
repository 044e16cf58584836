package config

import (
	"errors"
	"fmt"

	"github.com/codewandler/aggrepo-go/internal/codec"
)

// Validate checks every section and joins the errors.
func (c *Config) Validate() error {
	return errors.Join(
		c.Log.validate(),
		c.validateBackend(),
		c.Snapshots.validate(c.Redis),
		c.Metrics.validate(),
		c.Workload.validate(),
		c.Repo.validate(),
	)
}

func (l *LogConfig) validate() error {
	var errs []error
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", l.Level))
	}
	switch l.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", l.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) validateBackend() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSQLite, BackendPostgres:
		var errs []error
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for backend %s", c.Backend))
		}
		if c.Database.Mode != ModeState && c.Database.Mode != ModeEvents {
			errs = append(errs, fmt.Errorf("database.mode must be one of: state, events; got %q", c.Database.Mode))
		}
		return errors.Join(errs...)
	case BackendNATS:
		var errs []error
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for backend nats"))
		}
		if c.NATS.StreamSubject == "" {
			errs = append(errs, errors.New("nats.stream_subject is required for backend nats"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("backend must be one of: memory, sqlite, postgres, nats; got %q", c.Backend)
	}
}

func (s *SnapshotConfig) validate(redis RedisConfig) error {
	var errs []error
	if _, err := codec.ByName(s.Codec); err != nil {
		errs = append(errs, fmt.Errorf("snapshots.codec: %w", err))
	}
	switch s.Store {
	case "memory", "backend":
	case "redis":
		if redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for snapshots.store redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshots.store must be one of: memory, redis, backend; got %q", s.Store))
	}
	if s.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("snapshots.cache_size must be >= 0, got %d", s.CacheSize))
	}
	if s.TTL < 0 {
		errs = append(errs, errors.New("snapshots.ttl must not be negative"))
	}
	return errors.Join(errs...)
}

func (m *MetricsConfig) validate() error {
	if m.Enabled && m.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func (w *WorkloadConfig) validate() error {
	var errs []error
	if w.Accounts < 1 {
		errs = append(errs, fmt.Errorf("workload.accounts must be >= 1, got %d", w.Accounts))
	}
	if w.Commands < 0 {
		errs = append(errs, fmt.Errorf("workload.commands must be >= 0, got %d", w.Commands))
	}
	if w.Workers < 1 {
		errs = append(errs, fmt.Errorf("workload.workers must be >= 1, got %d", w.Workers))
	}
	if w.Timeout <= 0 {
		errs = append(errs, errors.New("workload.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (r *RepoConfig) validate() error {
	if r.FlushConcurrency < 1 {
		return fmt.Errorf("repo.flush_concurrency must be >= 1, got %d", r.FlushConcurrency)
	}
	return nil
}
