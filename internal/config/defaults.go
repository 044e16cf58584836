package config

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"backend": BackendMemory,

		"database.url":            "sqlite:file:aggrepo.sqlite?_pragma=busy_timeout(5000)",
		"database.mode":           ModeState,
		"database.max_open_conns": 0,

		"nats.url":            "nats://localhost:4222",
		"nats.stream_subject": "aggrepo.es.>",
		"nats.subject_prefix": "aggrepo.es",
		"nats.kv_bucket":      "aggrepo-snapshots",

		"redis.url":        "",
		"redis.key_prefix": "aggrepo.",

		"snapshots.every":      10,
		"snapshots.cache_size": 256,
		"snapshots.codec":      "json",
		"snapshots.store":      "memory",
		"snapshots.ttl":        "0s",

		"metrics.enabled": false,
		"metrics.addr":    ":9090",

		"workload.accounts": 10,
		"workload.commands": 1000,
		"workload.workers":  8,
		"workload.timeout":  "30s",

		"repo.flush_concurrency": 1,
	}
}
