// Package config loads kata configuration from ~/.kata/config.yaml and
// KATA_* environment variables.
package config

import (
	"os"
	"strconv"
)

// ApplyEnv overrides cfg with KATA_* environment variables. Unparseable
// values are ignored.
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("KATA_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("KATA_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("KATA_LOG_LEVEL", cfg.Daemon.LogLevel)
	cfg.Daemon.RatePerSecond = getEnvInt("KATA_RATE_PER_SECOND", cfg.Daemon.RatePerSecond)

	cfg.Catalog.Path = getEnv("KATA_CATALOG_PATH", cfg.Catalog.Path)
	cfg.Catalog.Watch = getEnvBool("KATA_CATALOG_WATCH", cfg.Catalog.Watch)

	cfg.Runner.Executor = getEnv("KATA_EXECUTOR", cfg.Runner.Executor)
	cfg.Runner.NodePath = getEnv("KATA_NODE_PATH", cfg.Runner.NodePath)
	cfg.Runner.TimeoutMS = getEnvInt("KATA_TIMEOUT_MS", cfg.Runner.TimeoutMS)
	cfg.Runner.MaxConcurrent = getEnvInt("KATA_MAX_CONCURRENT", cfg.Runner.MaxConcurrent)
	cfg.Runner.Docker.Image = getEnv("KATA_DOCKER_IMAGE", cfg.Runner.Docker.Image)
	cfg.Runner.Docker.MemoryMB = getEnvInt("KATA_DOCKER_MEMORY_MB", cfg.Runner.Docker.MemoryMB)
	cfg.Runner.Docker.CPULimit = getEnvFloat("KATA_DOCKER_CPU_LIMIT", cfg.Runner.Docker.CPULimit)
	cfg.Runner.Docker.PidsLimit = getEnvInt("KATA_DOCKER_PIDS_LIMIT", cfg.Runner.Docker.PidsLimit)
	cfg.Runner.Docker.NetworkOff = getEnvBool("KATA_DOCKER_NETWORK_OFF", cfg.Runner.Docker.NetworkOff)

	cfg.Storage.Driver = getEnv("KATA_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv("KATA_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresURL = getEnv("KATA_POSTGRES_URL", cfg.Storage.PostgresURL)

	cfg.Drafts.Driver = getEnv("KATA_DRAFTS_DRIVER", cfg.Drafts.Driver)
	cfg.Drafts.Redis.Addr = getEnv("KATA_REDIS_ADDR", cfg.Drafts.Redis.Addr)
	cfg.Drafts.Redis.Password = getEnv("KATA_REDIS_PASSWORD", cfg.Drafts.Redis.Password)
	cfg.Drafts.Redis.DB = getEnvInt("KATA_REDIS_DB", cfg.Drafts.Redis.DB)
	cfg.Drafts.Redis.TTLHours = getEnvInt("KATA_REDIS_TTL_HOURS", cfg.Drafts.Redis.TTLHours)
	cfg.Drafts.BadgerPath = getEnv("KATA_BADGER_PATH", cfg.Drafts.BadgerPath)

	cfg.Reconciler.MaxAttempts = getEnvInt("KATA_RECONCILER_MAX_ATTEMPTS", cfg.Reconciler.MaxAttempts)
	cfg.Reconciler.InitialDelayMS = getEnvInt("KATA_RECONCILER_INITIAL_DELAY_MS", cfg.Reconciler.InitialDelayMS)
	cfg.Reconciler.MaxDelayMS = getEnvInt("KATA_RECONCILER_MAX_DELAY_MS", cfg.Reconciler.MaxDelayMS)

	cfg.Events.Enabled = getEnvBool("KATA_EVENTS_ENABLED", cfg.Events.Enabled)
	cfg.Events.AMQPURL = getEnv("KATA_AMQP_URL", cfg.Events.AMQPURL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
