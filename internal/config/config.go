// Package config loads process configuration from FLOWQ_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

const (
	QueueModeMemory = "memory"
	QueueModeRedis  = "redis"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreRedis    = "redis"

	LockMemory   = "memory"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

type Config struct {
	QueueMode         string
	RedisURL          string
	WorkerConcurrency int

	FlowTimeout    time.Duration
	TriggerTimeout time.Duration
	LockMargin     time.Duration
	WebhookTimeout time.Duration

	MaxScheduleFailures int
	PollInterval        time.Duration
	ShutdownTimeout     time.Duration

	SimulationStore string
	DatabaseURL     string
	MongoDatabase   string
	LockMode        string

	HTTPAddr string
	LogLevel slog.Level
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		QueueMode:           QueueModeMemory,
		RedisURL:            "redis://localhost:6379/0",
		WorkerConcurrency:   10,
		FlowTimeout:         600 * time.Second,
		TriggerTimeout:      60 * time.Second,
		LockMargin:          30 * time.Second,
		WebhookTimeout:      30 * time.Second,
		MaxScheduleFailures: 5,
		PollInterval:        time.Second,
		ShutdownTimeout:     30 * time.Second,
		SimulationStore:     StoreMemory,
		LockMode:            LockMemory,
		MongoDatabase:       "flowq",
		HTTPAddr:            ":8080",
		LogLevel:            slog.LevelInfo,
	}
}

// Load reads the environment on top of Default.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an injectable lookup.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: want a non-negative integer, got %q", key, v))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: want a positive duration, got %q", key, v))
			return
		}
		*dst = d
	}

	str("FLOWQ_QUEUE_MODE", &cfg.QueueMode)
	str("FLOWQ_REDIS_URL", &cfg.RedisURL)
	num("FLOWQ_WORKER_CONCURRENCY", &cfg.WorkerConcurrency)
	dur("FLOWQ_FLOW_TIMEOUT", &cfg.FlowTimeout)
	dur("FLOWQ_TRIGGER_TIMEOUT", &cfg.TriggerTimeout)
	dur("FLOWQ_LOCK_MARGIN", &cfg.LockMargin)
	dur("FLOWQ_WEBHOOK_TIMEOUT", &cfg.WebhookTimeout)
	num("FLOWQ_MAX_SCHEDULE_FAILURES", &cfg.MaxScheduleFailures)
	dur("FLOWQ_POLL_INTERVAL", &cfg.PollInterval)
	dur("FLOWQ_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	str("FLOWQ_SIMULATION_STORE", &cfg.SimulationStore)
	str("FLOWQ_DATABASE_URL", &cfg.DatabaseURL)
	str("FLOWQ_MONGO_DATABASE", &cfg.MongoDatabase)
	lockMode := ""
	str("FLOWQ_LOCK_MODE", &lockMode)
	str("FLOWQ_HTTP_ADDR", &cfg.HTTPAddr)

	if v, ok := lookup("FLOWQ_LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			errs = append(errs, fmt.Errorf("FLOWQ_LOG_LEVEL: %w", err))
		}
	}

	cfg.QueueMode = strings.ToLower(cfg.QueueMode)
	cfg.SimulationStore = strings.ToLower(cfg.SimulationStore)
	switch {
	case lockMode != "":
		cfg.LockMode = strings.ToLower(lockMode)
	case cfg.QueueMode == QueueModeRedis:
		cfg.LockMode = LockRedis
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks enum values and the settings they require.
func (c Config) Validate() error {
	var errs []error
	switch c.QueueMode {
	case QueueModeMemory, QueueModeRedis:
	default:
		errs = append(errs, fmt.Errorf("FLOWQ_QUEUE_MODE: unknown mode %q", c.QueueMode))
	}
	switch c.SimulationStore {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres, StoreMongo:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("FLOWQ_DATABASE_URL is required for the %s simulation store", c.SimulationStore))
		}
	default:
		errs = append(errs, fmt.Errorf("FLOWQ_SIMULATION_STORE: unknown store %q", c.SimulationStore))
	}
	switch c.LockMode {
	case LockMemory, LockRedis:
	case LockPostgres:
		if c.SimulationStore != StorePostgres {
			errs = append(errs, fmt.Errorf("FLOWQ_LOCK_MODE=postgres needs FLOWQ_SIMULATION_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("FLOWQ_LOCK_MODE: unknown mode %q", c.LockMode))
	}
	if c.UsesRedis() && c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("FLOWQ_REDIS_URL is required"))
	}
	if c.LockMode == LockMemory && c.QueueMode == QueueModeRedis {
		errs = append(errs, fmt.Errorf("FLOWQ_LOCK_MODE=memory cannot coordinate multiple nodes in redis queue mode"))
	}
	if c.MaxScheduleFailures == 0 {
		errs = append(errs, fmt.Errorf("FLOWQ_MAX_SCHEDULE_FAILURES must be at least 1"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component is configured to use Redis.
func (c Config) UsesRedis() bool {
	return c.QueueMode == QueueModeRedis || c.LockMode == LockRedis || c.SimulationStore == StoreRedis
}

// LockDuration is the lease a worker holds on a job of queue: the longest
// execution timeout of that queue plus the lock margin. SCHEDULED carries
// both trigger polls and delayed flow resumptions, so it takes the larger
// of the two timeouts.
func (c Config) LockDuration(queue api.QueueName) time.Duration {
	if queue == api.QueueScheduled {
		return max(c.TriggerTimeout, c.FlowTimeout) + c.LockMargin
	}
	return c.FlowTimeout + c.LockMargin
}

// LockDurations returns LockDuration for every queue.
func (c Config) LockDurations() map[api.QueueName]time.Duration {
	out := make(map[api.QueueName]time.Duration, len(api.AllQueues()))
	for _, q := range api.AllQueues() {
		out[q] = c.LockDuration(q)
	}
	return out
}
