// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures server and audit pipeline configuration.
type Config struct {
	Addr        string
	DatabaseURL string
	RulesPath   string

	Audit Audit
}

// Audit holds the tuning knobs of the change tracking pipeline.
type Audit struct {
	// BatchSize is the number of consolidation groups fetched per batch.
	BatchSize int
	// MaxRetry is the retry budget before a failing group is parked.
	MaxRetry int
	// BatchDelay is the pacing pause between batches.
	BatchDelay time.Duration
	// BusyBackoff is how long the processor yields when live traffic is active.
	BusyBackoff time.Duration
	// BusyBackoffMaxRetries bounds consecutive backoff rounds before the
	// processor proceeds anyway.
	BusyBackoffMaxRetries int
	// ActivityWindow is how long after a tracked mutation the system is
	// considered busy.
	ActivityWindow time.Duration
	// FlushThreshold bounds per-transaction in-memory state; reaching it
	// writes interim audit log rows.
	FlushThreshold int
	// ShutdownTimeout is the graceful drain window of the dispatch queue.
	ShutdownTimeout time.Duration
	// JobInterval is how often the scheduled job sweeps for pending logs.
	JobInterval time.Duration
	// DirectNotifications switches the tracker to synchronous notification
	// generation at pre-commit instead of the durable queue.
	DirectNotifications bool
	// AsyncDisabled swaps in the no-op dispatch queue.
	AsyncDisabled bool
}

// FromEnv reads configuration from the environment, applying defaults that
// match the reference deployment.
func FromEnv() Config {
	return Config{
		Addr:        envString("CHRONICLE_ADDR", ":8080"),
		DatabaseURL: os.Getenv("CHRONICLE_DATABASE_URL"),
		RulesPath:   envString("CHRONICLE_RULES_PATH", "tracking.yaml"),
		Audit: Audit{
			BatchSize:             envInt("CHRONICLE_AUDIT_BATCH_SIZE", 100),
			MaxRetry:              envInt("CHRONICLE_AUDIT_MAX_RETRY", 3),
			BatchDelay:            envDuration("CHRONICLE_AUDIT_BATCH_DELAY", 5*time.Millisecond),
			BusyBackoff:           envDuration("CHRONICLE_AUDIT_BUSY_BACKOFF", 200*time.Millisecond),
			BusyBackoffMaxRetries: envInt("CHRONICLE_AUDIT_BUSY_BACKOFF_MAX_RETRIES", 3),
			ActivityWindow:        envDuration("CHRONICLE_AUDIT_ACTIVITY_WINDOW", 200*time.Millisecond),
			FlushThreshold:        envInt("CHRONICLE_AUDIT_FLUSH_THRESHOLD", 50),
			ShutdownTimeout:       envDuration("CHRONICLE_AUDIT_SHUTDOWN_TIMEOUT", 10*time.Second),
			JobInterval:           envDuration("CHRONICLE_AUDIT_JOB_INTERVAL", time.Minute),
			DirectNotifications:   os.Getenv("CHRONICLE_AUDIT_DIRECT") == "true",
			AsyncDisabled:         os.Getenv("CHRONICLE_AUDIT_ASYNC_DISABLED") == "true",
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
