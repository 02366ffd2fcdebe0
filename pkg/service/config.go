package service

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wehubfusion/Talos/pkg/storage"
)

// DefaultSubject is the request/reply subject the service listens on.
const DefaultSubject = "talos.batch"

// Config holds batch service settings.
type Config struct {
	// Subject and Queue select the NATS subscription. Instances sharing a
	// queue group split the load.
	Subject string
	Queue   string

	// InlineLimit is the largest reply sent on the wire; larger replies go
	// to blob storage.
	InlineLimit int

	// MaxItems bounds the element count of one task.
	MaxItems int

	// MaxTasks bounds the task count of one request.
	MaxTasks int

	// TaskConcurrency bounds how many tasks of one request run at once.
	TaskConcurrency int

	// MaxInFlight bounds concurrently handled requests.
	MaxInFlight int

	// RequestTimeout cancels a request that runs too long. Zero disables it.
	RequestTimeout time.Duration

	// DrainTimeout bounds how long Stop lets queued and in-flight requests
	// finish before cancelling them. Zero waits without a bound.
	DrainTimeout time.Duration
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Subject:         DefaultSubject,
		Queue:           "talos",
		InlineLimit:     storage.DefaultInlineLimit,
		MaxItems:        1_000_000,
		MaxTasks:        64,
		TaskConcurrency: 4,
		MaxInFlight:     16,
		RequestTimeout:  30 * time.Second,
		DrainTimeout:    30 * time.Second,
	}
}

// LoadConfig reads TALOS_SERVICE_* variables over the defaults.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("TALOS_SERVICE_SUBJECT"); v != "" {
		cfg.Subject = v
	}
	if v, ok := os.LookupEnv("TALOS_SERVICE_QUEUE"); ok {
		cfg.Queue = v
	}
	cfg.InlineLimit = envInt("TALOS_SERVICE_INLINE_LIMIT", cfg.InlineLimit)
	cfg.MaxItems = envInt("TALOS_SERVICE_MAX_ITEMS", cfg.MaxItems)
	cfg.MaxTasks = envInt("TALOS_SERVICE_MAX_TASKS", cfg.MaxTasks)
	cfg.TaskConcurrency = envInt("TALOS_SERVICE_TASK_CONCURRENCY", cfg.TaskConcurrency)
	cfg.MaxInFlight = envInt("TALOS_SERVICE_MAX_IN_FLIGHT", cfg.MaxInFlight)
	if d, err := time.ParseDuration(os.Getenv("TALOS_SERVICE_REQUEST_TIMEOUT")); err == nil && d >= 0 {
		cfg.RequestTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("TALOS_SERVICE_DRAIN_TIMEOUT")); err == nil && d >= 0 {
		cfg.DrainTimeout = d
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Subject == "":
		return fmt.Errorf("subject is required")
	case c.InlineLimit <= 0:
		return fmt.Errorf("inline limit must be positive, got %d", c.InlineLimit)
	case c.MaxItems <= 0:
		return fmt.Errorf("max items must be positive, got %d", c.MaxItems)
	case c.MaxTasks <= 0:
		return fmt.Errorf("max tasks must be positive, got %d", c.MaxTasks)
	case c.TaskConcurrency <= 0:
		return fmt.Errorf("task concurrency must be positive, got %d", c.TaskConcurrency)
	case c.MaxInFlight <= 0:
		return fmt.Errorf("max in flight must be positive, got %d", c.MaxInFlight)
	case c.RequestTimeout < 0:
		return fmt.Errorf("request timeout must not be negative")
	case c.DrainTimeout < 0:
		return fmt.Errorf("drain timeout must not be negative")
	}
	return nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
