package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where the job count came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// DefaultAutoJobsMin is the element count below which auto jobs runs sequentially
const DefaultAutoJobsMin = 1000

// Config holds concurrency configuration parameters
type Config struct {
	// MaxJobs is the worker count used when a caller asks for auto jobs on a
	// large batch.
	MaxJobs int

	// AutoJobsMin is the batch size below which auto jobs picks 1.
	AutoJobsMin int

	// MaxBatches bounds how many batches the limiter admits at once.
	MaxBatches int

	// ArenaMaxBytes caps each worker arena.
	ArenaMaxBytes int

	// BreakerThreshold and BreakerCoolDown configure the batch circuit breaker.
	BreakerThreshold int64
	BreakerCoolDown  time.Duration

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads configuration with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if jobs := getEnvInt("TALOS_MAX_JOBS", 0); jobs > 0 {
		config.MaxJobs = jobs
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxJobs = config.EffectiveCPUs
		config.Source = ConfigSourceAutoDetect
	}
	config.MaxJobs = max(config.MaxJobs, 1)

	config.AutoJobsMin = getEnvInt("TALOS_AUTO_JOBS_MIN", DefaultAutoJobsMin)
	config.MaxBatches = getEnvInt("TALOS_MAX_BATCHES", defaultMaxBatches(config.IsKubernetes, config.EffectiveCPUs))
	config.ArenaMaxBytes = getEnvInt("TALOS_ARENA_MAX_MB", 1024) << 20
	config.BreakerThreshold = int64(getEnvInt("TALOS_CIRCUIT_BREAKER_THRESHOLD", 100))
	config.BreakerCoolDown = getEnvDuration("TALOS_CIRCUIT_BREAKER_TIMEOUT", 30*time.Second)

	return config
}

// AutoJobs picks a worker count for a batch of length elements: 1 for small
// batches, MaxJobs otherwise.
func (c *Config) AutoJobs(length int) int {
	if length < c.AutoJobsMin {
		return 1
	}
	return c.MaxJobs
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	// Kubernetes sets this environment variable in all containers
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// defaultMaxBatches keeps concurrent batches low in Kubernetes where each
// batch already fans out to every CPU
func defaultMaxBatches(isK8s bool, cpus int) int {
	if isK8s {
		return 2
	}
	return max(cpus/2, 2)
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxJobs: %d, AutoJobsMin: %d, MaxBatches: %d, ArenaMaxBytes: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxJobs,
		c.AutoJobsMin,
		c.MaxBatches,
		c.ArenaMaxBytes,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
