package mailout

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize     = 25
	defaultStaleness     = 10 * time.Minute
	defaultBaseDelay     = time.Minute
	defaultMaxDelay      = time.Hour
	defaultSendTimeout   = 30 * time.Second
	workerIDSuffixLength = 8
)

// Config defines how the Dispatcher claims and processes jobs.
type Config struct {
	// BatchSize caps the number of jobs claimed per cycle.
	BatchSize int
	// Staleness is the claim lease age after which a job is reclaimable.
	Staleness time.Duration
	// Retry schedules the next attempt after a failure.
	Retry RetryPolicy
	// SendTimeout bounds a single provider call.
	SendTimeout time.Duration
	// WorkerID identifies this dispatcher instance in claim leases.
	WorkerID string
	// Limiter optionally bounds the provider request rate across sends.
	Limiter *rate.Limiter
	// PendingInterval is the minimum interval between pending/exhausted
	// gauge samples. Zero disables sampling.
	PendingInterval time.Duration
	Clock           Clock
	Logger          Logger
	Metrics         Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Staleness <= 0 {
		c.Staleness = defaultStaleness
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaultBaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaultMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.WorkerID == "" {
		c.WorkerID = "mailout-" + uuid.NewString()[:workerIDSuffixLength]
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Option configures Dispatcher behavior.
type Option func(*Config)

// WithBatchSize sets the number of jobs claimed per cycle.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithStaleness sets the claim lease age after which jobs are reclaimable.
func WithStaleness(staleness time.Duration) Option {
	return func(c *Config) {
		c.Staleness = staleness
	}
}

// WithRetryPolicy sets the backoff schedule for failed jobs.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Config) {
		c.Retry = policy
	}
}

// WithSendTimeout sets the per-send provider timeout.
func WithSendTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.SendTimeout = timeout
	}
}

// WithWorkerID sets the worker instance id recorded in claim leases.
func WithWorkerID(id string) Option {
	return func(c *Config) {
		c.WorkerID = id
	}
}

// WithRateLimiter bounds the provider request rate across sends.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Config) {
		c.Limiter = limiter
	}
}

// WithPendingInterval sets the minimum interval between pending/exhausted
// gauge samples. Use a positive value to enable sampling; the default is
// disabled.
func WithPendingInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PendingInterval = interval
	}
}

// WithClock sets the dispatcher clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
