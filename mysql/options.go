package mysql

import "github.com/carevia/mailout"

const (
	defaultTable       = "email_outbox"
	defaultMaxAttempts = 5
)

// Config defines MySQL store behavior.
type Config struct {
	Table string
	// MaxAttempts is the retry budget; a failure that brings the attempt
	// count to this value exhausts the job.
	MaxAttempts int
	Clock       mailout.Clock
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Clock == nil {
		c.Clock = mailout.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTable sets the outbox table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithMaxAttempts sets the retry budget before a job is exhausted.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.MaxAttempts = attempts
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock mailout.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
