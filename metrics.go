package mailout

import "time"

// Metrics captures dispatch-cycle telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time to run one claim+dispatch cycle.
	ObserveCycleDuration(duration time.Duration)
	// AddSent increments the count of emails handed to the provider.
	AddSent(count int)
	// AddFailed increments the count of failed attempts (retryable or not).
	AddFailed(count int)
	// AddSkipped increments the count of jobs skipped as duplicate intents.
	AddSkipped(count int)
	// AddExhausted increments the count of jobs that exceeded the retry budget.
	AddExhausted(count int)
	// SetPending updates the current pending job count.
	SetPending(count int)
	// SetExhausted updates the current exhausted job count.
	SetExhausted(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddSkipped implements Metrics.
func (NopMetrics) AddSkipped(int) {}

// AddExhausted implements Metrics.
func (NopMetrics) AddExhausted(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

// SetExhausted implements Metrics.
func (NopMetrics) SetExhausted(int) {}
