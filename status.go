package mailout

// Status represents the lifecycle state of an outbox email job.
type Status string

const (
	// StatusPending indicates the job is queued and ready for claiming.
	StatusPending Status = "pending"
	// StatusClaimed indicates a worker currently holds the job lease.
	StatusClaimed Status = "claimed"
	// StatusSent indicates the email was handed to the provider. Terminal.
	StatusSent Status = "sent"
	// StatusFailedRetryable indicates a failed attempt with retries remaining.
	StatusFailedRetryable Status = "failed_retryable"
	// StatusExhausted indicates the job exceeded its retry budget and requires
	// operator intervention. Terminal.
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusExhausted
}
