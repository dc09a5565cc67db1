package mailout

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimOptions controls how due jobs are selected and leased.
type ClaimOptions struct {
	// Limit caps the number of jobs claimed in one call.
	Limit int
	// Staleness is the age after which a claimed-but-unresolved job is
	// considered abandoned and becomes reclaimable.
	Staleness time.Duration
	// WorkerID identifies the claiming worker instance.
	WorkerID string
}

// Stats is a read-only snapshot of the outbox for health checks and alerting.
type Stats struct {
	Pending         int `json:"pending"`
	Claimed         int `json:"claimed"`
	Sent            int `json:"sent"`
	FailedRetryable int `json:"failedRetryable"`
	Exhausted       int `json:"exhausted"`
	// OldestPendingAgeSeconds is the age of the oldest pending job, or zero
	// when nothing is pending.
	OldestPendingAgeSeconds int64 `json:"oldestPendingAgeSeconds"`
}

// Store is the durable outbox table.
//
// ClaimBatch is the only operation that may transition a job out of
// pending/failed_retryable; it must be atomic with respect to concurrent
// claimants so that no two workers ever own the same job. Terminal writes
// (MarkSent, MarkFailed, MarkDuplicate) are conditioned on the claim still
// being held by the writing worker and return ErrNotClaimed otherwise, which
// makes sent/exhausted idempotent under stale references.
type Store interface {
	// Enqueue inserts a new pending job and returns its id.
	Enqueue(ctx context.Context, entry Entry) (uuid.UUID, error)

	// ClaimBatch atomically leases up to opts.Limit due jobs, oldest due
	// first. Due means pending/failed_retryable with next_attempt_at in the
	// past, or claimed with a lease older than opts.Staleness (a reclaim,
	// charged as one transient failed attempt). Claiming fewer jobs than
	// requested, including zero, is normal.
	ClaimBatch(ctx context.Context, opts ClaimOptions) ([]EmailJob, error)

	// MarkSent resolves a claimed job as sent, recording the provider
	// message id and incrementing the attempt count.
	MarkSent(ctx context.Context, job EmailJob, messageID string) error

	// MarkFailed resolves a claimed job as failed, incrementing the attempt
	// count and either scheduling the retry at retryAt or exhausting the job
	// when the retry budget is spent. It returns the resulting status; the
	// store is the single authority on the attempt ceiling.
	MarkFailed(ctx context.Context, job EmailJob, sendErr string, retryAt time.Time) (Status, error)

	// MarkDuplicate resolves a claimed job as sent without a provider
	// handoff, recording that an earlier job already delivered the same
	// intent.
	MarkDuplicate(ctx context.Context, job EmailJob) error

	// HasSent reports whether a sent job exists for the given related entity
	// and email type. This is the idempotency backstop against duplicate
	// enqueues by the business layer.
	HasSent(ctx context.Context, relatedEntityID, emailType string) (bool, error)

	// Stats returns counts by status and the oldest pending age. Read-only.
	Stats(ctx context.Context) (Stats, error)
}
