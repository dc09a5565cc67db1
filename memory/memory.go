// Package memory provides an in-memory email outbox store for tests and
// local development. It honors the same claim and terminal-write semantics
// as the MySQL store, including staleness reclaim and the attempt ceiling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carevia/mailout"
)

const defaultMaxAttempts = 5

const staleLeaseError = "claim lease expired; previous worker presumed crashed"

// Store is a mutex-guarded in-memory mailout.Store.
type Store struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*mailout.EmailJob
	maxAttempts int
	clock       mailout.Clock
}

var _ mailout.Store = (*Store)(nil)

// Option configures the memory store.
type Option func(*Store)

// WithMaxAttempts sets the retry budget before a job is exhausted.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) {
		s.maxAttempts = attempts
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock mailout.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[uuid.UUID]*mailout.EmailJob),
		maxAttempts: defaultMaxAttempts,
		clock:       mailout.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.clock == nil {
		s.clock = mailout.SystemClock{}
	}

	return s
}

// Enqueue inserts a new pending job.
func (s *Store) Enqueue(_ context.Context, entry mailout.Entry) (uuid.UUID, error) {
	if err := entry.Validate(); err != nil {
		return uuid.Nil, err
	}

	id := entry.ID
	if id == uuid.Nil {
		var err error
		id, err = uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("mailout memory: generate id failed: %w", err)
		}
	}

	now := s.clock.Now()
	nextAttempt := entry.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[id] = &mailout.EmailJob{
		ID:              id,
		Recipient:       entry.Recipient,
		Subject:         entry.Subject,
		BodyHTML:        entry.BodyHTML,
		EmailType:       entry.EmailType,
		RelatedEntityID: entry.RelatedEntityID,
		Status:          mailout.StatusPending,
		NextAttemptAt:   nextAttempt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	return id, nil
}

// ClaimBatch leases up to opts.Limit due jobs, oldest due first. The single
// mutex makes the whole selection+claim atomic, which trivially satisfies the
// at-most-one-claimant property; concurrent callers still exercise the same
// partial-claim behavior as the SQL store.
func (s *Store) ClaimBatch(_ context.Context, opts mailout.ClaimOptions) ([]mailout.EmailJob, error) {
	if opts.Limit <= 0 {
		return nil, mailout.ErrInvalidBatchSize
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*mailout.EmailJob, 0, opts.Limit)
	for _, job := range s.jobs {
		if s.isDue(job, now, opts.Staleness) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}

	claimed := make([]mailout.EmailJob, 0, len(due))
	for _, job := range due {
		if job.Status == mailout.StatusClaimed {
			job.AttemptCount++
			job.LastError = staleLeaseError
			if job.AttemptCount >= s.maxAttempts {
				// The stall spent the last attempt of the budget.
				job.Status = mailout.StatusExhausted
				job.ClaimedAt = nil
				job.ClaimedBy = ""
				job.UpdatedAt = now

				continue
			}
		}
		job.Status = mailout.StatusClaimed
		claimedAt := now
		job.ClaimedAt = &claimedAt
		job.ClaimedBy = opts.WorkerID
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}

	return claimed, nil
}

func (s *Store) isDue(job *mailout.EmailJob, now time.Time, staleness time.Duration) bool {
	switch job.Status {
	case mailout.StatusPending, mailout.StatusFailedRetryable:
		return !job.NextAttemptAt.After(now)
	case mailout.StatusClaimed:
		if staleness <= 0 || job.ClaimedAt == nil {
			return false
		}

		return !job.ClaimedAt.After(now.Add(-staleness))
	default:
		return false
	}
}

// MarkSent resolves a claimed job as sent.
func (s *Store) MarkSent(_ context.Context, job mailout.EmailJob, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.claimedBy(job)
	if err != nil {
		return err
	}

	stored.Status = mailout.StatusSent
	stored.AttemptCount++
	stored.MessageID = messageID
	stored.LastError = ""
	stored.ClaimedAt = nil
	stored.ClaimedBy = ""
	stored.UpdatedAt = s.clock.Now()

	return nil
}

// MarkFailed resolves a claimed job as failed, exhausting it when the retry
// budget is spent.
func (s *Store) MarkFailed(_ context.Context, job mailout.EmailJob, sendErr string, retryAt time.Time) (mailout.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.claimedBy(job)
	if err != nil {
		return "", err
	}

	stored.AttemptCount++
	stored.LastError = sendErr
	stored.ClaimedAt = nil
	stored.ClaimedBy = ""
	stored.UpdatedAt = s.clock.Now()
	if stored.AttemptCount >= s.maxAttempts {
		stored.Status = mailout.StatusExhausted
	} else {
		stored.Status = mailout.StatusFailedRetryable
		stored.NextAttemptAt = retryAt
	}

	return stored.Status, nil
}

// MarkDuplicate resolves a claimed job as sent without a provider handoff.
func (s *Store) MarkDuplicate(_ context.Context, job mailout.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.claimedBy(job)
	if err != nil {
		return err
	}

	stored.Status = mailout.StatusSent
	stored.AttemptCount++
	stored.LastError = "skipped: duplicate send intent"
	stored.ClaimedAt = nil
	stored.ClaimedBy = ""
	stored.UpdatedAt = s.clock.Now()

	return nil
}

// HasSent reports whether a sent job exists for the related entity and email type.
func (s *Store) HasSent(_ context.Context, relatedEntityID, emailType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Status == mailout.StatusSent &&
			job.RelatedEntityID == relatedEntityID &&
			job.EmailType == emailType {
			return true, nil
		}
	}

	return false, nil
}

// Stats returns counts by status and the oldest pending age.
func (s *Store) Stats(_ context.Context) (mailout.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		stats  mailout.Stats
		oldest time.Time
	)
	for _, job := range s.jobs {
		switch job.Status {
		case mailout.StatusPending:
			stats.Pending++
			if oldest.IsZero() || job.CreatedAt.Before(oldest) {
				oldest = job.CreatedAt
			}
		case mailout.StatusClaimed:
			stats.Claimed++
		case mailout.StatusSent:
			stats.Sent++
		case mailout.StatusFailedRetryable:
			stats.FailedRetryable++
		case mailout.StatusExhausted:
			stats.Exhausted++
		}
	}
	if !oldest.IsZero() {
		age := int64(s.clock.Now().Sub(oldest).Seconds())
		if age > 0 {
			stats.OldestPendingAgeSeconds = age
		}
	}

	return stats, nil
}

// Get returns a copy of the stored job, for tests and inspection.
func (s *Store) Get(id uuid.UUID) (mailout.EmailJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return mailout.EmailJob{}, false
	}

	return *job, true
}

// claimedBy returns the stored job if it is still leased by job.ClaimedBy.
func (s *Store) claimedBy(job mailout.EmailJob) (*mailout.EmailJob, error) {
	stored, ok := s.jobs[job.ID]
	if !ok {
		return nil, mailout.ErrNotClaimed
	}
	if stored.Status != mailout.StatusClaimed || stored.ClaimedBy != job.ClaimedBy {
		return nil, mailout.ErrNotClaimed
	}

	return stored, nil
}
