package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carevia/mailout"
)

const (
	maxErrorLen = 1024

	// staleLeaseError is recorded on reclaim; the stall is charged as one
	// transient failed attempt.
	staleLeaseError = "claim lease expired; previous worker presumed crashed"
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements a MySQL-backed email outbox.
//
// Claiming uses optimistic per-row conditional updates rather than row locks:
// due rows are read without locking, then each is claimed with an UPDATE
// conditioned on the status and lease observed at read time. When two
// overlapping trigger invocations race for the same row, exactly one UPDATE
// matches; the loser sees zero affected rows and skips the job. No
// transaction spans the send, so a crashed worker leaves at worst a stale
// lease, which ClaimBatch reclaims after the staleness window.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var _ mailout.Store = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue inserts a new pending job using the store's own connection.
func (s *Store) Enqueue(ctx context.Context, entry mailout.Entry) (uuid.UUID, error) {
	return s.EnqueueTx(ctx, s.db, entry)
}

// EnqueueTx inserts a new pending job using the provided executor, so the
// enqueue can share the transaction of the business write that triggered the
// email (the outbox pattern's dual-write guarantee).
func (s *Store) EnqueueTx(ctx context.Context, exec Executor, entry mailout.Entry) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}
	if err := entry.Validate(); err != nil {
		return uuid.Nil, err
	}

	id := entry.ID
	if id == uuid.Nil {
		var err error
		id, err = uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("mailout mysql: generate id failed: %w", err)
		}
	}

	related := any(nil)
	if entry.RelatedEntityID != "" {
		related = entry.RelatedEntityID
	}
	nextAttempt := entry.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = s.cfg.Clock.Now()
	}

	_, err := exec.ExecContext(
		ctx,
		s.queries.insert,
		id.String(),
		entry.Recipient,
		entry.Subject,
		entry.BodyHTML,
		entry.EmailType,
		related,
		mailout.StatusPending,
		nextAttempt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mailout mysql: insert failed: %w", err)
	}

	return id, nil
}

// ClaimBatch reads due rows oldest-due-first, then claims each with a
// conditional update. Rows lost to a concurrent claimant are skipped
// silently; a partial result is normal.
func (s *Store) ClaimBatch(ctx context.Context, opts mailout.ClaimOptions) ([]mailout.EmailJob, error) {
	if opts.Limit <= 0 {
		return nil, mailout.ErrInvalidBatchSize
	}

	now := s.cfg.Clock.Now()
	candidates, err := s.selectDue(ctx, now, opts)
	if err != nil {
		return nil, err
	}

	claimed := make([]mailout.EmailJob, 0, len(candidates))
	for i := range candidates {
		job := candidates[i]
		won, err := s.claimOne(ctx, &job, now, opts.WorkerID)
		if err != nil {
			return claimed, err
		}
		if won {
			claimed = append(claimed, job)
		}
	}

	return claimed, nil
}

func (s *Store) selectDue(ctx context.Context, now time.Time, opts mailout.ClaimOptions) ([]mailout.EmailJob, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if opts.Staleness > 0 {
		staleBefore := now.Add(-opts.Staleness)
		rows, err = s.db.QueryContext(ctx, s.queries.selectDue,
			mailout.StatusPending, mailout.StatusFailedRetryable, now,
			mailout.StatusClaimed, staleBefore,
			opts.Limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, s.queries.selectDueNoReclaim,
			mailout.StatusPending, mailout.StatusFailedRetryable, now,
			opts.Limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("mailout mysql: select due failed: %w", err)
	}
	defer rows.Close()

	jobs := make([]mailout.EmailJob, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailout mysql: rows failed: %w", err)
	}

	return jobs, nil
}

// claimOne performs the per-row compare-and-swap. The job struct is updated
// in place to reflect the new lease when the claim wins.
func (s *Store) claimOne(ctx context.Context, job *mailout.EmailJob, now time.Time, workerID string) (bool, error) {
	var (
		res sql.Result
		err error
	)

	if job.Status == mailout.StatusClaimed {
		// The stall is charged as one attempt; when that attempt is the last
		// of the budget, the job is exhausted here instead of being handed out
		// for a send it is no longer entitled to.
		if job.AttemptCount+1 >= s.cfg.MaxAttempts {
			res, err := s.db.ExecContext(ctx, s.queries.reclaimExhaust,
				mailout.StatusExhausted, staleLeaseError,
				job.ID.String(), mailout.StatusClaimed, job.ClaimedBy, job.ClaimedAt,
			)
			if err != nil {
				return false, fmt.Errorf("mailout mysql: reclaim exhaust failed: %w", err)
			}
			if _, err := res.RowsAffected(); err != nil {
				return false, fmt.Errorf("mailout mysql: reclaim rows failed: %w", err)
			}

			return false, nil
		}

		// Stale lease reclaim: the CAS token is the previous lease.
		res, err = s.db.ExecContext(ctx, s.queries.claimStale,
			now, workerID, staleLeaseError,
			job.ID.String(), mailout.StatusClaimed, job.ClaimedBy, job.ClaimedAt,
		)
	} else {
		res, err = s.db.ExecContext(ctx, s.queries.claimFresh,
			mailout.StatusClaimed, now, workerID,
			job.ID.String(), job.Status,
		)
	}
	if err != nil {
		return false, fmt.Errorf("mailout mysql: claim update failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mailout mysql: claim rows failed: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if job.Status == mailout.StatusClaimed {
		job.AttemptCount++
		job.LastError = staleLeaseError
	}
	job.Status = mailout.StatusClaimed
	claimedAt := now
	job.ClaimedAt = &claimedAt
	job.ClaimedBy = workerID

	return true, nil
}

// MarkSent resolves a claimed job as sent. The write is conditioned on the
// lease still being held by job.ClaimedBy, so terminal states are never
// overwritten by stale workers.
func (s *Store) MarkSent(ctx context.Context, job mailout.EmailJob, messageID string) error {
	res, err := s.db.ExecContext(ctx, s.queries.markSent,
		mailout.StatusSent, nullIfEmpty(messageID), s.cfg.Clock.Now(),
		job.ID.String(), mailout.StatusClaimed, job.ClaimedBy,
	)
	if err != nil {
		return fmt.Errorf("mailout mysql: mark sent failed: %w", err)
	}

	return requireClaimed(res)
}

// MarkFailed resolves a claimed job as failed. The attempt increment and the
// exhaustion decision happen in one statement against the stored attempt
// count, so concurrent observers never see a half-applied transition.
func (s *Store) MarkFailed(ctx context.Context, job mailout.EmailJob, sendErr string, retryAt time.Time) (mailout.Status, error) {
	res, err := s.db.ExecContext(ctx, s.queries.markFailed,
		truncateError(sendErr),
		s.cfg.MaxAttempts, mailout.StatusExhausted, mailout.StatusFailedRetryable,
		s.cfg.MaxAttempts, retryAt,
		job.ID.String(), mailout.StatusClaimed, job.ClaimedBy,
	)
	if err != nil {
		return "", fmt.Errorf("mailout mysql: mark failed failed: %w", err)
	}
	if err := requireClaimed(res); err != nil {
		return "", err
	}

	if job.AttemptCount+1 >= s.cfg.MaxAttempts {
		return mailout.StatusExhausted, nil
	}

	return mailout.StatusFailedRetryable, nil
}

// MarkDuplicate resolves a claimed job as sent without a provider handoff.
func (s *Store) MarkDuplicate(ctx context.Context, job mailout.EmailJob) error {
	res, err := s.db.ExecContext(ctx, s.queries.markDuplicate,
		mailout.StatusSent, "skipped: duplicate send intent", s.cfg.Clock.Now(),
		job.ID.String(), mailout.StatusClaimed, job.ClaimedBy,
	)
	if err != nil {
		return fmt.Errorf("mailout mysql: mark duplicate failed: %w", err)
	}

	return requireClaimed(res)
}

// HasSent reports whether a sent job exists for the related entity and email type.
func (s *Store) HasSent(ctx context.Context, relatedEntityID, emailType string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, s.queries.hasSent,
		relatedEntityID, emailType, mailout.StatusSent,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("mailout mysql: has sent query failed: %w", err)
	}

	return exists, nil
}

// Stats returns counts by status and the oldest pending age. Read-only.
func (s *Store) Stats(ctx context.Context) (mailout.Stats, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.countByStatus)
	if err != nil {
		return mailout.Stats{}, fmt.Errorf("mailout mysql: status counts failed: %w", err)
	}
	defer rows.Close()

	var stats mailout.Stats
	for rows.Next() {
		var (
			status mailout.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return mailout.Stats{}, fmt.Errorf("mailout mysql: status scan failed: %w", err)
		}
		switch status {
		case mailout.StatusPending:
			stats.Pending = count
		case mailout.StatusClaimed:
			stats.Claimed = count
		case mailout.StatusSent:
			stats.Sent = count
		case mailout.StatusFailedRetryable:
			stats.FailedRetryable = count
		case mailout.StatusExhausted:
			stats.Exhausted = count
		}
	}
	if err := rows.Err(); err != nil {
		return mailout.Stats{}, fmt.Errorf("mailout mysql: status rows failed: %w", err)
	}

	var oldest sql.NullTime
	if err := s.db.QueryRowContext(ctx, s.queries.oldestPending, mailout.StatusPending).Scan(&oldest); err != nil {
		return mailout.Stats{}, fmt.Errorf("mailout mysql: oldest pending failed: %w", err)
	}
	if oldest.Valid {
		age := int64(s.cfg.Clock.Now().Sub(oldest.Time).Seconds())
		if age > 0 {
			stats.OldestPendingAgeSeconds = age
		}
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (mailout.EmailJob, error) {
	var (
		job       mailout.EmailJob
		id        string
		related   sql.NullString
		claimedAt sql.NullTime
		claimedBy sql.NullString
		messageID sql.NullString
		lastError sql.NullString
	)

	err := row.Scan(
		&id,
		&job.Recipient,
		&job.Subject,
		&job.BodyHTML,
		&job.EmailType,
		&related,
		&job.Status,
		&job.AttemptCount,
		&job.NextAttemptAt,
		&claimedAt,
		&claimedBy,
		&messageID,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return mailout.EmailJob{}, fmt.Errorf("mailout mysql: scan failed: %w", err)
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return mailout.EmailJob{}, fmt.Errorf("mailout mysql: invalid id %q: %w", id, err)
	}
	job.RelatedEntityID = related.String
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	job.ClaimedBy = claimedBy.String
	job.MessageID = messageID.String
	job.LastError = lastError.String

	return job, nil
}

func requireClaimed(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mailout mysql: rows affected failed: %w", err)
	}
	if affected == 0 {
		return mailout.ErrNotClaimed
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
