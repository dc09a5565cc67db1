package mailout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DispatchResult aggregates one cycle's outcomes. The counters are
// informational (logging, trigger responses); correctness never depends on
// them.
type DispatchResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Dispatcher claims due jobs from a Store and delivers them through a Sender.
//
// Multiple dispatchers (or overlapping invocations of the same one) may run
// against the same store concurrently; the store's atomic claim is the sole
// mutual-exclusion mechanism, so no external locking is needed or wanted.
type Dispatcher struct {
	store  Store
	sender Sender
	cfg    Config

	pendingMu sync.Mutex
	pendingAt time.Time
}

// NewDispatcher constructs a Dispatcher with defaults and optional settings.
func NewDispatcher(store Store, sender Sender, opts ...Option) *Dispatcher {
	if store == nil {
		panic("mailout: nil Store")
	}
	if sender == nil {
		panic("mailout: nil Sender")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
	}
}

// ProcessOnce runs a single claim+dispatch cycle: it claims up to the
// configured batch size of due jobs and processes them. An error is returned
// only when the claim fails before any job was leased; callers treat that as
// "no jobs this cycle" and retry on the next trigger. A claim that errors
// after leasing some jobs still processes those jobs, so no committed lease
// is left to idle out the staleness window.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (DispatchResult, error) {
	start := time.Now()
	defer func() {
		d.cfg.Metrics.ObserveCycleDuration(time.Since(start))
	}()

	jobs, err := d.store.ClaimBatch(ctx, ClaimOptions{
		Limit:     d.cfg.BatchSize,
		Staleness: d.cfg.Staleness,
		WorkerID:  d.cfg.WorkerID,
	})
	if err != nil {
		if len(jobs) == 0 {
			return DispatchResult{}, fmt.Errorf("mailout claim failed: %w", err)
		}
		d.cfg.Logger.Warn("mailout claim interrupted, processing partial batch",
			"claimed", len(jobs), "err", err)
	}

	result := d.ProcessBatch(ctx, jobs)
	d.maybeSampleStats(ctx)

	return result, nil
}

// ProcessBatch processes jobs already claimed by this worker. A failure on
// one job never aborts the batch. If ctx is cancelled, the in-flight job is
// still resolved and the remaining jobs are left to the staleness reclaim.
func (d *Dispatcher) ProcessBatch(ctx context.Context, jobs []EmailJob) DispatchResult {
	var result DispatchResult
	for i := range jobs {
		if ctx.Err() != nil {
			d.cfg.Logger.Warn("mailout cycle cancelled, remaining jobs await staleness reclaim",
				"remaining", len(jobs)-i)

			break
		}

		result.Processed++
		switch d.processJob(ctx, jobs[i]) {
		case outcomeSent:
			result.Sent++
			d.cfg.Metrics.AddSent(1)
		case outcomeSkipped:
			result.Skipped++
			d.cfg.Metrics.AddSkipped(1)
		case outcomeFailed:
			result.Failed++
			d.cfg.Metrics.AddFailed(1)
		case outcomeExhausted:
			result.Failed++
			d.cfg.Metrics.AddFailed(1)
			d.cfg.Metrics.AddExhausted(1)
		}
	}

	return result
}

type jobOutcome int

const (
	outcomeSent jobOutcome = iota
	outcomeFailed
	outcomeExhausted
	outcomeSkipped
)

func (d *Dispatcher) processJob(ctx context.Context, job EmailJob) (out jobOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			d.cfg.Logger.Error("mailout sender panic", "job", job.ID, "panic", rec)
			out = d.resolveFailure(ctx, job, fmt.Errorf("%w: %v", ErrSendPanic, rec))
		}
	}()

	if job.RelatedEntityID != "" {
		sent, err := d.store.HasSent(ctx, job.RelatedEntityID, job.EmailType)
		if err != nil {
			return d.resolveFailure(ctx, job, fmt.Errorf("mailout dedupe check failed: %w", err))
		}
		if sent {
			return d.resolveDuplicate(ctx, job)
		}
	}

	if d.cfg.Limiter != nil {
		if err := d.cfg.Limiter.Wait(ctx); err != nil {
			return d.resolveFailure(ctx, job, fmt.Errorf("mailout dispatch cancelled before send: %w", err))
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	sendResult, err := d.sender.Send(sendCtx, Message{
		To:       job.Recipient,
		Subject:  job.Subject,
		HTMLBody: job.BodyHTML,
		Tags:     []string{job.EmailType},
	})
	cancel()
	if err != nil {
		return d.resolveFailure(ctx, job, err)
	}

	return d.resolveSent(ctx, job, sendResult.MessageID)
}

// resolveSent writes the terminal success state. The write uses an
// uncancellable context: the email already left, so the unit of work must be
// finished even if the trigger request was cancelled mid-send.
func (d *Dispatcher) resolveSent(ctx context.Context, job EmailJob, messageID string) jobOutcome {
	if err := d.store.MarkSent(context.WithoutCancel(ctx), job, messageID); err != nil {
		if errors.Is(err, ErrNotClaimed) {
			d.cfg.Logger.Warn("mailout job resolved elsewhere, dropping result", "job", job.ID)

			return outcomeSkipped
		}
		d.cfg.Logger.Error("mailout mark sent failed", "job", job.ID, "err", err)

		return outcomeFailed
	}

	d.cfg.Logger.Info("mailout email sent",
		"job", job.ID, "type", job.EmailType, "message_id", messageID)

	return outcomeSent
}

func (d *Dispatcher) resolveFailure(ctx context.Context, job EmailJob, sendErr error) jobOutcome {
	retryAt := d.cfg.Retry.NextAttemptTime(d.cfg.Clock.Now(), job.AttemptCount)
	status, err := d.store.MarkFailed(context.WithoutCancel(ctx), job, sendErr.Error(), retryAt)
	if err != nil {
		if errors.Is(err, ErrNotClaimed) {
			d.cfg.Logger.Warn("mailout job resolved elsewhere, dropping failure", "job", job.ID)

			return outcomeSkipped
		}
		d.cfg.Logger.Error("mailout mark failed failed", "job", job.ID, "err", err)

		return outcomeFailed
	}

	if status == StatusExhausted {
		d.cfg.Logger.Error("mailout job exhausted retry budget",
			"job", job.ID, "type", job.EmailType, "attempts", job.AttemptCount+1, "err", sendErr)

		return outcomeExhausted
	}

	d.cfg.Logger.Warn("mailout send failed, retry scheduled",
		"job", job.ID, "type", job.EmailType, "retry_at", retryAt, "err", sendErr)

	return outcomeFailed
}

func (d *Dispatcher) resolveDuplicate(ctx context.Context, job EmailJob) jobOutcome {
	if err := d.store.MarkDuplicate(context.WithoutCancel(ctx), job); err != nil {
		if errors.Is(err, ErrNotClaimed) {
			return outcomeSkipped
		}
		d.cfg.Logger.Error("mailout mark duplicate failed", "job", job.ID, "err", err)

		return outcomeFailed
	}

	d.cfg.Logger.Info("mailout duplicate intent skipped",
		"job", job.ID, "type", job.EmailType, "related", job.RelatedEntityID)

	return outcomeSkipped
}

func (d *Dispatcher) maybeSampleStats(ctx context.Context) {
	if d.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := d.cfg.Clock.Now()
	d.pendingMu.Lock()
	nextAllowed := d.pendingAt.Add(d.cfg.PendingInterval)
	if !d.pendingAt.IsZero() && now.Before(nextAllowed) {
		d.pendingMu.Unlock()

		return
	}
	d.pendingAt = now
	d.pendingMu.Unlock()

	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.cfg.Logger.Warn("mailout stats sample failed", "err", err)

		return
	}

	d.cfg.Metrics.SetPending(stats.Pending)
	d.cfg.Metrics.SetExhausted(stats.Exhausted)
}
