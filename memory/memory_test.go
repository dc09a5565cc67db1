package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carevia/mailout"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func testEntry(recipient string) mailout.Entry {
	return mailout.Entry{
		Recipient: recipient,
		Subject:   "subject",
		BodyHTML:  "<p>body</p>",
		EmailType: "welcome",
	}
}

func TestStoreEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	id, err := store.Enqueue(ctx, testEntry("a@example.com"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("expected generated id")
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 10, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != mailout.StatusClaimed {
		t.Fatalf("expected claimed status, got %q", jobs[0].Status)
	}
	if jobs[0].ClaimedBy != "w1" {
		t.Fatalf("expected claimed by w1, got %q", jobs[0].ClaimedBy)
	}

	again, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 10, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no jobs while lease held, got %d", len(again))
	}
}

func TestStoreClaimInvalidLimit(t *testing.T) {
	store := NewStore()
	if _, err := store.ClaimBatch(context.Background(), mailout.ClaimOptions{Limit: 0}); !errors.Is(err, mailout.ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
}

func TestStoreClaimOldestDueFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock))

	late := testEntry("late@example.com")
	late.NextAttemptAt = clock.Now().Add(-time.Minute)
	early := testEntry("early@example.com")
	early.NextAttemptAt = clock.Now().Add(-time.Hour)
	future := testEntry("future@example.com")
	future.NextAttemptAt = clock.Now().Add(time.Hour)

	for _, entry := range []mailout.Entry{late, early, future} {
		if _, err := store.Enqueue(ctx, entry); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Recipient != "early@example.com" {
		t.Fatalf("expected oldest due job first, got %+v", jobs)
	}

	rest, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 10, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim rest: %v", err)
	}
	if len(rest) != 1 || rest[0].Recipient != "late@example.com" {
		t.Fatalf("expected only the other due job, got %+v", rest)
	}
}

func TestStoreConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	const jobCount = 5
	for i := 0; i < jobCount; i++ {
		if _, err := store.Enqueue(ctx, testEntry("user@example.com")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	const workers = 10
	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: jobCount, WorkerID: "w"})
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			for _, job := range jobs {
				claimed[job.ID]++
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("expected %d distinct claimed jobs, got %d", jobCount, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestStoreStalenessReclaim(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock))

	id, err := store.Enqueue(ctx, testEntry("a@example.com"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, Staleness: 10 * time.Minute, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 job, got %d", len(first))
	}

	clock.Advance(9 * time.Minute)
	tooSoon, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, Staleness: 10 * time.Minute, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(tooSoon) != 0 {
		t.Fatalf("expected lease still held before staleness, got %d jobs", len(tooSoon))
	}

	clock.Advance(time.Minute)
	reclaimed, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, Staleness: 10 * time.Minute, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected stale job reclaimed, got %d", len(reclaimed))
	}
	if reclaimed[0].AttemptCount != 1 {
		t.Fatalf("expected reclaim charged as one attempt, got %d", reclaimed[0].AttemptCount)
	}
	if reclaimed[0].LastError == "" {
		t.Fatalf("expected reclaim reason recorded")
	}
	if reclaimed[0].ClaimedBy != "w2" {
		t.Fatalf("expected new owner w2, got %q", reclaimed[0].ClaimedBy)
	}

	// The original worker's terminal writes must now fail.
	if err := store.MarkSent(ctx, first[0], "mid"); !errors.Is(err, mailout.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed for stale owner, got %v", err)
	}

	stored, ok := store.Get(id)
	if !ok {
		t.Fatalf("expected job to exist")
	}
	if stored.Status != mailout.StatusClaimed || stored.ClaimedBy != "w2" {
		t.Fatalf("stale owner write must not alter the job: %+v", stored)
	}
}

func TestStoreStalenessReclaimExhaustsSpentBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock), WithMaxAttempts(2))

	id, err := store.Enqueue(ctx, testEntry("a@example.com"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.MarkFailed(ctx, jobs[0], "boom", clock.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Second claim then a crash: the lease goes stale with one attempt left.
	if _, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	clock.Advance(time.Hour)

	reclaimed, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, Staleness: 10 * time.Minute, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("expected no jobs handed out past the attempt ceiling, got %d", len(reclaimed))
	}

	stored, _ := store.Get(id)
	if stored.Status != mailout.StatusExhausted {
		t.Fatalf("expected exhausted at reclaim, got %q", stored.Status)
	}
	if stored.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", stored.AttemptCount)
	}
	if stored.LastError == "" {
		t.Fatalf("expected stall reason recorded")
	}
	if stored.ClaimedBy != "" || stored.ClaimedAt != nil {
		t.Fatalf("expected lease cleared, got %+v", stored)
	}
}

func TestStoreZeroStalenessDisablesReclaim(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock))

	if _, err := store.Enqueue(ctx, testEntry("a@example.com")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(24 * time.Hour)
	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no reclaim with zero staleness, got %d jobs", len(jobs))
	}
}

func TestStoreMarkFailedExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock), WithMaxAttempts(3))

	id, err := store.Enqueue(ctx, testEntry("a@example.com"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if len(jobs) != 1 {
			t.Fatalf("attempt %d: expected 1 job, got %d", attempt, len(jobs))
		}

		retryAt := clock.Now() // due immediately so the next claim sees it
		status, err := store.MarkFailed(ctx, jobs[0], "boom", retryAt)
		if err != nil {
			t.Fatalf("mark failed attempt %d: %v", attempt, err)
		}

		want := mailout.StatusFailedRetryable
		if attempt == 3 {
			want = mailout.StatusExhausted
		}
		if status != want {
			t.Fatalf("attempt %d: expected status %q, got %q", attempt, want, status)
		}
	}

	stored, _ := store.Get(id)
	if stored.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", stored.AttemptCount)
	}
	if stored.Status != mailout.StatusExhausted {
		t.Fatalf("expected exhausted, got %q", stored.Status)
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("exhausted job must not be claimable, got %d jobs", len(jobs))
	}
}

func TestStoreMarkSentTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	id, err := store.Enqueue(ctx, testEntry("a@example.com"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.MarkSent(ctx, jobs[0], "provider-123"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	stored, _ := store.Get(id)
	if stored.Status != mailout.StatusSent {
		t.Fatalf("expected sent, got %q", stored.Status)
	}
	if stored.MessageID != "provider-123" {
		t.Fatalf("expected message id recorded, got %q", stored.MessageID)
	}
	if stored.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", stored.AttemptCount)
	}

	// A second resolution of the same claim reference is rejected.
	if err := store.MarkSent(ctx, jobs[0], "provider-456"); !errors.Is(err, mailout.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed, got %v", err)
	}
	if _, err := store.MarkFailed(ctx, jobs[0], "boom", time.Now()); !errors.Is(err, mailout.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed, got %v", err)
	}

	again, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("sent job must not be claimable, got %d jobs", len(again))
	}
}

func TestStoreHasSentAndMarkDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first := testEntry("a@example.com")
	first.RelatedEntityID = "request-7"
	if _, err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sent, err := store.HasSent(ctx, "request-7", "welcome")
	if err != nil {
		t.Fatalf("has sent: %v", err)
	}
	if sent {
		t.Fatalf("expected no sent job yet")
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSent(ctx, jobs[0], "mid"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	sent, err = store.HasSent(ctx, "request-7", "welcome")
	if err != nil {
		t.Fatalf("has sent: %v", err)
	}
	if !sent {
		t.Fatalf("expected sent intent to be found")
	}
	if other, _ := store.HasSent(ctx, "request-7", "reminder"); other {
		t.Fatalf("expected different email type not to match")
	}

	second := testEntry("a@example.com")
	second.RelatedEntityID = "request-7"
	dupID, err := store.Enqueue(ctx, second)
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	dupJobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 1, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim duplicate: %v", err)
	}
	if err := store.MarkDuplicate(ctx, dupJobs[0]); err != nil {
		t.Fatalf("mark duplicate: %v", err)
	}

	stored, _ := store.Get(dupID)
	if stored.Status != mailout.StatusSent {
		t.Fatalf("expected duplicate resolved as sent, got %q", stored.Status)
	}
	if stored.MessageID != "" {
		t.Fatalf("expected no provider message id on duplicate, got %q", stored.MessageID)
	}
	if stored.LastError == "" {
		t.Fatalf("expected duplicate reason recorded")
	}
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithClock(clock), WithMaxAttempts(1))

	if _, err := store.Enqueue(ctx, testEntry("pending@example.com")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock.Advance(30 * time.Second)

	sentEntry := testEntry("sent@example.com")
	if _, err := store.Enqueue(ctx, sentEntry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadEntry := testEntry("dead@example.com")
	if _, err := store.Enqueue(ctx, deadEntry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := store.ClaimBatch(ctx, mailout.ClaimOptions{Limit: 3, WorkerID: "w1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		switch job.Recipient {
		case "sent@example.com":
			if err := store.MarkSent(ctx, job, "mid"); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
		case "dead@example.com":
			if _, err := store.MarkFailed(ctx, job, "boom", clock.Now()); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
		}
	}

	if _, err := store.Enqueue(ctx, testEntry("fresh@example.com")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock.Advance(30 * time.Second)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Claimed != 1 || stats.Sent != 1 || stats.Exhausted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestPendingAgeSeconds != 30 {
		t.Fatalf("expected oldest pending age 30s, got %d", stats.OldestPendingAgeSeconds)
	}
}
