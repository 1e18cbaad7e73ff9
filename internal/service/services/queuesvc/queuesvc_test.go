package queuesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/happydotemdr/hookrelay/internal/backoff"
	"github.com/happydotemdr/hookrelay/internal/dal/repositories/entry/memory"
	"github.com/happydotemdr/hookrelay/internal/delivery"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// stubDeliverer replays a scripted sequence of results, repeating the last
// one once the script runs out.
type stubDeliverer struct {
	results []delivery.Result
	calls   int
}

func (d *stubDeliverer) Send(_ context.Context, _ []byte, _ delivery.AttemptMetadata) delivery.Result {
	i := d.calls
	d.calls++
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	return d.results[i]
}

func success() delivery.Result {
	return delivery.Result{Outcome: delivery.OutcomeSuccess, StatusCode: 200}
}

func retryable() delivery.Result {
	return delivery.Result{
		Outcome:    delivery.OutcomeRetryable,
		StatusCode: 503,
		Err:        errors.New("endpoint returned status 503"),
	}
}

func nonRetryable() delivery.Result {
	return delivery.Result{
		Outcome:    delivery.OutcomeNonRetryable,
		StatusCode: 400,
		Err:        errors.New("endpoint returned status 400"),
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *QueueService
	repo  *memory.EntryRepository
	stub  *stubDeliverer
	clock *fakeClock
}

func newFixture(t *testing.T, maxRetries int, results ...delivery.Result) *fixture {
	t.Helper()

	repo := memory.NewEntryRepository()
	stub := &stubDeliverer{results: results}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	svc := MustNewQueueService(
		WithEntryRepository(repo),
		WithDeliveryClient(stub),
		WithBackoffPolicy(backoff.NewPolicy(60*time.Second, 2, time.Hour)),
		WithMaxRetries(maxRetries),
		WithClock(clock.Now),
	)

	return &fixture{svc: svc, repo: repo, stub: stub, clock: clock}
}

func (f *fixture) enqueue(t *testing.T, requestID string) entry.QueueEntry {
	t.Helper()
	e, err := f.svc.Enqueue(context.Background(), requestID, json.RawMessage(`{"event":"session_end"}`))
	if err != nil {
		t.Fatalf("Enqueue(%s) error: %v", requestID, err)
	}
	return e
}

// runEligiblePass advances the clock past the largest possible backoff window
// and runs one pass.
func (f *fixture) runEligiblePass(t *testing.T) entry.PassSummary {
	t.Helper()
	f.clock.Advance(2 * time.Hour)
	summary, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	return summary
}

func (f *fixture) find(t *testing.T, state entry.State, requestID string) (entry.QueueEntry, bool) {
	t.Helper()
	entries, err := f.repo.List(context.Background(), state, 0, 0)
	if err != nil {
		t.Fatalf("List(%s) error: %v", state, err)
	}
	for _, e := range entries {
		if e.RequestID == requestID {
			return e, true
		}
	}
	return entry.QueueEntry{}, false
}

func (f *fixture) partitionOf(t *testing.T, requestID string) (entry.State, int) {
	t.Helper()
	found := 0
	var at entry.State
	for _, s := range entry.States {
		if _, ok := f.find(t, s, requestID); ok {
			found++
			at = s
		}
	}
	return at, found
}

func TestEnqueue_GeneratesRequestID(t *testing.T) {
	f := newFixture(t, 3, success())

	e := f.enqueue(t, "")
	if e.RequestID == "" {
		t.Fatal("Enqueue() left RequestID empty")
	}
	if e.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", e.RetryCount)
	}
}

func TestRunOnce_SuccessDeletesEntry(t *testing.T) {
	// Scenario A: delivery succeeds, the entry vanishes from every
	// partition and one success is counted.
	f := newFixture(t, 3, success())
	f.enqueue(t, "r1")

	summary := f.runEligiblePass(t)

	if summary.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", summary.Delivered)
	}
	if _, found := f.partitionOf(t, "r1"); found != 0 {
		t.Errorf("r1 found in %d partitions after success, want 0", found)
	}
}

func TestRunOnce_RetryBudgetExhaustion(t *testing.T) {
	// Scenario B: three retryable failures with maxRetries=3 end in
	// failed with retry_count=3 and a "max retries" reason.
	f := newFixture(t, 3, retryable())
	f.enqueue(t, "r2")

	for pass := 1; pass <= 3; pass++ {
		f.runEligiblePass(t)
	}

	e, ok := f.find(t, entry.StateFailed, "r2")
	if !ok {
		t.Fatal("r2 not in failed partition after exhausting the budget")
	}
	if e.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", e.RetryCount)
	}
	if !strings.Contains(e.FailureReason, "max retries") {
		t.Errorf("FailureReason = %q, want mention of max retries", e.FailureReason)
	}
	if f.stub.calls != 3 {
		t.Errorf("delivery attempts = %d, want 3", f.stub.calls)
	}
}

func TestRunOnce_NonRetryableGoesStraightToFailed(t *testing.T) {
	// Scenario C: a permanent rejection is terminal on the first attempt
	// and does not consume retry budget.
	f := newFixture(t, 5, nonRetryable())
	f.enqueue(t, "r3")

	summary := f.runEligiblePass(t)

	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	e, ok := f.find(t, entry.StateFailed, "r3")
	if !ok {
		t.Fatal("r3 not in failed partition")
	}
	if e.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (unchanged)", e.RetryCount)
	}
	if !strings.Contains(e.FailureReason, "non-retryable") {
		t.Errorf("FailureReason = %q, want mention of non-retryable", e.FailureReason)
	}
}

func TestRunOnce_FreshEntryNotEligibleBeforeBackoffWindow(t *testing.T) {
	// Scenario D: with a 60s base delay, a pass run immediately after
	// enqueue must not touch the entry.
	f := newFixture(t, 3, success())
	f.enqueue(t, "r4")

	summary, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	if total := summary.Delivered + summary.Requeued + summary.Failed + summary.Skipped; total != 0 {
		t.Errorf("pass touched %d entries, want 0", total)
	}
	e, ok := f.find(t, entry.StatePending, "r4")
	if !ok {
		t.Fatal("r4 left the pending partition")
	}
	if e.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", e.RetryCount)
	}
	if f.stub.calls != 0 {
		t.Errorf("delivery attempts = %d, want 0", f.stub.calls)
	}
}

func TestRunOnce_RetryBoundaryIsIncrementThenCheck(t *testing.T) {
	// retryCount = maxRetries-1 plus a retryable failure must go terminal,
	// not get one more round through pending.
	f := newFixture(t, 3, retryable())
	now := f.clock.Now()
	mustInsert(t, f.repo, entry.QueueEntry{
		RequestID:     "boundary",
		Payload:       json.RawMessage(`{}`),
		RetryCount:    2, // maxRetries - 1
		EnqueuedAt:    now,
		NextAttemptAt: now,
	})

	f.runEligiblePass(t)

	e, ok := f.find(t, entry.StateFailed, "boundary")
	if !ok {
		t.Fatal("entry at maxRetries-1 not moved to failed on retryable failure")
	}
	if e.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", e.RetryCount)
	}
}

func TestRunOnce_BelowRetryBoundaryRequeues(t *testing.T) {
	// retryCount = maxRetries-2 under the same failure goes back to
	// pending with retryCount = maxRetries-1.
	f := newFixture(t, 3, retryable())
	now := f.clock.Now()
	mustInsert(t, f.repo, entry.QueueEntry{
		RequestID:     "below",
		Payload:       json.RawMessage(`{}`),
		RetryCount:    1, // maxRetries - 2
		EnqueuedAt:    now,
		NextAttemptAt: now,
	})

	summary := f.runEligiblePass(t)

	if summary.Requeued != 1 {
		t.Errorf("Requeued = %d, want 1", summary.Requeued)
	}
	e, ok := f.find(t, entry.StatePending, "below")
	if !ok {
		t.Fatal("entry below the boundary not requeued to pending")
	}
	if e.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", e.RetryCount)
	}
	if !e.NextAttemptAt.After(f.clock.Now()) {
		t.Errorf("NextAttemptAt = %v, want after now %v", e.NextAttemptAt, f.clock.Now())
	}
}

func TestRunOnce_RequeueSchedulesBackoffForNewRetryCount(t *testing.T) {
	f := newFixture(t, 5, retryable())
	f.enqueue(t, "r5")

	f.runEligiblePass(t)

	e, ok := f.find(t, entry.StatePending, "r5")
	if !ok {
		t.Fatal("r5 not requeued")
	}
	// Policy: 60s base, multiplier 2. New retry count is 1, so the delay
	// is Delay(1) = 120s from the pass time.
	want := f.clock.Now().Add(120 * time.Second)
	if !e.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", e.NextAttemptAt, want)
	}
}

func TestRunOnce_SecondPassIsIdempotent(t *testing.T) {
	f := newFixture(t, 3, retryable())
	f.enqueue(t, "r6")

	first := f.runEligiblePass(t)
	if first.Requeued != 1 {
		t.Fatalf("first pass Requeued = %d, want 1", first.Requeued)
	}

	// No clock advance: the requeued entry is not yet eligible again.
	second, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if total := second.Delivered + second.Requeued + second.Failed + second.Skipped; total != 0 {
		t.Errorf("second pass touched %d entries, want 0", total)
	}
	if f.stub.calls != 1 {
		t.Errorf("delivery attempts = %d, want 1", f.stub.calls)
	}
}

func TestRunOnce_SuccessAfterRetries(t *testing.T) {
	f := newFixture(t, 5, retryable(), retryable(), success())
	f.enqueue(t, "r7")

	f.runEligiblePass(t)
	f.runEligiblePass(t)
	summary := f.runEligiblePass(t)

	if summary.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", summary.Delivered)
	}
	if _, found := f.partitionOf(t, "r7"); found != 0 {
		t.Errorf("r7 found in %d partitions after eventual success, want 0", found)
	}
}

func TestRunOnce_MixedBatchCountsEachOutcome(t *testing.T) {
	f := newFixture(t, 3, success(), retryable(), nonRetryable())
	f.enqueue(t, "a-ok")
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "b-retry")
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, "c-reject")

	summary := f.runEligiblePass(t)

	if summary.Delivered != 1 || summary.Requeued != 1 || summary.Failed != 1 {
		t.Errorf("summary = delivered %d, requeued %d, failed %d; want 1 each",
			summary.Delivered, summary.Requeued, summary.Failed)
	}
	if summary.CountsAfter.Pending != 1 || summary.CountsAfter.Failed != 1 || summary.CountsAfter.Processing != 0 {
		t.Errorf("CountsAfter = %+v, want pending 1, processing 0, failed 1", summary.CountsAfter)
	}
}

func TestRunOnce_EntryNeverInTwoPartitions(t *testing.T) {
	f := newFixture(t, 3, retryable())
	f.enqueue(t, "solo")

	for range 3 {
		f.runEligiblePass(t)
		if _, found := f.partitionOf(t, "solo"); found > 1 {
			t.Fatalf("solo found in %d partitions, want at most 1", found)
		}
	}
}

// failingRepo wraps the memory repository and fails ListReady to simulate a
// store I/O fault.
type failingRepo struct {
	*memory.EntryRepository
}

func (r *failingRepo) ListReady(context.Context, time.Time) ([]entry.QueueEntry, error) {
	return nil, fmt.Errorf("disk unavailable")
}

func TestRunOnce_StoreFaultAbortsPass(t *testing.T) {
	repo := &failingRepo{EntryRepository: memory.NewEntryRepository()}
	svc := MustNewQueueService(
		WithEntryRepository(repo),
		WithDeliveryClient(&stubDeliverer{results: []delivery.Result{success()}}),
	)

	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() error = nil, want store fault to abort the pass")
	}
}

func TestReclaimStale_UsesConfiguredThreshold(t *testing.T) {
	f := newFixture(t, 3, success())
	now := f.clock.Now()

	stranded := entry.QueueEntry{
		RequestID:     "stranded",
		Payload:       json.RawMessage(`{}`),
		EnqueuedAt:    now.Add(-time.Hour),
		LastAttemptAt: now.Add(-time.Hour),
		NextAttemptAt: now.Add(-time.Hour),
	}
	if err := f.repo.Insert(context.Background(), entry.StateProcessing, stranded); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	moved, err := f.svc.ReclaimStale(context.Background())
	if err != nil {
		t.Fatalf("ReclaimStale() error: %v", err)
	}
	if moved != 1 {
		t.Errorf("ReclaimStale() moved %d, want 1", moved)
	}
	if _, ok := f.find(t, entry.StatePending, "stranded"); !ok {
		t.Error("stranded entry not back in pending")
	}
}

func mustInsert(t *testing.T, repo *memory.EntryRepository, e entry.QueueEntry) {
	t.Helper()
	if err := repo.Insert(context.Background(), entry.StatePending, e); err != nil {
		t.Fatalf("Insert(%s) error: %v", e.RequestID, err)
	}
}
