package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bindery/internal/job"
	"bindery/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
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

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	opts := []Option{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	r := New(newTestStore(t), logging.NewNop(), opts...)
	t.Cleanup(r.Close)
	return r
}

func collect(ch <-chan job.Report, n int, timeout time.Duration) []job.Report {
	var out []job.Report
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case report, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, report)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishThrottlesAndStaysMonotonic(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	ctx := context.Background()

	reports, cancel := r.Subscribe()
	defer cancel()

	h, err := r.Submit(ctx, newTestJob())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r.Publish(ctx, h, 0, "convert")
	r.Publish(ctx, h, 0.05, "convert") // same instant, throttled
	clock.Advance(150 * time.Millisecond)
	r.Publish(ctx, h, 0.04, "convert") // regression, dropped
	r.Publish(ctx, h, 0.2, "convert")
	r.Finish(ctx, h, nil)

	got := collect(reports, 3, 2*time.Second)
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d: %+v", len(got), got)
	}
	if got[0].Fraction != 0 || got[1].Fraction != 0.2 {
		t.Fatalf("unexpected fractions: %+v", got)
	}
	last := got[2]
	if last.Status != job.StatusCompleted || last.Fraction != 1 {
		t.Fatalf("terminal report wrong: %+v", last)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Fraction < got[i-1].Fraction {
			t.Fatalf("fractions regressed: %+v", got)
		}
	}
}

func TestStageChangeBypassesThrottle(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	ctx := context.Background()

	reports, cancel := r.Subscribe()
	defer cancel()

	h, _ := r.Submit(ctx, newTestJob())
	r.Publish(ctx, h, 0, "convert")
	r.Publish(ctx, h, 0.7, "concat") // same instant, new stage
	r.Finish(ctx, h, nil)

	got := collect(reports, 3, 2*time.Second)
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d: %+v", len(got), got)
	}
	if got[1].Stage != "concat" || got[1].Fraction != 0.7 {
		t.Fatalf("stage change report missing: %+v", got)
	}
}

func TestFinishErrorFreezesFraction(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	ctx := context.Background()

	h, _ := r.Submit(ctx, newTestJob())
	r.Publish(ctx, h, 0.4, "convert")
	cause := errors.New("encoder exploded")
	r.Finish(ctx, h, cause)

	// late callbacks from the failed attempt must not move the fraction
	r.Publish(ctx, h, 0.9, "convert")
	r.Finish(ctx, h, nil)

	rec, err := r.Job(ctx, h.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != job.StatusError {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if rec.Fraction != 0.4 {
		t.Fatalf("fraction = %v, want frozen 0.4", rec.Fraction)
	}
	if rec.ErrorMessage != "encoder exploded" {
		t.Fatalf("error message = %q", rec.ErrorMessage)
	}
}

func TestRetryAdvancesAttemptAndDropsStaleHandles(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	ctx := context.Background()

	h1, _ := r.Submit(ctx, newTestJob())
	r.Publish(ctx, h1, 0.3, "convert")
	r.Finish(ctx, h1, errors.New("boom"))

	h2, restored, err := r.Retry(ctx, h1.JobID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if h2.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", h2.Attempt)
	}
	if restored.Book.Title != "Dune" || restored.Quality.BitRate != 128000 {
		t.Fatalf("restored job lost fields: %+v", restored)
	}

	rec, _ := r.Job(ctx, h1.JobID)
	if rec.Status != job.StatusPending || rec.Fraction != 0 {
		t.Fatalf("retry should reset display state: %+v", rec)
	}

	// stale handle from attempt 1 is ignored
	r.Publish(ctx, h1, 0.9, "convert")
	rec, _ = r.Job(ctx, h1.JobID)
	if rec.Fraction != 0 {
		t.Fatalf("stale publish moved fraction: %+v", rec)
	}

	clock.Advance(time.Second)
	r.Publish(ctx, h2, 0.1, "convert")
	rec, _ = r.Job(ctx, h1.JobID)
	if rec.Fraction != 0.1 || rec.Attempt != 2 {
		t.Fatalf("new attempt publish not applied: %+v", rec)
	}
}

func TestRetryRejectsNonErrorJobs(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	ctx := context.Background()

	h, _ := r.Submit(ctx, newTestJob())
	if _, _, err := r.Retry(ctx, h.JobID); err == nil {
		t.Fatal("retry of a pending job should fail")
	}

	r.Finish(ctx, h, nil)
	if _, _, err := r.Retry(ctx, h.JobID); err == nil {
		t.Fatal("retry of a completed job should fail")
	}
}

func TestFinishIsExactlyOnce(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	ctx := context.Background()

	reports, cancel := r.Subscribe()
	defer cancel()

	h, _ := r.Submit(ctx, newTestJob())
	r.Finish(ctx, h, nil)
	r.Finish(ctx, h, nil)
	r.Finish(ctx, h, errors.New("late failure"))

	got := collect(reports, 2, 500*time.Millisecond)
	terminal := 0
	for _, report := range got {
		if report.Status.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected exactly one terminal report, got %d: %+v", terminal, got)
	}

	rec, _ := r.Job(ctx, h.JobID)
	if rec.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
}

func TestClearCompleted(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	ctx := context.Background()

	done, _ := r.Submit(ctx, newTestJob())
	running, _ := r.Submit(ctx, newTestJob())
	r.Finish(ctx, done, nil)
	r.Publish(ctx, running, 0.5, "convert")

	removed, err := r.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	records, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != running.JobID {
		t.Fatalf("expected only the running job to remain: %+v", records)
	}
}
