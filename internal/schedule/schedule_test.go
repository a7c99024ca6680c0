package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"patientbot/internal/config"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	ticks chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, ticks: make(chan time.Time)}
}

func (f *fakeClock) clock() clock {
	return clock{
		now: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.now
		},
		after: func(d time.Duration) <-chan time.Time {
			f.mu.Lock()
			f.waits = append(f.waits, d)
			f.mu.Unlock()
			return f.ticks
		},
	}
}

func (f *fakeClock) fire(advance time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(advance)
	at := f.now
	f.mu.Unlock()
	f.ticks <- at
}

func (f *fakeClock) recordedWaits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func TestRunWaitsForNextTickAndRunsJob(t *testing.T) {
	sched, err := config.ParseSchedule("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	fc := newFakeClock(start)

	runs := make(chan struct{}, 4)
	calls := 0
	job := func(context.Context) error {
		calls++
		runs <- struct{}{}
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx, sched, time.UTC, fc.clock(), job)
		close(done)
	}()

	fc.fire(30 * time.Minute)
	<-runs
	fc.fire(24 * time.Hour)
	<-runs

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	waits := fc.recordedWaits()
	if len(waits) < 2 {
		t.Fatalf("expected at least 2 waits, got %v", waits)
	}
	if waits[0] != 30*time.Minute {
		t.Fatalf("first wait = %s, want 30m", waits[0])
	}
	if waits[1] != 24*time.Hour {
		t.Fatalf("second wait = %s, want 24h", waits[1])
	}
	if calls != 2 {
		t.Fatalf("expected job to keep running after an error, calls=%d", calls)
	}
}

func TestStartAnalysisSchedulerDisabled(t *testing.T) {
	job := func(context.Context) error { return nil }
	if StartAnalysisScheduler(context.Background(), "", time.UTC, job) {
		t.Fatal("empty schedule must not start")
	}
	if StartAnalysisScheduler(context.Background(), "not a cron", time.UTC, job) {
		t.Fatal("invalid schedule must not start")
	}
}

func TestStartAnalysisSchedulerStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !StartAnalysisScheduler(ctx, "0 9 * * 1-5", nil, func(context.Context) error { return nil }) {
		t.Fatal("expected scheduler to start")
	}
}
