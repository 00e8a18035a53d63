package jobs

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

type funcRunner func(ctx context.Context, req Request) Result

func (f funcRunner) Run(ctx context.Context, req Request) Result { return f(ctx, req) }

func newTestScheduler(t *testing.T, runner Runner, coalesce bool) *Scheduler {
	t.Helper()
	s, err := NewScheduler(runner, &SchedulerConfig{
		Workers:          2,
		DebounceInterval: 20 * time.Millisecond,
		Coalesce:         coalesce,
		JobTimeout:       time.Second,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitRuns(t *testing.T, runs <-chan Request, n int) []Request {
	t.Helper()
	var got []Request
	for len(got) < n {
		select {
		case req := <-runs:
			got = append(got, req)
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for %d runs, got %d", n, len(got))
		}
	}
	return got
}

func expectNoRun(t *testing.T, runs <-chan Request) {
	t.Helper()
	select {
	case req := <-runs:
		t.Errorf("unexpected run of %s", req)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(t, funcRunner(func(context.Context, Request) Result { return ResultSuccess }), true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Second Start() should fail when scheduler is already running")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Second Stop() failed: %v", err)
	}
}

func TestScheduler_Coalesces(t *testing.T) {
	runs := make(chan Request, 10)
	s := newTestScheduler(t, funcRunner(func(_ context.Context, req Request) Result {
		runs <- req
		return ResultSuccess
	}), true)

	for i := 0; i < 3; i++ {
		s.Enqueue(TaskRequest(42))
	}
	s.Enqueue(ListRequest(1))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	got := waitRuns(t, runs, 2)
	expectNoRun(t, runs)

	seen := map[string]bool{}
	for _, req := range got {
		seen[req.Key()] = true
	}
	if !seen[TaskRequest(42).Key()] || !seen[ListRequest(1).Key()] {
		t.Errorf("unexpected runs: %v", got)
	}
	if st := s.Stats(); st.Coalesced != 2 || st.Enqueued != 4 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestScheduler_WithoutCoalescing(t *testing.T) {
	runs := make(chan Request, 10)
	s := newTestScheduler(t, funcRunner(func(_ context.Context, req Request) Result {
		runs <- req
		return ResultSuccess
	}), false)

	for i := 0; i < 3; i++ {
		s.Enqueue(TaskRequest(42))
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	waitRuns(t, runs, 3)
	expectNoRun(t, runs)
}

func TestScheduler_EnqueueWhileRunning(t *testing.T) {
	runs := make(chan Request, 10)
	release := make(chan struct{})
	var calls atomic.Int32
	s := newTestScheduler(t, funcRunner(func(_ context.Context, req Request) Result {
		runs <- req
		if calls.Add(1) == 1 {
			<-release
		}
		return ResultSuccess
	}), true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Enqueue(TaskRequest(1))
	waitRuns(t, runs, 1)

	// The first run is still in progress; an equal request must run again.
	s.Enqueue(TaskRequest(1))
	close(release)
	waitRuns(t, runs, 1)
}

func TestScheduler_Retry(t *testing.T) {
	runs := make(chan Request, 10)
	var calls atomic.Int32
	s := newTestScheduler(t, funcRunner(func(_ context.Context, req Request) Result {
		runs <- req
		if calls.Add(1) == 1 {
			return ResultRetry
		}
		return ResultSuccess
	}), true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Enqueue(FullResync())

	waitRuns(t, runs, 2)
	expectNoRun(t, runs)
	if st := s.Stats(); st.Retried != 1 {
		t.Errorf("expected 1 retry, got %+v", st)
	}
}

func TestScheduler_JobTimeout(t *testing.T) {
	deadlines := make(chan bool, 1)
	s := newTestScheduler(t, funcRunner(func(ctx context.Context, _ Request) Result {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return ResultSuccess
	}), true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Enqueue(ListRequest(5))

	select {
	case ok := <-deadlines:
		if !ok {
			t.Error("job context should carry the configured timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for job")
	}
}

func TestScheduler_RunsWork(t *testing.T) {
	rec := &fakeReconciler{}
	ref := &fakeRefresher{}
	w, err := NewWork(rec, ref, &fakeReporter{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWork() failed: %v", err)
	}
	s := newTestScheduler(t, w, true)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	s.Enqueue(TaskRequest(9))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Completed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.tasks) != 1 || rec.tasks[0] != 9 {
		t.Errorf("expected SyncTask(9), got %v", rec.tasks)
	}
}

func TestScheduler_SteadyStreamStillDispatches(t *testing.T) {
	runs := make(chan Request, 10)
	s, err := NewScheduler(funcRunner(func(_ context.Context, req Request) Result {
		runs <- req
		return ResultSuccess
	}), &SchedulerConfig{
		Workers:          1,
		DebounceInterval: 20 * time.Millisecond,
		Coalesce:         true,
		MaxDelay:         100 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Re-enqueue faster than the debounce interval so the window never closes.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.Enqueue(ListRequest(7))
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	select {
	case req := <-runs:
		if req.Key() != ListRequest(7).Key() {
			t.Errorf("unexpected run of %s", req)
		}
	case <-time.After(time.Second):
		t.Fatal("request was never dispatched while being re-enqueued")
	}
}

func TestScheduler_TakeReadyHonoursMaxDelay(t *testing.T) {
	s, err := NewScheduler(funcRunner(func(context.Context, Request) Result { return ResultSuccess }), &SchedulerConfig{
		Workers:          1,
		DebounceInterval: time.Second,
		Coalesce:         true,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if s.config.MaxDelay != 10*time.Second {
		t.Errorf("MaxDelay = %v, want 10s", s.config.MaxDelay)
	}

	s.Enqueue(TaskRequest(1))
	s.pendingMu.Lock()
	job := s.pending[s.byKey[TaskRequest(1).Key()]]
	first := job.firstQueued
	s.pendingMu.Unlock()

	// A coalesced request moves the debounce window but not the first enqueue.
	s.Enqueue(TaskRequest(1))
	s.pendingMu.Lock()
	if !job.firstQueued.Equal(first) {
		t.Error("coalescing should keep the first enqueue time")
	}
	job.queuedAt = first.Add(9500 * time.Millisecond)
	s.pendingMu.Unlock()

	if ready := s.takeReady(first.Add(9900 * time.Millisecond)); len(ready) != 0 {
		t.Fatalf("expected nothing ready inside both windows, got %d", len(ready))
	}
	ready := s.takeReady(first.Add(10 * time.Second))
	if len(ready) != 1 || ready[0].req.Key() != TaskRequest(1).Key() {
		t.Fatalf("expected the task request once MaxDelay passed, got %v", ready)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after dispatch, want 0", s.Pending())
	}
}
