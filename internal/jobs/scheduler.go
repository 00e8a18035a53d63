package jobs

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Workers is the number of jobs that may run at the same time
	Workers int

	// DebounceInterval is how long a request waits in the queue before it
	// is dispatched. Repeated requests within the window are batched.
	DebounceInterval time.Duration

	// Coalesce merges queued requests with the same key into one job.
	Coalesce bool

	// MaxDelay caps how long a coalesced request can be held back by
	// repeated requests. Zero means ten debounce intervals.
	MaxDelay time.Duration

	// JobTimeout bounds a single job. Zero means no timeout.
	JobTimeout time.Duration

	// Logger for scheduler activity
	Logger *log.Logger
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Workers:          2,
		DebounceInterval: 250 * time.Millisecond,
		Coalesce:         true,
		JobTimeout:       30 * time.Second,
		Logger:           log.New(os.Stderr, "[jobs] ", log.LstdFlags),
	}
}

// SchedulerStats counts requests by outcome.
type SchedulerStats struct {
	Enqueued   int64
	Coalesced  int64
	Dispatched int64
	Retried    int64
	Completed  int64
}

type pendingJob struct {
	seq         uint64
	req         Request
	queuedAt    time.Time
	firstQueued time.Time
}

// Scheduler queues requests and runs them on a bounded worker pool.
//
// Delivery is at least once: a request enqueued while an equal one is
// running is queued again rather than dropped.
type Scheduler struct {
	runner Runner
	config *SchedulerConfig

	pendingMu sync.Mutex
	pending   map[uint64]*pendingJob
	byKey     map[string]uint64
	nextSeq   uint64

	jobs chan Request
	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	enqueued   atomic.Int64
	coalesced  atomic.Int64
	dispatched atomic.Int64
	retried    atomic.Int64
	completed  atomic.Int64
}

// NewScheduler creates a scheduler that runs requests with runner.
// Use Start() to begin processing.
func NewScheduler(runner Runner, config *SchedulerConfig) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[jobs] ", log.LstdFlags)
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * config.DebounceInterval
	}
	return &Scheduler{
		runner:  runner,
		config:  config,
		pending: make(map[uint64]*pendingJob),
		byKey:   make(map[string]uint64),
		jobs:    make(chan Request),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start launches the dispatcher and worker goroutines. It returns
// immediately; the scheduler runs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1 + s.config.Workers)
	go s.dispatch(ctx)
	for i := 0; i < s.config.Workers; i++ {
		go s.work(ctx)
	}

	s.config.Logger.Printf("Scheduler started with %d workers", s.config.Workers)
	return nil
}

// Stop cancels running jobs and waits for all goroutines to exit. Requests
// still queued are discarded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if n := s.Pending(); n > 0 {
		s.config.Logger.Printf("Scheduler stopped with %d queued requests", n)
	}
	return nil
}

// Enqueue queues req. It never blocks.
func (s *Scheduler) Enqueue(req Request) {
	s.enqueued.Add(1)
	now := time.Now()

	s.pendingMu.Lock()
	key := req.Key()
	if seq, ok := s.byKey[key]; ok && s.config.Coalesce {
		// Reset the debounce window, keep the position in the queue and the
		// first enqueue time so MaxDelay still applies.
		s.pending[seq].queuedAt = now
		s.pendingMu.Unlock()
		s.coalesced.Add(1)
		return
	}
	s.nextSeq++
	s.pending[s.nextSeq] = &pendingJob{seq: s.nextSeq, req: req, queuedAt: now, firstQueued: now}
	s.byKey[key] = s.nextSeq
	s.pendingMu.Unlock()

	if s.config.DebounceInterval <= 0 {
		s.signal()
	}
}

// Pending returns the number of queued requests not yet dispatched.
func (s *Scheduler) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Enqueued:   s.enqueued.Load(),
		Coalesced:  s.coalesced.Load(),
		Dispatched: s.dispatched.Load(),
		Retried:    s.retried.Load(),
		Completed:  s.completed.Load(),
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch hands debounced requests to the workers in queue order.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.DebounceInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}

		for _, job := range s.takeReady(time.Now()) {
			select {
			case s.jobs <- job.req:
				s.dispatched.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}
}

// takeReady removes and returns the requests whose debounce window passed
// or that have waited MaxDelay since they were first queued.
func (s *Scheduler) takeReady(now time.Time) []*pendingJob {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var ready []*pendingJob
	for seq, job := range s.pending {
		if now.Sub(job.queuedAt) < s.config.DebounceInterval &&
			now.Sub(job.firstQueued) < s.config.MaxDelay {
			continue
		}
		ready = append(ready, job)
		delete(s.pending, seq)
		if s.byKey[job.req.Key()] == seq {
			delete(s.byKey, job.req.Key())
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	return ready
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.jobs:
			s.run(ctx, req)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, req Request) {
	jobCtx := ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	result := s.runner.Run(jobCtx, req)
	s.completed.Add(1)

	switch result {
	case ResultRetry:
		s.retried.Add(1)
		s.config.Logger.Printf("Requeueing %s", req)
		s.Enqueue(req)
	case ResultFailure:
		s.config.Logger.Printf("Job %s failed after %v", req, time.Since(start))
	}
}
