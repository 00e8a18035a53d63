package jobs

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Reconciler is the reconciliation engine. Every entry point must be safe to
// call redundantly.
type Reconciler interface {
	SyncTask(ctx context.Context, id int64) error
	SyncList(ctx context.Context, id int64) error
	SyncAll(ctx context.Context) error
}

// Refresher tells the UI to reload.
type Refresher interface {
	// BroadcastRefresh signals that one task changed.
	BroadcastRefresh()
	// BroadcastRefreshList signals that a list, or everything, changed.
	BroadcastRefreshList()
}

// Reporter receives failures that are not allowed to fail a job.
type Reporter interface {
	ReportException(err error)
}

// Result is the outcome reported to the scheduler.
type Result int

const (
	// ResultSuccess means the job is done.
	ResultSuccess Result = iota
	// ResultRetry asks the scheduler to run the job again.
	ResultRetry
	// ResultFailure means the job failed and must not be retried.
	ResultFailure
)

// String returns a human-readable representation of the result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRetry:
		return "retry"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Runner executes one request. *Work implements it.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// Work dispatches sync requests to the reconciler.
type Work struct {
	reconciler Reconciler
	refresher  Refresher
	reporter   Reporter
	logger     *log.Logger
}

// NewWork creates the dispatcher. A nil logger logs to stderr.
func NewWork(reconciler Reconciler, refresher Refresher, reporter Reporter, logger *log.Logger) (*Work, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	if reporter == nil {
		return nil, fmt.Errorf("reporter cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[jobs] ", log.LstdFlags)
	}
	return &Work{reconciler: reconciler, refresher: refresher, reporter: reporter, logger: logger}, nil
}

// Run executes req:
//  1. A non-negative TaskID syncs that task, then broadcasts a task refresh
//  2. A non-negative ListID syncs that list, then broadcasts a list refresh
//  3. A request with neither id syncs everything, then broadcasts a list refresh
//
// The task and list branches are independent: a failure in one is reported
// and the other still runs. Run always returns ResultSuccess; retrying is up
// to the reconciler.
func (w *Work) Run(ctx context.Context, req Request) Result {
	if req.IsFullResync() {
		if w.attempt("full resync", func() error { return w.reconciler.SyncAll(ctx) }) {
			w.refresher.BroadcastRefreshList()
		}
		return ResultSuccess
	}

	if req.TaskID != nil && *req.TaskID >= 0 {
		id := *req.TaskID
		if w.attempt(fmt.Sprintf("sync task %d", id), func() error { return w.reconciler.SyncTask(ctx, id) }) {
			w.refresher.BroadcastRefresh()
		}
	}

	if req.ListID != nil && *req.ListID >= 0 {
		id := *req.ListID
		if w.attempt(fmt.Sprintf("sync list %d", id), func() error { return w.reconciler.SyncList(ctx, id) }) {
			w.refresher.BroadcastRefreshList()
		}
	}

	return ResultSuccess
}

// attempt runs fn, reporting an error or panic. Returns true on success.
func (w *Work) attempt(op string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s: panic: %v", op, r)
			w.logger.Printf("Error: %v", err)
			w.reporter.ReportException(err)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		w.logger.Printf("Error: %v", err)
		w.reporter.ReportException(err)
		return false
	}
	return true
}
