// Package telemetry collects failures that are handled without failing the
// operation that hit them.
package telemetry

import (
	"log"
	"os"
	"sync"
)

// Reporter receives handled failures.
type Reporter interface {
	ReportException(err error)
}

// LogReporter logs each report and keeps the most recent ones.
type LogReporter struct {
	logger *log.Logger
	keep   int

	mu     sync.Mutex
	count  int64
	recent []error
}

// NewLogReporter creates a reporter that logs to logger and keeps the last
// keep errors. A nil logger logs to stderr.
func NewLogReporter(logger *log.Logger, keep int) *LogReporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[telemetry] ", log.LstdFlags)
	}
	if keep <= 0 {
		keep = 20
	}
	return &LogReporter{logger: logger, keep: keep}
}

// ReportException records err. Nil errors are ignored.
func (r *LogReporter) ReportException(err error) {
	if err == nil {
		return
	}
	r.logger.Printf("Exception: %v", err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.recent = append(r.recent, err)
	if len(r.recent) > r.keep {
		r.recent = r.recent[len(r.recent)-r.keep:]
	}
}

// Count returns the number of errors reported so far.
func (r *LogReporter) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Recent returns the most recent errors, oldest first.
func (r *LogReporter) Recent() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.recent...)
}

// Nop discards every report.
type Nop struct{}

// ReportException does nothing.
func (Nop) ReportException(error) {}
