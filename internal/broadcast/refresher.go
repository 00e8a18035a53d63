package broadcast

import "sync"

// Nop discards refresh signals.
type Nop struct{}

// BroadcastRefresh does nothing.
func (Nop) BroadcastRefresh() {}

// BroadcastRefreshList does nothing.
func (Nop) BroadcastRefreshList() {}

// Recorder counts refresh signals. Used by one-shot CLI commands to report
// what a sync touched.
type Recorder struct {
	mu    sync.Mutex
	tasks int
	lists int
}

// BroadcastRefresh records a task refresh.
func (r *Recorder) BroadcastRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks++
}

// BroadcastRefreshList records a list refresh.
func (r *Recorder) BroadcastRefreshList() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
}

// Counts returns the number of task and list refreshes recorded.
func (r *Recorder) Counts() (tasks, lists int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks, r.lists
}
