// Package jobs runs synchronization jobs for detected provider changes.
//
// A Request names a task, a list, or neither (full resync). Work executes one
// request against the reconciler and broadcasts a UI refresh on success;
// reconciliation failures are reported to telemetry and never fail the job.
// Scheduler is the worker pool that queues, debounces and coalesces requests
// before handing them to Work.
package jobs

import (
	"fmt"
	"strconv"
)

// Request is a sync request. At most one field is normally set; both nil
// asks for a full resync.
type Request struct {
	TaskID *int64
	ListID *int64
}

// TaskRequest returns a request to sync one task.
func TaskRequest(id int64) Request {
	return Request{TaskID: &id}
}

// ListRequest returns a request to sync one list.
func ListRequest(id int64) Request {
	return Request{ListID: &id}
}

// FullResync returns a request to sync everything.
func FullResync() Request {
	return Request{}
}

// IsFullResync reports whether the request carries neither id.
func (r Request) IsFullResync() bool {
	return r.TaskID == nil && r.ListID == nil
}

// Key identifies requests that may be coalesced.
func (r Request) Key() string {
	return "task=" + optionalID(r.TaskID) + ",list=" + optionalID(r.ListID)
}

// String returns a human-readable representation of the request.
func (r Request) String() string {
	switch {
	case r.IsFullResync():
		return "full resync"
	case r.ListID == nil:
		return fmt.Sprintf("task %d", *r.TaskID)
	case r.TaskID == nil:
		return fmt.Sprintf("list %d", *r.ListID)
	default:
		return fmt.Sprintf("task %d, list %d", *r.TaskID, *r.ListID)
	}
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
