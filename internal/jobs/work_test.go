package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
)

type fakeReconciler struct {
	mu      sync.Mutex
	tasks   []int64
	lists   []int64
	all     int
	taskErr error
	listErr error
	panicOn string
}

func (f *fakeReconciler) SyncTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, id)
	if f.panicOn == "task" {
		panic("boom")
	}
	return f.taskErr
}

func (f *fakeReconciler) SyncList(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, id)
	return f.listErr
}

func (f *fakeReconciler) SyncAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	task  int
	lists int
}

func (f *fakeRefresher) BroadcastRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task++
}

func (f *fakeRefresher) BroadcastRefreshList() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (f *fakeReporter) ReportException(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func newTestWork(t *testing.T, rec *fakeReconciler) (*Work, *fakeRefresher, *fakeReporter) {
	t.Helper()
	ref := &fakeRefresher{}
	rep := &fakeReporter{}
	w, err := NewWork(rec, ref, rep, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWork() failed: %v", err)
	}
	return w, ref, rep
}

func TestWork_TaskRequest(t *testing.T) {
	rec := &fakeReconciler{}
	w, ref, rep := newTestWork(t, rec)

	if res := w.Run(context.Background(), TaskRequest(7)); res != ResultSuccess {
		t.Fatalf("Run() = %v, want success", res)
	}
	if len(rec.tasks) != 1 || rec.tasks[0] != 7 {
		t.Errorf("expected SyncTask(7), got %v", rec.tasks)
	}
	if len(rec.lists) != 0 || rec.all != 0 {
		t.Errorf("task request must not sync lists: lists=%v all=%d", rec.lists, rec.all)
	}
	if ref.task != 1 || ref.lists != 0 {
		t.Errorf("expected one task refresh, got task=%d lists=%d", ref.task, ref.lists)
	}
	if len(rep.errs) != 0 {
		t.Errorf("unexpected reports: %v", rep.errs)
	}
}

func TestWork_TaskFailureStillSucceeds(t *testing.T) {
	rec := &fakeReconciler{taskErr: errors.New("provider gone")}
	w, ref, rep := newTestWork(t, rec)

	if res := w.Run(context.Background(), TaskRequest(7)); res != ResultSuccess {
		t.Fatalf("Run() = %v, want success", res)
	}
	if len(rep.errs) != 1 || !errors.Is(rep.errs[0], rec.taskErr) {
		t.Errorf("expected the failure to be reported, got %v", rep.errs)
	}
	if ref.task != 0 {
		t.Error("failed sync must not broadcast a refresh")
	}
}

func TestWork_ListRequest(t *testing.T) {
	rec := &fakeReconciler{}
	w, ref, _ := newTestWork(t, rec)

	w.Run(context.Background(), ListRequest(3))
	if len(rec.lists) != 1 || rec.lists[0] != 3 {
		t.Errorf("expected SyncList(3), got %v", rec.lists)
	}
	if len(rec.tasks) != 0 {
		t.Errorf("list request must not sync tasks: %v", rec.tasks)
	}
	if ref.lists != 1 || ref.task != 0 {
		t.Errorf("expected one list refresh, got task=%d lists=%d", ref.task, ref.lists)
	}
}

func TestWork_BothBranchesIndependent(t *testing.T) {
	rec := &fakeReconciler{panicOn: "task"}
	w, ref, rep := newTestWork(t, rec)

	task, list := int64(1), int64(2)
	if res := w.Run(context.Background(), Request{TaskID: &task, ListID: &list}); res != ResultSuccess {
		t.Fatalf("Run() = %v, want success", res)
	}
	if len(rec.tasks) != 1 || len(rec.lists) != 1 {
		t.Errorf("both branches should run once: tasks=%v lists=%v", rec.tasks, rec.lists)
	}
	if len(rep.errs) != 1 {
		t.Errorf("expected the panic to be reported, got %v", rep.errs)
	}
	if ref.task != 0 || ref.lists != 1 {
		t.Errorf("only the list branch should refresh: task=%d lists=%d", ref.task, ref.lists)
	}
}

func TestWork_ListFailureDoesNotBlockTask(t *testing.T) {
	rec := &fakeReconciler{listErr: errors.New("list failed")}
	w, ref, rep := newTestWork(t, rec)

	task, list := int64(1), int64(2)
	w.Run(context.Background(), Request{TaskID: &task, ListID: &list})
	if ref.task != 1 {
		t.Error("task branch should still refresh")
	}
	if len(rep.errs) != 1 {
		t.Errorf("expected one report, got %v", rep.errs)
	}
}

func TestWork_NegativeIDsAreSkipped(t *testing.T) {
	rec := &fakeReconciler{}
	w, ref, _ := newTestWork(t, rec)

	w.Run(context.Background(), TaskRequest(-1))
	w.Run(context.Background(), ListRequest(-1))
	if len(rec.tasks) != 0 || len(rec.lists) != 0 || rec.all != 0 {
		t.Errorf("negative ids must not sync: tasks=%v lists=%v all=%d", rec.tasks, rec.lists, rec.all)
	}
	if ref.task != 0 || ref.lists != 0 {
		t.Error("nothing synced, nothing to refresh")
	}
}

func TestWork_FullResync(t *testing.T) {
	rec := &fakeReconciler{}
	w, ref, _ := newTestWork(t, rec)

	w.Run(context.Background(), FullResync())
	if rec.all != 1 {
		t.Errorf("expected SyncAll once, got %d", rec.all)
	}
	if ref.lists != 1 {
		t.Errorf("expected a list refresh, got %d", ref.lists)
	}
}

func TestNewWork_Validation(t *testing.T) {
	if _, err := NewWork(nil, &fakeRefresher{}, &fakeReporter{}, nil); err == nil {
		t.Error("expected error for nil reconciler")
	}
	if _, err := NewWork(&fakeReconciler{}, nil, &fakeReporter{}, nil); err == nil {
		t.Error("expected error for nil refresher")
	}
	if _, err := NewWork(&fakeReconciler{}, &fakeRefresher{}, nil, nil); err == nil {
		t.Error("expected error for nil reporter")
	}
}

func TestRequestKeyAndString(t *testing.T) {
	tests := []struct {
		req  Request
		key  string
		text string
	}{
		{TaskRequest(42), "task=42,list=-", "task 42"},
		{ListRequest(3), "task=-,list=3", "list 3"},
		{FullResync(), "task=-,list=-", "full resync"},
	}
	for _, tt := range tests {
		if got := tt.req.Key(); got != tt.key {
			t.Errorf("Key() = %q, want %q", got, tt.key)
		}
		if got := tt.req.String(); got != tt.text {
			t.Errorf("String() = %q, want %q", got, tt.text)
		}
	}
}
