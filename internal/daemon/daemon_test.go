package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/taskbridge/internal/broadcast"
	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/logging"
	"github.com/steveyegge/taskbridge/internal/mirror"
	"github.com/steveyegge/taskbridge/internal/provider"
)

const testAuthority = "org.dmfs.tasks"

func setupStores(t *testing.T) (*provider.Store, *mirror.Cache) {
	t.Helper()
	dir := t.TempDir()

	store, err := provider.Open(filepath.Join(dir, "provider", "provider.db"))
	if err != nil {
		t.Fatalf("provider.Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	cache, err := mirror.Open(filepath.Join(dir, "mirror.db"))
	if err != nil {
		t.Fatalf("mirror.Open() failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	if err := cache.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store, cache
}

func seed(t *testing.T, store *provider.Store) {
	t.Helper()
	fx := &provider.Fixture{
		Authority: testAuthority,
		Version:   "v1.2.0",
		Lists: []provider.FixtureList{{
			AccountName: "me@example.com",
			AccountType: "bitfire.at.davdroid",
			Name:        "Work",
			SyncID:      "/dav/work/",
			CTag:        "v1",
			Tasks:       []provider.FixtureTask{{UID: "a", Title: "First"}},
		}},
	}
	if _, err := store.Seed(context.Background(), fx, "davx5"); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Origin = "taskbridge-test"
	cfg.PollInterval = 50 * time.Millisecond
	cfg.Scheduler = jobs.SchedulerConfig{
		Workers:          2,
		DebounceInterval: 10 * time.Millisecond,
		Coalesce:         true,
		JobTimeout:       5 * time.Second,
	}
	cfg.Logs = logging.Discard()
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	store, cache := setupStores(t)
	if _, err := New(nil, cache, nil); err == nil {
		t.Error("Expected error for nil store")
	}
	if _, err := New(store, nil, nil); err == nil {
		t.Error("Expected error for nil cache")
	}
}

func TestStart_ProviderUnavailable(t *testing.T) {
	store, cache := setupStores(t)
	d, err := New(store, cache, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = d.Start(context.Background())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Start() = %v, want ErrProviderUnavailable", err)
	}
}

func TestDaemon_InitialSyncAndLiveChanges(t *testing.T) {
	store, cache := setupStores(t)
	seed(t, store)
	ctx := context.Background()

	d, err := New(store, cache, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	if err := d.Start(ctx); err == nil {
		t.Error("Second Start() should fail when daemon is already running")
	}
	if got := d.Authorities().Active; got != testAuthority {
		t.Errorf("Expected active authority %s, got %s", testAuthority, got)
	}

	// Initial full resync mirrors the seeded list and task.
	waitFor(t, "initial sync", func() bool {
		_, tasks, _ := cache.Counts(ctx)
		return tasks == 1
	})

	// A task written by the sync adapter reaches the mirror.
	lists, err := cache.Lists(ctx)
	if err != nil || len(lists) != 1 {
		t.Fatalf("Lists() = %v, %v", lists, err)
	}
	adapter := store.Client("davx5")
	id, err := adapter.Insert(ctx, provider.ContentURI(testAuthority, provider.TableTasks), provider.Values{
		provider.TaskListID: lists[0].ID,
		provider.TaskUID:    "b",
		provider.TaskSyncID: "b.ics",
		provider.TaskTitle:  "Second",
	})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	waitFor(t, "task to be mirrored", func() bool {
		task, _ := cache.GetTask(ctx, id)
		return task != nil && task.Title == "Second"
	})

	// Our own writes are recognised and dropped.
	own := store.Client("taskbridge-test")
	if _, err := own.Update(ctx, provider.ContentURI(testAuthority, provider.TableTasks).WithID(id),
		provider.Values{provider.TaskTitle: "Renamed"}, ""); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	waitFor(t, "self change to be dropped", func() bool {
		return d.Status().Observer.SelfChanges >= 1
	})
	if task, _ := cache.GetTask(ctx, id); task == nil || task.Title != "Second" {
		t.Errorf("self change must not be mirrored, got %+v", task)
	}

	st := d.Status()
	if st.Jobs.Completed < 2 || st.Mirror.TasksFetched < 2 {
		t.Errorf("unexpected status: %+v", st)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Second Stop() failed: %v", err)
	}
}

func TestDaemon_BroadcastHealth(t *testing.T) {
	store, cache := setupStores(t)
	seed(t, store)

	cfg := testConfig()
	cfg.Broadcast = &broadcast.Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)}
	d, err := New(store, cache, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, "initial sync", func() bool { return d.Status().Jobs.Completed >= 1 })

	resp, err := http.Get("http://" + d.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Sync   Status `json:"sync"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Sync.Authority != testAuthority {
		t.Errorf("Unexpected health body: %+v", body)
	}
}

func TestDaemon_Run(t *testing.T) {
	store, cache := setupStores(t)
	seed(t, store)

	cfg := testConfig()
	cfg.InitialSync = false
	cfg.ResyncInterval = 30 * time.Millisecond
	d, err := New(store, cache, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The periodic resync runs without any provider change.
	waitFor(t, "periodic resync", func() bool {
		_, tasks, _ := cache.Counts(context.Background())
		return tasks == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for Run() to return")
	}
}
