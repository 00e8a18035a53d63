package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/steveyegge/taskbridge/internal/opentasks"
)

// Source is the read side of the external store the engine pulls from.
// *opentasks.Adapter implements it.
type Source interface {
	ListLists(ctx context.Context) ([]opentasks.List, error)
	GetList(ctx context.Context, id int64) (*opentasks.List, error)
	ListEtags(ctx context.Context, listID int64) ([]opentasks.Etag, error)
	GetTask(ctx context.Context, id int64) (*opentasks.Task, error)
	GetTaskBySyncID(ctx context.Context, listID int64, syncID string) (*opentasks.Task, error)
}

// Stats counts what the engine has done since it was created.
type Stats struct {
	ListsSynced  int64 `json:"lists_synced"`
	ListsSkipped int64 `json:"lists_skipped"`
	ListsDropped int64 `json:"lists_dropped"`
	TasksFetched int64 `json:"tasks_fetched"`
	TasksDeleted int64 `json:"tasks_deleted"`
}

// Engine reconciles the cache against the source. It implements
// jobs.Reconciler. All methods are idempotent and may run concurrently for
// different entities; concurrent runs for the same list converge because the
// ctag is only stored after the items have been pulled.
type Engine struct {
	cache  *Cache
	source Source
	logger *log.Logger

	listsSynced  atomic.Int64
	listsSkipped atomic.Int64
	listsDropped atomic.Int64
	tasksFetched atomic.Int64
	tasksDeleted atomic.Int64
}

// NewEngine creates an engine that pulls from source into cache.
func NewEngine(cache *Cache, source Source, logger *log.Logger) (*Engine, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	return &Engine{cache: cache, source: source, logger: logger}, nil
}

// SyncTask pulls one task. A task that no longer exists remotely, or whose
// list is not mirrored, is removed from the cache.
func (e *Engine) SyncTask(ctx context.Context, id int64) error {
	task, err := e.source.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read task %d: %w", id, err)
	}
	if task == nil {
		e.logger.Printf("Task %d is gone, removing from mirror", id)
		return e.deleteTask(ctx, id)
	}

	cached, err := e.cache.GetList(ctx, task.ListID)
	if err != nil {
		return err
	}
	if cached == nil {
		list, err := e.source.GetList(ctx, task.ListID)
		if err != nil {
			return fmt.Errorf("failed to read list %d: %w", task.ListID, err)
		}
		if list == nil {
			e.logger.Printf("Ignoring task %d: list %d is not synchronized", id, task.ListID)
			return e.deleteTask(ctx, id)
		}
		// Stored without a ctag, so the next list sync does a full diff.
		if err := e.cache.UpsertList(ctx, *list); err != nil {
			return err
		}
	}

	if err := e.cache.UpsertTask(ctx, task); err != nil {
		return err
	}
	e.tasksFetched.Add(1)
	return nil
}

// SyncList pulls one list. When the remote ctag matches the cached one the
// list is considered unchanged and nothing else is read.
func (e *Engine) SyncList(ctx context.Context, id int64) error {
	return e.syncList(ctx, id, false)
}

// syncList pulls one list. With force set the ctag and etags are not trusted
// and every remote item is read again: property edits (tags, order, parent
// links) move neither.
func (e *Engine) syncList(ctx context.Context, id int64, force bool) error {
	list, err := e.source.GetList(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read list %d: %w", id, err)
	}
	if list == nil {
		e.logger.Printf("List %d is gone, removing from mirror", id)
		return e.dropList(ctx, id)
	}

	cached, err := e.cache.GetList(ctx, id)
	if err != nil {
		return err
	}
	if !force && cached != nil && sameTag(cached.CTag, list.CTag) {
		if err := e.cache.UpsertList(ctx, *list); err != nil {
			return err
		}
		e.listsSkipped.Add(1)
		return nil
	}

	if err := e.cache.UpsertList(ctx, *list); err != nil {
		return err
	}
	if err := e.pullItems(ctx, id, force); err != nil {
		return err
	}
	if err := e.cache.SetListCTag(ctx, id, list.CTag); err != nil {
		return err
	}
	e.listsSynced.Add(1)
	return nil
}

// pullItems makes the cached items of a list match the remote etags. With
// force set, items with an unchanged etag are read again too.
func (e *Engine) pullItems(ctx context.Context, listID int64, force bool) error {
	remote, err := e.source.ListEtags(ctx, listID)
	if err != nil {
		return fmt.Errorf("failed to list etags of list %d: %w", listID, err)
	}
	local, err := e.cache.Etags(ctx, listID)
	if err != nil {
		return err
	}

	fetched, deleted := 0, 0
	for _, item := range remote {
		cachedTag, known := local[item.SyncID]
		delete(local, item.SyncID)
		if !force && known && sameTag(cachedTag, item.ETag) {
			continue
		}

		task, err := e.source.GetTaskBySyncID(ctx, listID, item.SyncID)
		if err != nil {
			return fmt.Errorf("failed to read task %s: %w", item.SyncID, err)
		}
		if task == nil {
			// Deleted between the etag listing and this read.
			continue
		}
		if err := e.cache.UpsertTask(ctx, task); err != nil {
			return err
		}
		fetched++
	}

	for syncID := range local {
		if err := e.cache.DeleteTaskBySyncID(ctx, listID, syncID); err != nil {
			return err
		}
		deleted++
	}

	e.tasksFetched.Add(int64(fetched))
	e.tasksDeleted.Add(int64(deleted))
	if fetched > 0 || deleted > 0 {
		e.logger.Printf("List %d: %d tasks fetched, %d removed", listID, fetched, deleted)
	}
	return nil
}

// SyncAll re-reads every visible list in full and drops cached lists that are
// no longer visible. Full resyncs are requested for changes that cannot be
// attributed to one task or list, such as property edits, so no ctag or etag
// short-circuit applies. A failing list does not stop the others; all
// failures are joined.
func (e *Engine) SyncAll(ctx context.Context) error {
	lists, err := e.source.ListLists(ctx)
	if err != nil {
		return fmt.Errorf("failed to list task lists: %w", err)
	}

	var errs []error
	seen := make(map[int64]bool, len(lists))
	for _, l := range lists {
		seen[l.ID] = true
		if err := e.syncList(ctx, l.ID, true); err != nil {
			errs = append(errs, err)
		}
	}

	cached, err := e.cache.Lists(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, l := range cached {
		if seen[l.ID] {
			continue
		}
		if err := e.dropList(ctx, l.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ListsSynced:  e.listsSynced.Load(),
		ListsSkipped: e.listsSkipped.Load(),
		ListsDropped: e.listsDropped.Load(),
		TasksFetched: e.tasksFetched.Load(),
		TasksDeleted: e.tasksDeleted.Load(),
	}
}

func (e *Engine) deleteTask(ctx context.Context, id int64) error {
	if err := e.cache.DeleteTask(ctx, id); err != nil {
		return err
	}
	e.tasksDeleted.Add(1)
	return nil
}

func (e *Engine) dropList(ctx context.Context, id int64) error {
	if err := e.cache.DeleteList(ctx, id); err != nil {
		return err
	}
	e.listsDropped.Add(1)
	return nil
}

// sameTag compares two version tags. Two absent tags are not considered
// equal: without a tag there is nothing to prove the content unchanged.
func sameTag(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}
