package opentasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/taskbridge/internal/codec"
	"github.com/steveyegge/taskbridge/internal/provider"
)

// DefaultAccountTypes are the sync adapters whose lists are synchronized.
var DefaultAccountTypes = []string{"bitfire.at.davdroid", "com.etesync.syncadapter"}

// Config holds configuration for the adapter.
type Config struct {
	// Authority is the provider authority to read and write through,
	// normally provider.Authorities.Active.
	Authority string

	// AccountTypes is the allow-list of account types whose lists are visible
	AccountTypes []string

	// Logger for adapter activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Authority:    "org.dmfs.tasks",
		AccountTypes: DefaultAccountTypes,
		Logger:       log.New(os.Stderr, "[opentasks] ", log.LstdFlags),
	}
}

// Adapter is the CRUD facade over the provider. All methods perform blocking
// I/O against the store.
type Adapter struct {
	store  ContentStore
	config *Config

	lists      provider.URI
	tasks      provider.URI
	properties provider.URI
}

// New creates an adapter over store.
func New(store ContentStore, config *Config) (*Adapter, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Authority == "" {
		return nil, fmt.Errorf("authority cannot be empty")
	}
	if len(config.AccountTypes) == 0 {
		config.AccountTypes = DefaultAccountTypes
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[opentasks] ", log.LstdFlags)
	}
	return &Adapter{
		store:      store,
		config:     config,
		lists:      provider.ContentURI(config.Authority, provider.TableTaskLists),
		tasks:      provider.ContentURI(config.Authority, provider.TableTasks),
		properties: provider.ContentURI(config.Authority, provider.TableProperties),
	}, nil
}

// Authority returns the provider authority the adapter talks to.
func (a *Adapter) Authority() string {
	return a.config.Authority
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreUnavailable, op, err)
}

var listProjection = []string{
	provider.ListID,
	provider.ListAccountName,
	provider.ListAccountType,
	provider.ListName,
	provider.ListColor,
	provider.ListSyncID,
	provider.ListSyncVersion,
}

// ListLists returns the sync-enabled lists of allow-listed accounts.
//
// An authority that is not installed yields an empty result, not an error;
// whether the provider is present is decided by the capability check.
func (a *Adapter) ListLists(ctx context.Context) ([]List, error) {
	return a.queryLists(ctx, "")
}

// GetList returns the list with the given id, or nil if it does not exist or
// is not visible to ListLists.
func (a *Adapter) GetList(ctx context.Context, id int64) (*List, error) {
	lists, err := a.queryLists(ctx, provider.ListID+" = ?", id)
	if err != nil || len(lists) == 0 {
		return nil, err
	}
	return &lists[0], nil
}

func (a *Adapter) queryLists(ctx context.Context, extra string, extraArgs ...any) ([]List, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(a.config.AccountTypes)), ", ")
	selection := fmt.Sprintf("%s = 1 AND %s IN (%s)", provider.ListSyncEnabled, provider.ListAccountType, placeholders)
	args := make([]any, 0, len(a.config.AccountTypes)+len(extraArgs))
	for _, t := range a.config.AccountTypes {
		args = append(args, t)
	}
	if extra != "" {
		selection += " AND " + extra
		args = append(args, extraArgs...)
	}

	rows, err := a.store.Query(ctx, a.lists, listProjection, selection, args...)
	if errors.Is(err, provider.ErrUnknownAuthority) {
		return []List{}, nil
	}
	if err != nil {
		return nil, unavailable("list task lists", err)
	}

	lists := make([]List, 0, len(rows))
	for _, row := range rows {
		id, _ := row.Int64(provider.ListID)
		color, _ := row.Int64(provider.ListColor)
		l := List{
			ID:      id,
			Account: deref(row.String(provider.ListAccountType)) + ":" + deref(row.String(provider.ListAccountName)),
			Name:    deref(row.String(provider.ListName)),
			Color:   int(color),
			URL:     deref(row.String(provider.ListSyncID)),
		}
		ctag, err := codec.DecodeVersionToken(row.String(provider.ListSyncVersion))
		if err != nil {
			a.config.Logger.Printf("Ignoring version token of list %d: %v", id, err)
		}
		l.CTag = ctag
		lists = append(lists, l)
	}
	return lists, nil
}

// AccountCount returns the number of distinct accounts among ListLists.
func (a *Adapter) AccountCount(ctx context.Context) (int, error) {
	lists, err := a.ListLists(ctx)
	if err != nil {
		return 0, err
	}
	accounts := make(map[string]struct{}, len(lists))
	for _, l := range lists {
		accounts[l.Account] = struct{}{}
	}
	return len(accounts), nil
}

// ListEtags returns the sync id and etag of every task in a list.
func (a *Adapter) ListEtags(ctx context.Context, listID int64) ([]Etag, error) {
	rows, err := a.store.Query(ctx, a.tasks,
		[]string{provider.TaskSyncID, provider.TaskSync1},
		provider.TaskListID+" = ?", listID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("list etags of list %d", listID), err)
	}

	etags := make([]Etag, 0, len(rows))
	for _, row := range rows {
		syncID := row.String(provider.TaskSyncID)
		if syncID == nil {
			// Created locally and not uploaded yet.
			continue
		}
		etags = append(etags, Etag{SyncID: *syncID, ETag: row.String(provider.TaskSync1)})
	}
	return etags, nil
}

// DeleteItem deletes the task with syncID from a list and returns the number
// of rows removed. More than one row means the provider is inconsistent; it
// is logged and the actual count returned.
func (a *Adapter) DeleteItem(ctx context.Context, listID int64, syncID string) (int64, error) {
	n, err := a.store.Delete(ctx, a.tasks,
		provider.TaskListID+" = ? AND "+provider.TaskSyncID+" = ?", listID, syncID)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("delete %s from list %d", syncID, listID), err)
	}
	if n > 1 {
		a.config.Logger.Printf("ERROR: deleted %d tasks with sync id %s from list %d, expected at most 1", n, syncID, listID)
	}
	return n, nil
}

// ResolveLocalID returns the provider row id of the task with the given
// remote UID. A nil uid resolves to nothing without touching the store.
func (a *Adapter) ResolveLocalID(ctx context.Context, uid *string) (LocalID, error) {
	if uid == nil {
		return LocalID{}, nil
	}
	rows, err := a.store.Query(ctx, a.tasks, []string{provider.TaskID}, provider.TaskUID+" = ?", *uid)
	if err != nil {
		return LocalID{}, unavailable("resolve uid "+*uid, err)
	}
	if len(rows) == 0 {
		a.config.Logger.Printf("No task with uid=%s", *uid)
		return LocalID{}, nil
	}
	if len(rows) > 1 {
		a.config.Logger.Printf("ERROR: %d tasks share uid=%s, using the first", len(rows), *uid)
	}
	id, ok := rows[0].Int64(provider.TaskID)
	if !ok {
		return LocalID{}, nil
	}
	return Resolved(id), nil
}

// ResolveRemoteUID returns the remote UID of the task with the given id.
// Id 0 resolves to nil without touching the store.
func (a *Adapter) ResolveRemoteUID(ctx context.Context, id int64) (*string, error) {
	if id == 0 {
		return nil, nil
	}
	rows, err := a.store.Query(ctx, a.tasks.WithID(id), []string{provider.TaskUID}, "")
	if err != nil {
		return nil, unavailable(fmt.Sprintf("resolve id %d", id), err)
	}
	if len(rows) == 0 {
		a.config.Logger.Printf("No task with id=%d", id)
		return nil, nil
	}
	return rows[0].String(provider.TaskUID), nil
}

// resolveRef resolves ref to a row id, logging when the item is skipped.
func (a *Adapter) resolveRef(ctx context.Context, ref ItemRef, op string) (LocalID, error) {
	var uid *string
	if ref.UID != "" {
		uid = &ref.UID
	}
	id, err := a.ResolveLocalID(ctx, uid)
	if err != nil {
		return LocalID{}, err
	}
	if !id.OK {
		a.config.Logger.Printf("Skipping %s: task %q not found", op, ref.UID)
	}
	return id, nil
}

var taskProjection = []string{
	provider.TaskID,
	provider.TaskListID,
	provider.TaskUID,
	provider.TaskSyncID,
	provider.TaskSync1,
	provider.TaskTitle,
	provider.TaskDescription,
	provider.TaskStatus,
	provider.TaskPriority,
	provider.TaskDue,
	provider.TaskCompleted,
}

// GetTask reads a task with its tags, order and parent. Returns nil if there
// is no task with that id.
func (a *Adapter) GetTask(ctx context.Context, id int64) (*Task, error) {
	rows, err := a.store.Query(ctx, a.tasks.WithID(id), taskProjection, "")
	if err != nil {
		return nil, unavailable(fmt.Sprintf("read task %d", id), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return a.buildTask(ctx, rows[0])
}

// GetTaskBySyncID reads the task with syncID in a list. Returns nil if there
// is none.
func (a *Adapter) GetTaskBySyncID(ctx context.Context, listID int64, syncID string) (*Task, error) {
	rows, err := a.store.Query(ctx, a.tasks, taskProjection,
		provider.TaskListID+" = ? AND "+provider.TaskSyncID+" = ?", listID, syncID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("read task %s of list %d", syncID, listID), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows) > 1 {
		a.config.Logger.Printf("ERROR: %d tasks share sync id %s in list %d, using the first", len(rows), syncID, listID)
	}
	return a.buildTask(ctx, rows[0])
}

func (a *Adapter) buildTask(ctx context.Context, row provider.Row) (*Task, error) {
	id, _ := row.Int64(provider.TaskID)
	listID, _ := row.Int64(provider.TaskListID)
	status, _ := row.Int64(provider.TaskStatus)
	priority, _ := row.Int64(provider.TaskPriority)

	task := &Task{
		ID:          id,
		ListID:      listID,
		UID:         deref(row.String(provider.TaskUID)),
		SyncID:      deref(row.String(provider.TaskSyncID)),
		ETag:        row.String(provider.TaskSync1),
		Title:       deref(row.String(provider.TaskTitle)),
		Description: deref(row.String(provider.TaskDescription)),
		Status:      int(status),
		Priority:    int(priority),
		Due:         millis(row, provider.TaskDue),
		Completed:   millis(row, provider.TaskCompleted),
	}
	if err := a.readProperties(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func millis(row provider.Row, col string) *time.Time {
	ms, ok := row.Int64(col)
	if !ok {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
