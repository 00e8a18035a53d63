// Package mirror keeps a local, read-only copy of the remote task lists.
//
// The mirror is the default reconciler behind the sync jobs: it pulls lists
// and tasks from the external store into its own SQLite database. The remote
// side always wins; nothing is ever written back.
//
// Architecture:
//   - Database file: .taskbridge/mirror.db
//   - WAL mode: the CLI can read while the watcher writes
//   - Schema: lists, tasks
//   - Change detection: list ctag first, then per-item etags
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/taskbridge/internal/opentasks"
)

// Cache wraps the mirror database connection.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates a cache connection at the specified path, creating the
// directory if needed. The caller MUST call Close() when done.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping mirror database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Cache{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint mirror WAL: %v\n", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close mirror database: %w", err)
	}
	c.conn = nil
	return nil
}

// InitSchema creates the cache tables if they don't exist. Idempotent.
func (c *Cache) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lists (
		id INTEGER PRIMARY KEY,
		account TEXT NOT NULL,
		name TEXT NOT NULL,
		color INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		ctag TEXT,  -- NULL until the list has been fully pulled
		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY,
		list_id INTEGER NOT NULL,
		uid TEXT NOT NULL,
		sync_id TEXT NOT NULL,
		etag TEXT,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		due TEXT,
		completed TEXT,
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		sort_order INTEGER,
		parent_uid TEXT NOT NULL DEFAULT '',
		synced_at TEXT NOT NULL,
		FOREIGN KEY (list_id) REFERENCES lists(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_sync_id ON tasks(list_id, sync_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_uid ON tasks(uid);
	`
	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize mirror schema: %w", err)
	}
	return nil
}

// UpsertList stores a list's metadata. The ctag column is left untouched on
// update; it only moves forward through SetListCTag once the items match.
func (c *Cache) UpsertList(ctx context.Context, l opentasks.List) error {
	query := `
	INSERT INTO lists (id, account, name, color, url, ctag, synced_at)
	VALUES (?, ?, ?, ?, ?, NULL, ?)
	ON CONFLICT(id) DO UPDATE SET
		account = excluded.account,
		name = excluded.name,
		color = excluded.color,
		url = excluded.url,
		synced_at = excluded.synced_at
	`
	_, err := c.conn.ExecContext(ctx, query,
		l.ID, l.Account, l.Name, l.Color, l.URL, now())
	if err != nil {
		return fmt.Errorf("failed to upsert list %d: %w", l.ID, err)
	}
	return nil
}

// SetListCTag records the collection version the cached items correspond to.
func (c *Cache) SetListCTag(ctx context.Context, listID int64, ctag *string) error {
	_, err := c.conn.ExecContext(ctx, `UPDATE lists SET ctag = ?, synced_at = ? WHERE id = ?`,
		nullString(ctag), now(), listID)
	if err != nil {
		return fmt.Errorf("failed to set ctag of list %d: %w", listID, err)
	}
	return nil
}

// GetList returns the cached list, or nil if it is not cached.
func (c *Cache) GetList(ctx context.Context, id int64) (*opentasks.List, error) {
	lists, err := c.queryLists(ctx, `WHERE id = ?`, id)
	if err != nil || len(lists) == 0 {
		return nil, err
	}
	return &lists[0], nil
}

// Lists returns all cached lists ordered by name.
func (c *Cache) Lists(ctx context.Context) ([]opentasks.List, error) {
	return c.queryLists(ctx, `ORDER BY name, id`)
}

func (c *Cache) queryLists(ctx context.Context, tail string, args ...any) ([]opentasks.List, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT id, account, name, color, url, ctag FROM lists `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	var lists []opentasks.List
	for rows.Next() {
		var l opentasks.List
		var ctag sql.NullString
		if err := rows.Scan(&l.ID, &l.Account, &l.Name, &l.Color, &l.URL, &ctag); err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		if ctag.Valid {
			l.CTag = &ctag.String
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lists: %w", err)
	}
	return lists, nil
}

// DeleteList removes a list and, through the foreign key, its tasks.
// Returns nil if the list isn't cached.
func (c *Cache) DeleteList(ctx context.Context, id int64) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete list %d: %w", id, err)
	}
	return nil
}

// UpsertTask stores a task with its tags, order and parent. The task's list
// must already be cached.
func (c *Cache) UpsertTask(ctx context.Context, t *opentasks.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO tasks (
		id, list_id, uid, sync_id, etag, title, description, status, priority,
		due, completed, tags, sort_order, parent_uid, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		list_id = excluded.list_id,
		uid = excluded.uid,
		sync_id = excluded.sync_id,
		etag = excluded.etag,
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		due = excluded.due,
		completed = excluded.completed,
		tags = excluded.tags,
		sort_order = excluded.sort_order,
		parent_uid = excluded.parent_uid,
		synced_at = excluded.synced_at
	`
	var order sql.NullInt64
	if t.Order != nil {
		order = sql.NullInt64{Int64: *t.Order, Valid: true}
	}
	_, err = c.conn.ExecContext(ctx, query,
		t.ID, t.ListID, t.UID, t.SyncID, nullString(t.ETag),
		t.Title, t.Description, t.Status, t.Priority,
		timeToNullString(t.Due), timeToNullString(t.Completed),
		string(tagsJSON), order, t.ParentUID, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %d: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a cached task. Returns nil if it isn't cached.
func (c *Cache) DeleteTask(ctx context.Context, id int64) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// DeleteTaskBySyncID removes the cached tasks of a list with syncID.
func (c *Cache) DeleteTaskBySyncID(ctx context.Context, listID int64, syncID string) error {
	_, err := c.conn.ExecContext(ctx, `DELETE FROM tasks WHERE list_id = ? AND sync_id = ?`, listID, syncID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s of list %d: %w", syncID, listID, err)
	}
	return nil
}

// Etags returns the cached etag of every task in a list, keyed by sync id.
// A nil value means the task was cached without an etag.
func (c *Cache) Etags(ctx context.Context, listID int64) (map[string]*string, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT sync_id, etag FROM tasks WHERE list_id = ?`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query etags of list %d: %w", listID, err)
	}
	defer rows.Close()

	etags := make(map[string]*string)
	for rows.Next() {
		var syncID string
		var etag sql.NullString
		if err := rows.Scan(&syncID, &etag); err != nil {
			return nil, fmt.Errorf("failed to scan etag: %w", err)
		}
		if etag.Valid {
			v := etag.String
			etags[syncID] = &v
		} else {
			etags[syncID] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating etags: %w", err)
	}
	return etags, nil
}

// GetTask returns a cached task, or nil if it is not cached.
func (c *Cache) GetTask(ctx context.Context, id int64) (*opentasks.Task, error) {
	tasks, err := c.queryTasks(ctx, `WHERE id = ?`, id)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// Tasks returns the cached tasks of a list, by sort order then title.
func (c *Cache) Tasks(ctx context.Context, listID int64) ([]*opentasks.Task, error) {
	return c.queryTasks(ctx, `WHERE list_id = ? ORDER BY sort_order IS NULL, sort_order, title, id`, listID)
}

func (c *Cache) queryTasks(ctx context.Context, tail string, args ...any) ([]*opentasks.Task, error) {
	query := `
	SELECT id, list_id, uid, sync_id, etag, title, description, status, priority,
	       due, completed, tags, sort_order, parent_uid
	FROM tasks ` + tail

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*opentasks.Task
	for rows.Next() {
		var t opentasks.Task
		var etag, due, completed sql.NullString
		var tagsJSON string
		var order sql.NullInt64

		err := rows.Scan(
			&t.ID, &t.ListID, &t.UID, &t.SyncID, &etag,
			&t.Title, &t.Description, &t.Status, &t.Priority,
			&due, &completed, &tagsJSON, &order, &t.ParentUID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if etag.Valid {
			t.ETag = &etag.String
		}
		t.Due = nullStringToTime(due)
		t.Completed = nullStringToTime(completed)
		if order.Valid {
			t.Order = &order.Int64
		}
		if tagsJSON != "" && tagsJSON != "null" {
			if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
			}
		} else {
			t.Tags = []string{}
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// Counts returns the number of cached lists and tasks.
func (c *Cache) Counts(ctx context.Context) (lists, tasks int, err error) {
	err = c.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM lists), (SELECT COUNT(*) FROM tasks)`).Scan(&lists, &tasks)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count mirror rows: %w", err)
	}
	return lists, tasks, nil
}

// Reset deletes every cached list and task.
func (c *Cache) Reset(ctx context.Context) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"tasks", "lists"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ns.String))
	if err != nil {
		return nil
	}
	return &t
}
