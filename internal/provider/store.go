// Package provider implements the task provider content surface that
// taskbridge synchronizes against.
//
// The provider exposes three tables (task lists, tasks and properties) under
// one or more authorities, addressed by content:// URIs and accessed through a
// generic row interface: column projections, SQL selection fragments and
// column-keyed values. It mirrors the contract of an OpenTasks-style provider
// that a CalDAV sync adapter writes to.
//
// Architecture:
//   - Database file: provider.db (SQLite, WAL mode)
//   - Tables: tasklists, tasks, properties, plus changes (feed log) and meta
//   - Every mutation appends one changes row per affected resource, tagged
//     with the writer's origin, in the same transaction
//   - Feed tails the changes table and delivers ChangeEvents to subscribers
//
// Multiple processes may open the same database. Writes by other processes
// are picked up by the feed through fsnotify on the database directory, with
// a polling fallback.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrInvalidURI is returned for URIs that do not address a table or row.
	ErrInvalidURI = errors.New("invalid content uri")
	// ErrUnknownTable is returned for URIs naming a table the provider does not expose.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a projection or values map names an unknown column.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownAuthority is returned when the URI authority is not installed.
	ErrUnknownAuthority = errors.New("authority not installed")
)

// remoteDrivers maps DSN prefixes to database/sql driver names for stores
// that are not a local SQLite file. Populated by build-tagged driver files.
var remoteDrivers = map[string]string{}

// Store is a provider database.
type Store struct {
	conn  *sql.DB
	path  string
	local bool

	hooksMu sync.Mutex
	hooks   map[int]func()
	nextID  int
}

// Open opens (creating if needed) the provider database at path.
//
// A plain path opens a local SQLite file in WAL mode. Paths matching a
// registered remote driver prefix (for example libsql:// when built with the
// libsql tag) are handed to that driver unchanged; such stores have no local
// file to watch, so their feed relies on polling.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	for prefix, driver := range remoteDrivers {
		if strings.HasPrefix(path, prefix) {
			conn, err := sql.Open(driver, path)
			if err != nil {
				return nil, fmt.Errorf("failed to open provider database: %w", err)
			}
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("failed to ping provider database: %w", err)
			}
			return &Store{conn: conn, path: path, hooks: make(map[int]func())}, nil
		}
	}

	path = strings.TrimPrefix(path, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create provider directory: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN.
	// Immediate transactions avoid lock upgrades failing under concurrent writers.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open provider database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping provider database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Store{conn: conn, path: path, local: true, hooks: make(map[int]func())}, nil
}

// Path returns the database location the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.local {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close provider database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the provider tables if they don't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the provider tables with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasklists (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		list_name TEXT,
		list_color INTEGER NOT NULL DEFAULT 0,
		_sync_id TEXT,
		sync_version TEXT,  -- JSON envelope {"value": ctag}
		sync_enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS tasks (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_id INTEGER NOT NULL REFERENCES tasklists(_id) ON DELETE CASCADE,
		_uid TEXT,
		_sync_id TEXT,
		sync1 TEXT,  -- etag
		title TEXT,
		description TEXT,
		status INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		due INTEGER,  -- unix millis
		completed INTEGER  -- unix millis
	);

	-- data columns are untyped so each mimetype keeps its own value types
	CREATE TABLE IF NOT EXISTS properties (
		property_id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(_id) ON DELETE CASCADE,
		mimetype TEXT NOT NULL,
		data0, data1, data2, data3
	);

	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		uri TEXT NOT NULL,
		origin TEXT NOT NULL,
		changed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_uid ON tasks(_uid);
	CREATE INDEX IF NOT EXISTS idx_properties_task ON properties(task_id, mimetype);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize provider schema: %w", err)
	}
	return nil
}

// onCommit registers fn to run after every committed mutation made through
// this Store. It returns a function that removes the hook.
func (s *Store) onCommit(fn func()) func() {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = fn
	return func() {
		s.hooksMu.Lock()
		defer s.hooksMu.Unlock()
		delete(s.hooks, id)
	}
}

func (s *Store) committed() {
	s.hooksMu.Lock()
	hooks := make([]func(), 0, len(s.hooks))
	for _, fn := range s.hooks {
		hooks = append(hooks, fn)
	}
	s.hooksMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// LastSeq returns the sequence number of the most recent change, or 0.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, "SELECT MAX(seq) FROM changes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read last change seq: %w", err)
	}
	return seq.Int64, nil
}

// Change is one row of the change log.
type Change struct {
	Seq       int64
	URI       URI
	Origin    string
	ChangedAt time.Time
}

// ChangesSince returns up to limit changes with seq > afterSeq, oldest first.
// Rows with unparseable URIs are skipped.
func (s *Store) ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]Change, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT seq, uri, origin, changed_at FROM changes WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var uri, changedAt string
		if err := rows.Scan(&c.Seq, &uri, &c.Origin, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		parsed, err := ParseURI(uri)
		if err != nil {
			continue
		}
		c.URI = parsed
		c.ChangedAt, _ = time.Parse(time.RFC3339Nano, changedAt)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}
	return changes, nil
}

// PruneChanges deletes change rows with seq <= upToSeq. Returns the number removed.
func (s *Store) PruneChanges(ctx context.Context, upToSeq int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, upToSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to prune changes: %w", err)
	}
	return res.RowsAffected()
}
