// Package opentasks is the adapter between taskbridge and an OpenTasks-style
// task provider.
//
// The adapter maps the native task model onto the provider's three tables:
//   - Task lists: enumerated with account filtering, ctag decoded from its
//     JSON envelope
//   - Tasks: looked up by remote UID or local id, etags listed per list
//   - Properties: tags (category rows), sort order (unknown-property blob
//     named X-APPLE-SORT-ORDER) and parent links (relation rows)
//
// Local ids and remote UIDs are resolved by a fresh query on every call; the
// provider is edited concurrently by the sync adapter, so nothing is cached.
//
// Concurrent writers: SetTags and SetOrder are delete-then-insert without a
// transaction spanning both steps. Edits made by other writers in between are
// overwritten, and a crash between the steps loses the value. Both are
// accepted: tags are replaced wholesale on the next sync and the sort order
// is only a ranking hint.
package opentasks

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/taskbridge/internal/provider"
)

// ErrStoreUnavailable wraps every I/O failure talking to the provider.
// Callers test for it with errors.Is; the adapter never retries.
var ErrStoreUnavailable = errors.New("external task store unavailable")

// ContentStore is the generic row interface of the provider content surface.
// *provider.Client implements it.
type ContentStore interface {
	Query(ctx context.Context, uri provider.URI, projection []string, selection string, args ...any) ([]provider.Row, error)
	Insert(ctx context.Context, uri provider.URI, values provider.Values) (int64, error)
	Update(ctx context.Context, uri provider.URI, values provider.Values, selection string, args ...any) (int64, error)
	Delete(ctx context.Context, uri provider.URI, selection string, args ...any) (int64, error)
}

// List is a synchronized task list (a CalDAV collection).
type List struct {
	ID int64
	// Account is "<account type>:<account name>".
	Account string
	Name    string
	Color   int
	// URL is the remote collection identifier.
	URL string
	// CTag is the decoded collection version, nil if never synced or unreadable.
	CTag *string
}

// Etag pairs a remote item identifier with its current sync identifier.
type Etag struct {
	SyncID string
	// ETag is nil when the provider does not track one for the item.
	ETag *string
}

// ItemRef identifies a task by remote UID, as the native model knows it.
type ItemRef struct {
	UID string
	// ParentUID is the remote UID of the parent task, blank for none.
	ParentUID string
}

// LocalID is the result of resolving a remote UID to a provider row id.
// An unresolved LocalID carries no id, so it cannot be used as one by mistake.
type LocalID struct {
	ID int64
	OK bool
}

// Resolved returns a resolved LocalID.
func Resolved(id int64) LocalID {
	return LocalID{ID: id, OK: true}
}

// Value returns the id, or 0 when unresolved.
func (l LocalID) Value() int64 {
	if !l.OK {
		return 0
	}
	return l.ID
}

// Task is a full provider task row with its tags, order and parent.
type Task struct {
	ID          int64
	ListID      int64
	UID         string
	SyncID      string
	ETag        *string
	Title       string
	Description string
	Status      int
	Priority    int
	Due         *time.Time
	Completed   *time.Time
	Tags        []string
	Order       *int64
	ParentUID   string
}
