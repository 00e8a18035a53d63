// Package observer turns provider change notifications into sync requests.
//
// The observer subscribes to the task list, task and property tables of
// every reachable provider authority. Each notification is:
//  1. Dropped if it echoes a write made by taskbridge itself
//  2. Classified by URI (see Matcher)
//  3. Handed to the job queue as a task, list or full resync request
//
// Classification is a pure function of the URI, and the observer never
// blocks or touches the store: it runs on the feed's delivery goroutine.
package observer

import (
	"strconv"

	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/provider"
)

// Kind is the outcome of classifying a change URI.
type Kind int

const (
	// KindIgnored means the URI is outside the observed tables.
	KindIgnored Kind = iota
	// KindTask means a single task changed.
	KindTask
	// KindList means a task list changed.
	KindList
	// KindFullResync means an observed table changed without a usable row id.
	KindFullResync
	// KindInvalid means a task or list row URI had an unparseable id.
	KindInvalid
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindTask:
		return "task"
	case KindList:
		return "list"
	case KindFullResync:
		return "full-resync"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classification is the result of Matcher.Classify.
type Classification struct {
	Kind Kind
	// ID is the task or list id for KindTask and KindList.
	ID int64
	// Reason explains KindInvalid and KindIgnored results.
	Reason string
}

// Request converts the classification into a sync request. ok is false for
// classifications that must not produce one.
func (c Classification) Request() (jobs.Request, bool) {
	switch c.Kind {
	case KindTask:
		return jobs.TaskRequest(c.ID), true
	case KindList:
		return jobs.ListRequest(c.ID), true
	case KindFullResync:
		return jobs.FullResync(), true
	default:
		return jobs.Request{}, false
	}
}

// Matcher classifies change URIs against the observed patterns of a set of
// authorities:
//
//	tasks/<id>          task
//	tasklists/<id>      list
//	tasks, tasklists    full resync
//	properties[/<id>]   full resync (the owning task is unknown)
type Matcher struct {
	authorities map[string]bool
}

// NewMatcher creates a matcher for the given authorities.
func NewMatcher(authorities ...string) *Matcher {
	m := &Matcher{authorities: make(map[string]bool, len(authorities))}
	for _, a := range authorities {
		if a != "" {
			m.authorities[a] = true
		}
	}
	return m
}

// Authorities returns the matched authorities.
func (m *Matcher) Authorities() []string {
	out := make([]string, 0, len(m.authorities))
	for a := range m.authorities {
		out = append(out, a)
	}
	return out
}

// Classify classifies uri. It performs no I/O.
func (m *Matcher) Classify(uri provider.URI) Classification {
	if !m.authorities[uri.Authority] {
		return Classification{Kind: KindIgnored, Reason: "unknown authority " + uri.Authority}
	}

	switch uri.Table() {
	case provider.TableTasks:
		return classifyRow(uri, KindTask)
	case provider.TableTaskLists:
		return classifyRow(uri, KindList)
	case provider.TableProperties:
		if len(uri.Path) > 2 {
			return Classification{Kind: KindIgnored, Reason: "unmatched path " + uri.String()}
		}
		return Classification{Kind: KindFullResync}
	default:
		return Classification{Kind: KindIgnored, Reason: "unmatched path " + uri.String()}
	}
}

func classifyRow(uri provider.URI, kind Kind) Classification {
	switch len(uri.Path) {
	case 1:
		return Classification{Kind: KindFullResync}
	case 2:
		id, err := strconv.ParseInt(uri.LastSegment(), 10, 64)
		if err != nil {
			return Classification{Kind: KindInvalid, Reason: "non-numeric id " + strconv.Quote(uri.LastSegment())}
		}
		if id < 0 {
			return Classification{Kind: KindInvalid, Reason: "negative id " + uri.LastSegment()}
		}
		return Classification{Kind: kind, ID: id}
	default:
		return Classification{Kind: KindIgnored, Reason: "unmatched path " + uri.String()}
	}
}
