package observer

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/provider"
)

// Enqueuer accepts sync requests. Enqueue must not block.
type Enqueuer interface {
	Enqueue(req jobs.Request)
}

// Subscriber is the change feed the observer registers with.
// *provider.Feed implements it.
type Subscriber interface {
	Subscribe(uris []provider.URI, descendants bool, origin string, handler provider.Handler) (*provider.Subscription, error)
}

// Config holds configuration for the observer.
type Config struct {
	// Origin identifies taskbridge's own writes. Changes carrying it are
	// reported as self changes by the feed and dropped.
	Origin string

	// Debug enables logging of dropped and ignored notifications
	Debug bool

	// Logger for observer activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[observer] ", log.LstdFlags),
	}
}

// Stats counts notifications by outcome.
type Stats struct {
	Received    int64
	SelfChanges int64
	Ignored     int64
	Invalid     int64
	Enqueued    int64
}

// Observer listens for provider changes and enqueues sync requests.
type Observer struct {
	matcher *Matcher
	queue   Enqueuer
	config  *Config

	mu   sync.Mutex
	subs []*provider.Subscription

	received    atomic.Int64
	selfChanges atomic.Int64
	ignored     atomic.Int64
	invalid     atomic.Int64
	enqueued    atomic.Int64
}

// New creates an observer for the given authorities (normally
// provider.Authorities.Observed) that hands requests to queue.
func New(authorities []string, queue Enqueuer, config *Config) (*Observer, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if len(authorities) == 0 {
		return nil, fmt.Errorf("at least one authority is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[observer] ", log.LstdFlags)
	}
	return &Observer{
		matcher: NewMatcher(authorities...),
		queue:   queue,
		config:  config,
	}, nil
}

// URIs returns the table URIs the observer subscribes to.
func (o *Observer) URIs() []provider.URI {
	var uris []provider.URI
	for _, authority := range o.matcher.Authorities() {
		uris = append(uris,
			provider.ContentURI(authority, provider.TableTaskLists),
			provider.ContentURI(authority, provider.TableTasks),
			provider.ContentURI(authority, provider.TableProperties),
		)
	}
	return uris
}

// Register subscribes the observer to feed. Registering again adds another
// subscription; Close cancels all of them.
func (o *Observer) Register(feed Subscriber) error {
	sub, err := feed.Subscribe(o.URIs(), true, o.config.Origin, o.OnChange)
	if err != nil {
		return fmt.Errorf("failed to register observer: %w", err)
	}
	o.mu.Lock()
	o.subs = append(o.subs, sub)
	o.mu.Unlock()
	return nil
}

// Close cancels every subscription made by Register.
func (o *Observer) Close() {
	o.mu.Lock()
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// OnChange handles one change notification.
func (o *Observer) OnChange(ev provider.ChangeEvent) {
	o.received.Add(1)

	if ev.SelfChange {
		o.selfChanges.Add(1)
		o.debugf("Ignoring self change %s", ev.URI)
		return
	}
	if ev.URI.Authority == "" {
		o.ignored.Add(1)
		o.debugf("Ignoring change without uri")
		return
	}

	c := o.matcher.Classify(ev.URI)
	switch c.Kind {
	case KindInvalid:
		o.invalid.Add(1)
		o.config.Logger.Printf("Error: dropping change %s: %s", ev.URI, c.Reason)
		return
	case KindIgnored:
		o.ignored.Add(1)
		o.debugf("Ignoring change %s: %s", ev.URI, c.Reason)
		return
	}

	req, ok := c.Request()
	if !ok {
		return
	}
	o.enqueued.Add(1)
	o.debugf("Change %s -> %s", ev.URI, req)
	o.queue.Enqueue(req)
}

// Stats returns a snapshot of the notification counters.
func (o *Observer) Stats() Stats {
	return Stats{
		Received:    o.received.Load(),
		SelfChanges: o.selfChanges.Load(),
		Ignored:     o.ignored.Load(),
		Invalid:     o.invalid.Load(),
		Enqueued:    o.enqueued.Load(),
	}
}

func (o *Observer) debugf(format string, args ...any) {
	if o.config.Debug {
		o.config.Logger.Printf(format, args...)
	}
}
