package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent is a change notification delivered to subscribers.
type ChangeEvent struct {
	// URI is the row that changed, e.g. content://org.dmfs.tasks/tasks/42.
	URI URI
	// SelfChange is true when the change was written with the subscriber's
	// own origin.
	SelfChange bool
	// Seq is the change log sequence number.
	Seq int64
}

// Handler receives change events. Handlers run on the feed's single delivery
// goroutine, one at a time and in sequence order, so they must not block.
type Handler func(ChangeEvent)

// FeedConfig holds configuration for the change feed.
type FeedConfig struct {
	// PollInterval is how often the change log is checked when no wake-up
	// arrives (other processes on filesystems without inotify, remote stores).
	PollInterval time.Duration

	// BatchSize is the maximum number of change rows read per query.
	BatchSize int

	// Logger for feed activity
	Logger *log.Logger
}

// DefaultFeedConfig returns sensible defaults.
func DefaultFeedConfig() *FeedConfig {
	return &FeedConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    256,
		Logger:       log.New(os.Stderr, "[feed] ", log.LstdFlags),
	}
}

// Feed tails the provider change log and delivers events to subscribers.
type Feed struct {
	store  *Store
	config *FeedConfig

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	running bool

	deliverMu sync.Mutex
	lastSeq   int64

	wake       chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
	removeHook func()
}

type subscriber struct {
	uris        []URI
	descendants bool
	origin      string
	handler     Handler
}

func (s *subscriber) matches(u URI) bool {
	for _, su := range s.uris {
		if su.Equal(u) || (s.descendants && su.IsAncestorOf(u)) {
			return true
		}
	}
	return false
}

// Subscription is a cancellable handle returned by Subscribe.
type Subscription struct {
	feed *Feed
	id   int
	once sync.Once
}

// Close stops delivery to the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
	})
}

// NewFeed creates a change feed over store.
// The feed must be started with Start() before it delivers events.
func NewFeed(store *Store, config *FeedConfig) *Feed {
	if config == nil {
		config = DefaultFeedConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultFeedConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultFeedConfig().BatchSize
	}
	return &Feed{
		store:  store,
		config: config,
		subs:   make(map[int]*subscriber),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Subscribe registers handler for changes to uris. With descendants set, a
// table URI also matches every row below it. origin identifies the
// subscriber's own writes: events written with the same origin are flagged
// SelfChange.
func (f *Feed) Subscribe(uris []URI, descendants bool, origin string, handler Handler) (*Subscription, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("subscribe: no uris")
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe: nil handler")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = &subscriber{
		uris:        append([]URI(nil), uris...),
		descendants: descendants,
		origin:      origin,
		handler:     handler,
	}
	return &Subscription{feed: f, id: id}, nil
}

// Start begins tailing the change log from its current end. Changes made
// before Start are not delivered.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("feed already running")
	}

	lastSeq, err := f.store.LastSeq(ctx)
	if err != nil {
		return err
	}
	f.deliverMu.Lock()
	f.lastSeq = lastSeq
	f.deliverMu.Unlock()

	if f.store.local {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			f.config.Logger.Printf("fsnotify unavailable, polling every %v: %v", f.config.PollInterval, err)
		} else if err := watcher.Add(filepath.Dir(f.store.path)); err != nil {
			_ = watcher.Close()
			f.config.Logger.Printf("Failed to watch %s, polling every %v: %v", filepath.Dir(f.store.path), f.config.PollInterval, err)
		} else {
			f.watcher = watcher
		}
	}

	f.removeHook = f.store.onCommit(f.signal)
	f.running = true
	f.wg.Add(1)
	go f.loop(ctx)
	return nil
}

// Stop stops the feed and waits for the delivery goroutine to exit.
func (f *Feed) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	close(f.done)
	f.removeHook()

	var closeErr error
	if f.watcher != nil {
		if err := f.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	}

	f.wg.Wait()
	return closeErr
}

// IsRunning returns true if the feed is currently running.
func (f *Feed) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Flush delivers every pending change synchronously.
func (f *Feed) Flush(ctx context.Context) error {
	return f.deliverPending(ctx)
}

func (f *Feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) loop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if f.watcher != nil {
		fsEvents = f.watcher.Events
		fsErrors = f.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-f.wake:
		case <-ticker.C:
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !f.isStoreFile(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			f.config.Logger.Printf("Watcher error: %v", err)
			continue
		}

		if err := f.deliverPending(ctx); err != nil && ctx.Err() == nil {
			f.config.Logger.Printf("Error reading change log: %v", err)
		}
	}
}

// isStoreFile matches the database file and its -wal/-shm companions.
func (f *Feed) isStoreFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), filepath.Base(f.store.path))
}

func (f *Feed) deliverPending(ctx context.Context) error {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	for {
		changes, err := f.store.ChangesSince(ctx, f.lastSeq, f.config.BatchSize)
		if err != nil {
			return err
		}
		for _, c := range changes {
			f.dispatch(c)
			f.lastSeq = c.Seq
		}
		if len(changes) < f.config.BatchSize {
			return nil
		}
	}
}

func (f *Feed) dispatch(c Change) {
	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		if s.matches(c.URI) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.handler(ChangeEvent{
			URI:        c.URI,
			SelfChange: s.origin != "" && s.origin == c.Origin,
			Seq:        c.Seq,
		})
	}
}
