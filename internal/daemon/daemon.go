// Package daemon runs the sync pipeline in the foreground.
//
// The daemon:
//  1. Resolves which provider authorities are usable
//  2. Tails the provider change feed through the observer
//  3. Runs the resulting sync jobs on the scheduler's worker pool
//  4. Pulls changed lists and tasks into the mirror
//  5. Tells connected UI clients to refresh
//  6. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/taskbridge/internal/broadcast"
	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/logging"
	"github.com/steveyegge/taskbridge/internal/mirror"
	"github.com/steveyegge/taskbridge/internal/observer"
	"github.com/steveyegge/taskbridge/internal/opentasks"
	"github.com/steveyegge/taskbridge/internal/provider"
	"github.com/steveyegge/taskbridge/internal/telemetry"
)

// ErrProviderUnavailable is returned by Start when neither authority is
// installed in the provider store.
var ErrProviderUnavailable = errors.New("task provider is not available")

// Config holds configuration for the daemon.
type Config struct {
	// PrimaryAuthority is preferred when installed at MinVersion or later
	PrimaryAuthority string

	// CompatAuthority is used when the primary authority is not usable
	CompatAuthority string

	// MinVersion is the lowest primary provider version accepted
	MinVersion string

	// AccountTypes is the allow-list of account types to synchronize
	AccountTypes []string

	// Origin tags our own provider writes
	Origin string

	// PollInterval is the feed's fallback polling period
	PollInterval time.Duration

	// Scheduler tunes the job worker pool (Logger is filled in if nil)
	Scheduler jobs.SchedulerConfig

	// Broadcast, if set, starts a refresh server with this configuration
	Broadcast *broadcast.Config

	// InitialSync enqueues a full resync on start
	InitialSync bool

	// ResyncInterval enqueues a full resync periodically (0 disables)
	ResyncInterval time.Duration

	// Logs supplies per-component loggers (default: stderr loggers)
	Logs *logging.Factory

	// Debug enables observer debug lines
	Debug bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PrimaryAuthority: "org.dmfs.tasks",
		CompatAuthority:  "org.tasks.opentasks",
		MinVersion:       "v1.0.0",
		AccountTypes:     opentasks.DefaultAccountTypes,
		Origin:           "taskbridge",
		PollInterval:     2 * time.Second,
		Scheduler:        *jobs.DefaultSchedulerConfig(),
		InitialSync:      true,
	}
}

// Status is a point-in-time view of the pipeline, served on /health.
type Status struct {
	Authority string              `json:"authority"`
	Observed  []string            `json:"observed"`
	Observer  observer.Stats      `json:"observer"`
	Jobs      jobs.SchedulerStats `json:"jobs"`
	Pending   int                 `json:"pending"`
	Mirror    mirror.Stats        `json:"mirror"`
	Errors    int64               `json:"errors"`
}

// Daemon owns the pipeline components and their lifecycle.
type Daemon struct {
	store  *provider.Store
	cache  *mirror.Cache
	config *Config
	logger *log.Logger

	authorities provider.Authorities
	adapter     *opentasks.Adapter
	engine      *mirror.Engine
	reporter    *telemetry.LogReporter
	scheduler   *jobs.Scheduler
	feed        *provider.Feed
	observer    *observer.Observer
	server      *broadcast.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a daemon over an open provider store and mirror cache.
// Use Start() to begin syncing.
func New(store *provider.Store, cache *mirror.Cache, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	d := &Daemon{store: store, cache: cache, config: config}
	d.logger = d.componentLogger("daemon")
	if d.logger == nil {
		d.logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return d, nil
}

// componentLogger returns the configured logger for a component, or nil so
// the component falls back to its own default.
func (d *Daemon) componentLogger(name string) *log.Logger {
	if d.config.Logs == nil {
		return nil
	}
	return d.config.Logs.New(name)
}

// Start builds and starts the pipeline. It does not block; call Stop to
// shut down, or use Run.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	d.logger.Println("Starting daemon")

	auth, err := d.store.ResolveAuthorities(ctx, d.config.PrimaryAuthority, d.config.CompatAuthority, d.config.MinVersion)
	if err != nil {
		return fmt.Errorf("failed to resolve provider authorities: %w", err)
	}
	if !auth.Available {
		return fmt.Errorf("%w: neither %s nor %s is installed", ErrProviderUnavailable,
			d.config.PrimaryAuthority, d.config.CompatAuthority)
	}
	d.authorities = auth
	d.logger.Printf("Using authority %s, observing %v", auth.Active, auth.Observed)

	if err := d.build(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := d.feed.Start(runCtx); err != nil {
		cancel()
		_ = d.scheduler.Stop()
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	if err := d.observer.Register(d.feed); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to register observer: %w", err)
	}
	if d.server != nil {
		if err := d.server.Start(); err != nil {
			d.shutdown()
			return fmt.Errorf("failed to start broadcast server: %w", err)
		}
	}

	if d.config.InitialSync {
		d.scheduler.Enqueue(jobs.FullResync())
	}
	if d.config.ResyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicResync(runCtx)
	}

	d.running = true
	return nil
}

// build creates the pipeline components for the resolved authorities.
func (d *Daemon) build() error {
	adapter, err := opentasks.New(d.store.Client(d.config.Origin), &opentasks.Config{
		Authority:    d.authorities.Active,
		AccountTypes: d.config.AccountTypes,
		Logger:       d.componentLogger("opentasks"),
	})
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	d.adapter = adapter

	engine, err := mirror.NewEngine(d.cache, adapter, d.componentLogger("mirror"))
	if err != nil {
		return fmt.Errorf("failed to create mirror engine: %w", err)
	}
	d.engine = engine

	reporterLogger := d.componentLogger("telemetry")
	if reporterLogger == nil {
		reporterLogger = log.New(os.Stderr, "[telemetry] ", log.LstdFlags)
	}
	d.reporter = telemetry.NewLogReporter(reporterLogger, 20)

	var refresher jobs.Refresher = broadcast.Nop{}
	if d.config.Broadcast != nil {
		bc := *d.config.Broadcast
		if bc.Logger == nil {
			bc.Logger = d.componentLogger("broadcast")
		}
		if bc.Status == nil {
			bc.Status = func() any { return d.Status() }
		}
		d.server = broadcast.NewServer(&bc)
		refresher = d.server
	}

	work, err := jobs.NewWork(engine, refresher, d.reporter, d.componentLogger("jobs"))
	if err != nil {
		return fmt.Errorf("failed to create sync work: %w", err)
	}

	sc := d.config.Scheduler
	if sc.Logger == nil {
		sc.Logger = d.componentLogger("jobs")
	}
	scheduler, err := jobs.NewScheduler(work, &sc)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	d.scheduler = scheduler

	d.feed = provider.NewFeed(d.store, &provider.FeedConfig{
		PollInterval: d.config.PollInterval,
		Logger:       d.componentLogger("feed"),
	})

	obs, err := observer.New(d.authorities.Observed, scheduler, &observer.Config{
		Origin: d.config.Origin,
		Debug:  d.config.Debug,
		Logger: d.componentLogger("observer"),
	})
	if err != nil {
		return fmt.Errorf("failed to create observer: %w", err)
	}
	d.observer = obs
	return nil
}

// periodicResync enqueues a full resync every ResyncInterval.
func (d *Daemon) periodicResync(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scheduler.Enqueue(jobs.FullResync())
		}
	}
}

// Stop gracefully shuts down the daemon. Queued but unstarted jobs are
// discarded; running jobs finish first.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.logger.Println("Stopping daemon")
	d.shutdown()
	d.running = false
	d.logger.Println("Daemon stopped")
	return nil
}

// shutdown stops components in reverse start order. Callers hold d.mu.
func (d *Daemon) shutdown() {
	if d.observer != nil {
		d.observer.Close()
	}
	if d.feed != nil {
		if err := d.feed.Stop(); err != nil {
			d.logger.Printf("Error stopping change feed: %v", err)
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			d.logger.Printf("Error stopping scheduler: %v", err)
		}
	}
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Printf("Error stopping broadcast server: %v", err)
		}
	}
	d.wg.Wait()
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.logger.Println("Shutdown signal received")
	return d.Stop()
}

// Resync enqueues a full resync.
func (d *Daemon) Resync() {
	if d.scheduler != nil {
		d.scheduler.Enqueue(jobs.FullResync())
	}
}

// Authorities returns the result of the capability check made by Start.
func (d *Daemon) Authorities() provider.Authorities {
	return d.authorities
}

// Addr returns the broadcast server address, empty when disabled.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.Addr()
}

// Status returns the current pipeline counters.
func (d *Daemon) Status() Status {
	st := Status{
		Authority: d.authorities.Active,
		Observed:  d.authorities.Observed,
	}
	if d.observer != nil {
		st.Observer = d.observer.Stats()
	}
	if d.scheduler != nil {
		st.Jobs = d.scheduler.Stats()
		st.Pending = d.scheduler.Pending()
	}
	if d.engine != nil {
		st.Mirror = d.engine.Stats()
	}
	if d.reporter != nil {
		st.Errors = d.reporter.Count()
	}
	return st
}
