package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/broadcast"
	"github.com/steveyegge/taskbridge/internal/daemon"
	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/lock"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch the provider and keep the mirror current (foreground)",
	Long: `Run the sync pipeline in the foreground until interrupted.

The watcher will:
  1. Check which provider authority is usable
  2. Pull every synchronized list into the mirror
  3. Listen for provider change notifications
  4. Sync the changed task or list and notify dashboard clients

Only one watcher may run per state directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}
		resync, _ := cmd.Flags().GetDuration("resync")

		l, err := lock.Acquire(cfg.LockPath())
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				return fmt.Errorf("another watcher is running: %w", err)
			}
			return err
		}
		defer l.Release()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		cache, err := openMirror(ctx)
		if err != nil {
			return err
		}
		defer cache.Close()

		dc := &daemon.Config{
			PrimaryAuthority: cfg.Provider.PrimaryAuthority,
			CompatAuthority:  cfg.Provider.CompatAuthority,
			MinVersion:       cfg.Provider.MinVersion,
			AccountTypes:     cfg.Provider.AccountTypes,
			Origin:           cfg.Client.Origin,
			PollInterval:     cfg.Feed.PollInterval,
			Scheduler: jobs.SchedulerConfig{
				Workers:          cfg.Jobs.Workers,
				DebounceInterval: cfg.Jobs.Debounce,
				Coalesce:         cfg.Jobs.Coalesce,
				JobTimeout:       cfg.Jobs.JobTimeout,
			},
			InitialSync:    true,
			ResyncInterval: resync,
			Logs:           logs,
			Debug:          cfg.Log.Debug,
		}
		if !noDashboard {
			dc.Broadcast = &broadcast.Config{Host: cfg.Dashboard.Host, Port: port}
		}

		d, err := daemon.New(store, cache, dc)
		if err != nil {
			return err
		}
		if err := d.Start(ctx); err != nil {
			return err
		}

		auth := d.Authorities()
		fmt.Printf("Watching %s (observing %v)\n", auth.Active, auth.Observed)
		fmt.Printf("   Provider: %s\n", cfg.Provider.Path)
		fmt.Printf("   Mirror: %s\n", cfg.Mirror.Path)
		if addr := d.Addr(); addr != "" {
			fmt.Printf("   Dashboard: ws://%s/ws\n", addr)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		if err := d.Stop(); err != nil {
			return fmt.Errorf("during shutdown: %w", err)
		}
		st := d.Status()
		fmt.Printf("Stopped after %d jobs (%d errors)\n", st.Jobs.Completed, st.Errors)
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("no-dashboard", false, "Do not start the refresh broadcast server")
	watchCmd.Flags().IntP("port", "p", 8080, "Dashboard port (default from config)")
	watchCmd.Flags().Duration("resync", 0, "Also run a full resync at this interval (0 disables)")
	rootCmd.AddCommand(watchCmd)
}
