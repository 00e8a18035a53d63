package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/broadcast"
	"github.com/steveyegge/taskbridge/internal/jobs"
	"github.com/steveyegge/taskbridge/internal/mirror"
	"github.com/steveyegge/taskbridge/internal/telemetry"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync job now",
	Long: `Run a single sync job against the mirror, as the watcher would.

  taskbridge sync --task 42     # sync one task
  taskbridge sync --list 3      # sync one list
  taskbridge sync               # full resync of every list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		req := jobs.FullResync()
		if cmd.Flags().Changed("task") {
			id, _ := cmd.Flags().GetInt64("task")
			req.TaskID = &id
		}
		if cmd.Flags().Changed("list") {
			id, _ := cmd.Flags().GetInt64("list")
			req.ListID = &id
		}

		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		adapter, err := openAdapter(ctx, store)
		if err != nil {
			return err
		}
		cache, err := openMirror(ctx)
		if err != nil {
			return err
		}
		defer cache.Close()

		engine, err := mirror.NewEngine(cache, adapter, logs.New("mirror"))
		if err != nil {
			return err
		}
		refresher := &broadcast.Recorder{}
		reporter := telemetry.NewLogReporter(logs.New("telemetry"), 10)
		work, err := jobs.NewWork(engine, refresher, reporter, logs.New("jobs"))
		if err != nil {
			return err
		}

		start := time.Now()
		work.Run(ctx, req)
		elapsed := time.Since(start)

		if n := reporter.Count(); n > 0 {
			for _, e := range reporter.Recent() {
				fmt.Printf("   failed: %v\n", e)
			}
			return fmt.Errorf("%s finished with %d errors", req, n)
		}

		st := engine.Stats()
		lists, tasks, _ := cache.Counts(ctx)
		fmt.Printf("Synced %s in %v\n", req, elapsed.Round(time.Millisecond))
		fmt.Printf("   Lists: %d synced, %d unchanged, %d dropped\n", st.ListsSynced, st.ListsSkipped, st.ListsDropped)
		fmt.Printf("   Tasks: %d fetched, %d removed\n", st.TasksFetched, st.TasksDeleted)
		fmt.Printf("   Mirror: %d lists, %d tasks\n", lists, tasks)
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64("task", 0, "Task id to sync")
	syncCmd.Flags().Int64("list", 0, "List id to sync")
	rootCmd.AddCommand(syncCmd)
}
