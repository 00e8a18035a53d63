package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/broadcast"
	"github.com/steveyegge/taskbridge/internal/mirror"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve refresh notifications for a mirror another process writes",
	Long: `Start the refresh broadcast server on its own.

The server watches the mirror database file and tells connected clients to
refresh their lists whenever it changes. Use this when the mirror is written
by 'taskbridge sync' runs rather than a watcher with its own dashboard.

  taskbridge dashboard               # default port from config
  taskbridge dashboard --port 9000

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cache, err := openMirror(ctx)
		if err != nil {
			return err
		}
		defer cache.Close()

		server := broadcast.NewServer(&broadcast.Config{
			Host:   cfg.Dashboard.Host,
			Port:   port,
			Status: func() any { return mirrorStatus(cache) },
			Logger: logs.New("broadcast"),
		})

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(cache.Path())); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(cache.Path()), err)
		}

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Printf("Health check: http://%s/health\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		watchMirror(ctx, watcher, cache.Path(), server)

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

// watchMirror broadcasts a list refresh after writes to the mirror database
// settle, until ctx is done.
func watchMirror(ctx context.Context, watcher *fsnotify.Watcher, path string, server *broadcast.Server) {
	const settle = 250 * time.Millisecond
	base := filepath.Base(path)
	timer := time.NewTimer(settle)
	timer.Stop()
	logger := logs.New("dashboard")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// The WAL takes the writes; the main file only moves on checkpoint.
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Printf("Watcher error: %v", err)
		case <-timer.C:
			server.BroadcastRefreshList()
		}
	}
}

type dashboardStatus struct {
	Mirror string `json:"mirror"`
	Lists  int    `json:"lists"`
	Tasks  int    `json:"tasks"`
	Error  string `json:"error,omitempty"`
}

func mirrorStatus(cache *mirror.Cache) dashboardStatus {
	st := dashboardStatus{Mirror: cache.Path()}
	lists, tasks, err := cache.Counts(context.Background())
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Lists, st.Tasks = lists, tasks
	return st
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
