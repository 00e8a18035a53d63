package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/mirror"
	"github.com/steveyegge/taskbridge/internal/opentasks"
	"github.com/steveyegge/taskbridge/internal/provider"
	"github.com/steveyegge/taskbridge/internal/ui"
)

// openProvider opens the provider store and makes sure its schema exists.
func openProvider() (*provider.Store, error) {
	store, err := provider.Open(cfg.Provider.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openAdapter resolves the usable authority and returns an adapter that
// writes as this process.
func openAdapter(ctx context.Context, store *provider.Store) (*opentasks.Adapter, error) {
	auth, err := store.ResolveAuthorities(ctx, cfg.Provider.PrimaryAuthority, cfg.Provider.CompatAuthority, cfg.Provider.MinVersion)
	if err != nil {
		return nil, err
	}
	if !auth.Available {
		return nil, fmt.Errorf("task provider not available: neither %s nor %s is installed (run 'taskbridge provider init')",
			cfg.Provider.PrimaryAuthority, cfg.Provider.CompatAuthority)
	}
	return opentasks.New(store.Client(cfg.Client.Origin), &opentasks.Config{
		Authority:    auth.Active,
		AccountTypes: cfg.Provider.AccountTypes,
		Logger:       logs.New("opentasks"),
	})
}

// openMirror opens the mirror cache and makes sure its schema exists.
func openMirror(ctx context.Context) (*mirror.Cache, error) {
	cache, err := mirror.Open(cfg.Mirror.Path)
	if err != nil {
		return nil, err
	}
	if err := cache.InitSchema(ctx); err != nil {
		_ = cache.Close()
		return nil, err
	}
	return cache, nil
}

// formatFlag reads and validates the --format flag.
func formatFlag(cmd *cobra.Command) (ui.Format, error) {
	s, _ := cmd.Flags().GetString("format")
	return ui.ParseFormat(s)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

var errNoDate = errors.New("no date found")

// parseDue turns "tomorrow 5pm", "next friday" or an ISO date into a time,
// relative to now.
func parseDue(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", text, errNoDate)
	}
	return r.Time, nil
}
