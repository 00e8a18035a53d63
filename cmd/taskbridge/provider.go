package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/taskbridge/internal/codec"
	"github.com/steveyegge/taskbridge/internal/provider"
	"github.com/steveyegge/taskbridge/internal/ui"
)

// cliOrigin tags writes made by the provider commands. They stand in for the
// CalDAV sync adapter, so a running watcher must see them as foreign changes.
const cliOrigin = "provider-cli"

var providerCmd = &cobra.Command{
	Use:     "provider",
	GroupID: "provider",
	Short:   "Manage the local task provider store",
	Long: `Manage the SQLite-backed task provider that taskbridge mirrors.

The provider stands in for the device task provider: it exposes task lists,
tasks and properties under one or more authorities and records a change
notification for every write.`,
}

var providerInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the provider schema and install an authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		authority, _ := cmd.Flags().GetString("authority")
		version, _ := cmd.Flags().GetString("version")
		if authority == "" {
			authority = cfg.Provider.PrimaryAuthority
		}
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Install(ctx, authority, version); err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Installed %s %s in %s", authority, version, store.Path())
		return nil
	},
}

var providerSeedCmd = &cobra.Command{
	Use:   "seed <fixture.toml>",
	Short: "Load task lists and tasks from a TOML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := provider.LoadFixture(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := store.Seed(ctx, fx, cliOrigin)
		if err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Seeded %s: %d lists, %d tasks, %d properties",
			fx.Authority, res.Lists, res.Tasks, res.Properties)
		return nil
	},
}

var providerAddListCmd = &cobra.Command{
	Use:   "add-list <name>",
	Short: "Add a synchronized task list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountName, _ := cmd.Flags().GetString("account")
		accountType, _ := cmd.Flags().GetString("account-type")
		syncID, _ := cmd.Flags().GetString("sync-id")
		ctag, _ := cmd.Flags().GetString("ctag")
		color, _ := cmd.Flags().GetInt64("color")
		disabled, _ := cmd.Flags().GetBool("disabled")
		if syncID == "" {
			syncID = "/calendars/" + accountName + "/" + strings.ToLower(args[0]) + "/"
		}

		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		authority, err := activeAuthority(ctx, store)
		if err != nil {
			return err
		}

		values := provider.Values{
			provider.ListAccountName: accountName,
			provider.ListAccountType: accountType,
			provider.ListName:        args[0],
			provider.ListColor:       color,
			provider.ListSyncID:      syncID,
			provider.ListSyncEnabled: int64(1),
		}
		if disabled {
			values[provider.ListSyncEnabled] = int64(0)
		}
		if ctag != "" {
			token, err := codec.EncodeVersionToken(ctag)
			if err != nil {
				return err
			}
			values[provider.ListSyncVersion] = token
		}
		id, err := store.Client(cliOrigin).Insert(ctx, provider.ContentURI(authority, provider.TableTaskLists), values)
		if err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Added list %d (%s)", id, args[0])
		return nil
	},
}

var providerAddTaskCmd = &cobra.Command{
	Use:   "add-task <list-id> <title>",
	Short: "Add a task to a list",
	Long: `Add a task to a list, as the sync adapter would after a download.

--due accepts an ISO date or natural language such as "tomorrow 5pm" or
"next friday".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		listID, err := parseID(args[0], "list id")
		if err != nil {
			return err
		}
		uid, _ := cmd.Flags().GetString("uid")
		etag, _ := cmd.Flags().GetString("etag")
		description, _ := cmd.Flags().GetString("description")
		dueText, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetInt64("priority")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		if uid == "" {
			uid = uuid.NewString()
		}

		values := provider.Values{
			provider.TaskListID:      listID,
			provider.TaskUID:         uid,
			provider.TaskSyncID:      uid + ".ics",
			provider.TaskTitle:       args[1],
			provider.TaskDescription: description,
			provider.TaskPriority:    priority,
			provider.TaskStatus:      int64(provider.StatusNeedsAction),
		}
		if etag != "" {
			values[provider.TaskSync1] = etag
		}
		if dueText != "" {
			due, err := parseDue(dueText, time.Now())
			if err != nil {
				return err
			}
			values[provider.TaskDue] = due.UnixMilli()
		}

		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		authority, err := activeAuthority(ctx, store)
		if err != nil {
			return err
		}
		client := store.Client(cliOrigin)

		id, err := client.Insert(ctx, provider.ContentURI(authority, provider.TableTasks), values)
		if err != nil {
			return err
		}
		props := provider.ContentURI(authority, provider.TableProperties)
		for _, tag := range tags {
			if _, err := client.Insert(ctx, props, provider.Values{
				provider.PropertyTaskID:   id,
				provider.PropertyMimetype: provider.MimeCategory,
				provider.CategoryName:     tag,
			}); err != nil {
				return err
			}
		}
		ui.NewPrinter(os.Stdout).Success("Added task %d (uid %s)", id, uid)
		return nil
	},
}

var providerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every list, task and property under the active authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to reset without a terminal; pass --yes")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title("Delete all provider data?").
				Description("Lists, tasks and properties are removed. Installed authorities stay.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return nil
			}
		}

		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		authority, err := activeAuthority(ctx, store)
		if err != nil {
			return err
		}
		client := store.Client(cliOrigin)

		var total int64
		for _, table := range []string{provider.TableProperties, provider.TableTasks, provider.TableTaskLists} {
			n, err := client.Delete(ctx, provider.ContentURI(authority, table), "")
			if err != nil {
				return err
			}
			total += n
		}
		ui.NewPrinter(os.Stdout).Success("Deleted %d rows under %s", total, authority)
		return nil
	},
}

var providerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed authorities and the change log position",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		p := ui.NewPrinter(os.Stdout)

		var rows [][]string
		for _, authority := range []string{cfg.Provider.PrimaryAuthority, cfg.Provider.CompatAuthority} {
			version, ok, err := store.InstalledVersion(ctx, authority)
			if err != nil {
				return err
			}
			if !ok {
				version = "-"
			}
			rows = append(rows, []string{authority, version})
		}
		p.Table([]string{"AUTHORITY", "VERSION"}, rows)

		auth, err := store.ResolveAuthorities(ctx, cfg.Provider.PrimaryAuthority, cfg.Provider.CompatAuthority, cfg.Provider.MinVersion)
		if err != nil {
			return err
		}
		if auth.Available {
			p.Info("Active: %s, observed: %s", auth.Active, strings.Join(auth.Observed, ", "))
		} else {
			p.Warning("No usable authority (primary needs %s or later)", cfg.Provider.MinVersion)
		}

		seq, err := store.LastSeq(ctx)
		if err != nil {
			return err
		}
		p.Info("Change log at seq %d (%s)", seq, store.Path())
		return nil
	},
}

var providerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop recorded change notifications",
	Long: `Drop every change notification recorded so far. A running watcher has
already consumed them; this only reclaims space.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()

		seq, err := store.LastSeq(ctx)
		if err != nil {
			return err
		}
		n, err := store.PruneChanges(ctx, seq)
		if err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Pruned %d changes", n)
		return nil
	},
}

// activeAuthority returns the authority provider commands write through.
func activeAuthority(ctx context.Context, store *provider.Store) (string, error) {
	auth, err := store.ResolveAuthorities(ctx, cfg.Provider.PrimaryAuthority, cfg.Provider.CompatAuthority, cfg.Provider.MinVersion)
	if err != nil {
		return "", err
	}
	if !auth.Available {
		return "", fmt.Errorf("no authority installed (run 'taskbridge provider init')")
	}
	return auth.Active, nil
}

func init() {
	providerInitCmd.Flags().String("authority", "", "Authority to install (default: primary authority from config)")
	providerInitCmd.Flags().String("version", "v1.0.0", "Provider version to install as")

	providerAddListCmd.Flags().String("account", "local", "Account name")
	providerAddListCmd.Flags().String("account-type", "bitfire.at.davdroid", "Account type")
	providerAddListCmd.Flags().String("sync-id", "", "Remote collection URL (default derived from the name)")
	providerAddListCmd.Flags().String("ctag", "", "Collection version")
	providerAddListCmd.Flags().Int64("color", 0x2196f3, "List colour")
	providerAddListCmd.Flags().Bool("disabled", false, "Add the list with sync disabled")

	providerAddTaskCmd.Flags().String("uid", "", "Remote UID (default: random)")
	providerAddTaskCmd.Flags().String("etag", "", "Remote etag")
	providerAddTaskCmd.Flags().StringP("description", "d", "", "Task description")
	providerAddTaskCmd.Flags().String("due", "", "Due date")
	providerAddTaskCmd.Flags().Int64P("priority", "p", 0, "Priority (0 undefined, 1 highest, 9 lowest)")
	providerAddTaskCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")

	providerResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	providerCmd.AddCommand(providerInitCmd, providerSeedCmd, providerAddListCmd, providerAddTaskCmd,
		providerResetCmd, providerStatusCmd, providerPruneCmd)
	rootCmd.AddCommand(providerCmd)
}
