package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/opentasks"
	"github.com/steveyegge/taskbridge/internal/ui"
)

var listsCmd = &cobra.Command{
	Use:     "lists",
	GroupID: "query",
	Short:   "Show the synchronized task lists in the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		adapter, err := openAdapter(ctx, store)
		if err != nil {
			return err
		}

		lists, err := adapter.ListLists(ctx)
		if err != nil {
			return err
		}
		p := ui.NewPrinter(os.Stdout)
		if err := p.Lists(format, lists); err != nil {
			return err
		}
		if format == ui.FormatTable {
			accounts, err := adapter.AccountCount(ctx)
			if err != nil {
				return err
			}
			p.Info("%d lists across %d accounts (authority %s)", len(lists), accounts, adapter.Authority())
		}
		return nil
	},
}

var etagsCmd = &cobra.Command{
	Use:     "etags <list-id>",
	GroupID: "query",
	Short:   "Show the remote item identifiers and etags of one list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		listID, err := parseID(args[0], "list id")
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := openProvider()
		if err != nil {
			return err
		}
		defer store.Close()
		adapter, err := openAdapter(ctx, store)
		if err != nil {
			return err
		}

		etags, err := adapter.ListEtags(ctx, listID)
		if err != nil {
			return err
		}
		return ui.NewPrinter(os.Stdout).Etags(format, etags)
	},
}

var mirrorCmd = &cobra.Command{
	Use:     "mirror",
	GroupID: "query",
	Short:   "Inspect or reset the local mirror",
}

var mirrorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show mirrored lists, or the tasks of one list",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		cache, err := openMirror(ctx)
		if err != nil {
			return err
		}
		defer cache.Close()
		p := ui.NewPrinter(os.Stdout)

		if !cmd.Flags().Changed("list") {
			lists, err := cache.Lists(ctx)
			if err != nil {
				return err
			}
			if err := p.Lists(format, lists); err != nil {
				return err
			}
			if format == ui.FormatTable {
				nLists, nTasks, err := cache.Counts(ctx)
				if err != nil {
					return err
				}
				p.Info("%d lists, %d tasks in %s", nLists, nTasks, cache.Path())
			}
			return nil
		}

		listID, _ := cmd.Flags().GetInt64("list")
		list, err := cache.GetList(ctx, listID)
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("list %d is not mirrored", listID)
		}
		tasks, err := cache.Tasks(ctx, listID)
		if err != nil {
			return err
		}
		if format == ui.FormatTable {
			fmt.Printf("%s (%s)\n", list.Name, list.Account)
		}
		return p.Tasks(format, tasks)
	},
}

var mirrorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Empty the mirror so the next sync pulls everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cache, err := openMirror(ctx)
		if err != nil {
			return err
		}
		defer cache.Close()
		if err := cache.Reset(ctx); err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Mirror reset: %s", cache.Path())
		return nil
	},
}

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", string(ui.FormatTable), "Output format: table, json or yaml")
}

// tasksOf is a helper for single-task output.
func tasksOf(t *opentasks.Task) []*opentasks.Task {
	if t == nil {
		return nil
	}
	return []*opentasks.Task{t}
}

func init() {
	addFormatFlag(listsCmd)
	addFormatFlag(etagsCmd)
	addFormatFlag(mirrorShowCmd)
	mirrorShowCmd.Flags().Int64("list", 0, "Show the tasks of this list")

	mirrorCmd.AddCommand(mirrorShowCmd)
	mirrorCmd.AddCommand(mirrorResetCmd)
	rootCmd.AddCommand(listsCmd)
	rootCmd.AddCommand(etagsCmd)
	rootCmd.AddCommand(mirrorCmd)
}
