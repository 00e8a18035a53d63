package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/opentasks"
	"github.com/steveyegge/taskbridge/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "query",
	Short:   "Read and edit single provider tasks",
	Long: `Read and edit single tasks in the provider, addressed by remote UID.

Edits go through the same adapter the sync pipeline uses and are written
with this process's origin, so a running watcher ignores them.`,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id|uid>",
	Short: "Show one task with its tags, order and parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			local, err := adapter.ResolveLocalID(ctx, &args[0])
			if err != nil {
				return err
			}
			if !local.OK {
				return fmt.Errorf("no task with uid %s", args[0])
			}
			id = local.ID
		}
		task, err := adapter.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("no task with id %d", id)
		}
		return ui.NewPrinter(os.Stdout).Tasks(format, tasksOf(task))
	},
}

var taskUIDCmd = &cobra.Command{
	Use:   "uid <id>",
	Short: "Print the remote UID of a task id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "task id")
		if err != nil {
			return err
		}
		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()

		uid, err := adapter.ResolveRemoteUID(ctx, id)
		if err != nil {
			return err
		}
		if uid == nil {
			return fmt.Errorf("no task with id %d", id)
		}
		fmt.Println(*uid)
		return nil
	},
}

var taskTagsCmd = &cobra.Command{
	Use:   "tags <uid> [tag...]",
	Short: "Show or replace the tags of a task",
	Long: `Show the tags of a task, or replace them with the given tags.

  taskbridge task tags a1              # show
  taskbridge task tags a1 home errand  # replace
  taskbridge task tags a1 --clear      # remove all`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearAll, _ := cmd.Flags().GetBool("clear")
		if clearAll && len(args) > 1 {
			return fmt.Errorf("--clear cannot be combined with tags")
		}
		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()
		ref := opentasks.ItemRef{UID: args[0]}

		if len(args) == 1 && !clearAll {
			tags, err := adapter.GetTags(ctx, ref)
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Println("(no tags)")
				return nil
			}
			fmt.Println(strings.Join(tags, "\n"))
			return nil
		}

		if err := adapter.SetTags(ctx, ref, args[1:]); err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Set %d tags on %s", len(args)-1, ref.UID)
		return nil
	},
}

var taskOrderCmd = &cobra.Command{
	Use:   "order <uid> [value]",
	Short: "Show or set the sort order of a task",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearAll, _ := cmd.Flags().GetBool("clear")
		var order *int64
		switch {
		case clearAll && len(args) > 1:
			return fmt.Errorf("--clear cannot be combined with a value")
		case len(args) > 1:
			v, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order %q", args[1])
			}
			order = &v
		}

		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()
		ref := opentasks.ItemRef{UID: args[0]}

		if len(args) == 1 && !clearAll {
			order, err := adapter.GetOrder(ctx, ref)
			if err != nil {
				return err
			}
			if order == nil {
				fmt.Println("(no order)")
				return nil
			}
			fmt.Println(*order)
			return nil
		}

		if err := adapter.SetOrder(ctx, ref, order); err != nil {
			return err
		}
		p := ui.NewPrinter(os.Stdout)
		if order == nil {
			p.Success("Cleared order of %s", ref.UID)
		} else {
			p.Success("Set order of %s to %d", ref.UID, *order)
		}
		return nil
	},
}

var taskParentCmd = &cobra.Command{
	Use:   "parent <uid> <parent-uid>",
	Short: "Link a task to its parent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()

		if err := adapter.UpdateParentLink(ctx, opentasks.ItemRef{UID: args[0], ParentUID: args[1]}); err != nil {
			return err
		}
		ui.NewPrinter(os.Stdout).Success("Linked %s to parent %s", args[0], args[1])
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <list-id> <sync-id>",
	Short: "Delete a task by its remote item identifier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		listID, err := parseID(args[0], "list id")
		if err != nil {
			return err
		}
		ctx := context.Background()
		adapter, done, err := openTaskAdapter(ctx)
		if err != nil {
			return err
		}
		defer done()

		n, err := adapter.DeleteItem(ctx, listID, args[1])
		if err != nil {
			return err
		}
		p := ui.NewPrinter(os.Stdout)
		if n == 0 {
			p.Warning("No task %s in list %d", args[1], listID)
			return nil
		}
		p.Success("Deleted %d task(s)", n)
		return nil
	},
}

// openTaskAdapter opens the provider and an adapter over it. done closes
// the provider.
func openTaskAdapter(ctx context.Context) (*opentasks.Adapter, func(), error) {
	store, err := openProvider()
	if err != nil {
		return nil, nil, err
	}
	adapter, err := openAdapter(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return adapter, func() { _ = store.Close() }, nil
}

func init() {
	addFormatFlag(taskShowCmd)
	taskTagsCmd.Flags().Bool("clear", false, "Remove all tags")
	taskOrderCmd.Flags().Bool("clear", false, "Remove the sort order")

	taskCmd.AddCommand(taskShowCmd, taskUIDCmd, taskTagsCmd, taskOrderCmd, taskParentCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
