package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	GroupID: "work",
	Short:   "Create, inspect and change standalone tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Long: `Create a task.

The due date accepts timestamps or natural language:
  tracksync task create "Fix login" --due "next friday" -a U1 -a U2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := aggregate.NewTask{Title: args[0]}
		in.Description, _ = cmd.Flags().GetString("description")
		in.AssignedTo, _ = cmd.Flags().GetStringSlice("assign")
		if s, _ := cmd.Flags().GetString("priority"); s != "" {
			p, err := model.ParseTaskPriority(s)
			if err != nil {
				return err
			}
			in.Priority = p
		}
		var err error
		if in.DueDate, err = dateFlag(cmd, "due"); err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.Ops.CreateTask(ctx, in).Wait(ctx)
			if err != nil {
				return err
			}
			return reportTask(t, "Created")
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your tasks (all tasks with --all)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all {
			if err := requireUser(); err != nil {
				return err
			}
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			var h *orchestrator.Handle[[]*model.Task]
			if all {
				h = e.Ops.FetchTasks(ctx)
			} else {
				h = e.Ops.FetchUserTasks(ctx, e.UserID())
			}
			tasks, err := h.Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println(ui.RenderMuted("No tasks"))
				return nil
			}
			now := time.Now()
			width := ui.Width()
			for _, t := range tasks {
				due := ""
				if t.DueDate != nil {
					due = humanize.Time(*t.DueDate)
					if t.Overdue(now) {
						due = ui.RenderFail(due)
					}
				}
				fmt.Printf("%-22s %-12s %-8s %-16s %s\n",
					t.ID, ui.RenderStatus(string(t.Status)), ui.RenderPriority(string(t.Priority)),
					due, ui.Truncate(t.Title, width-62))
			}
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.Ops.FetchTask(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			fmt.Printf("\n%s %s\n\n", ui.RenderAccent(t.ID), ui.RenderHeader(t.Title))
			fmt.Printf("Status:   %s\n", ui.RenderStatus(string(t.Status)))
			fmt.Printf("Priority: %s\n", ui.RenderPriority(string(t.Priority)))
			if len(t.AssignedTo) > 0 {
				fmt.Printf("Assigned: %s\n", strings.Join(t.AssignedTo, ", "))
			}
			if t.DueDate != nil {
				fmt.Printf("Due:      %s (%s)\n", t.DueDate.Format("2006-01-02"), humanize.Time(*t.DueDate))
			}
			for _, c := range model.SortedComments(t.Comments) {
				fmt.Printf("  %s %s: %s\n", ui.RenderMuted(humanize.Time(c.CreatedAt)), c.AuthorID, c.Text)
			}
			for _, f := range t.Attachments {
				fmt.Printf("  %s  %s  %s\n", f.Name, ui.RenderMuted(humanize.Bytes(uint64(f.Size))), f.URL)
			}
			fmt.Println()
			return nil
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change task fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u aggregate.TaskUpdate
		flags := cmd.Flags()
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			u.Title = &v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			u.Description = &v
		}
		if flags.Changed("priority") {
			s, _ := flags.GetString("priority")
			p, err := model.ParseTaskPriority(s)
			if err != nil {
				return err
			}
			u.Priority = &p
		}
		if flags.Changed("assign") {
			v, _ := flags.GetStringSlice("assign")
			u.AssignedTo = &v
		}
		var err error
		if u.DueDate, err = dateFlag(cmd, "due"); err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.Ops.UpdateTask(ctx, args[0], u).Wait(ctx)
			if err != nil {
				return err
			}
			return reportTask(t, "Updated")
		})
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a task to another status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := model.ParseTaskStatus(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.Ops.UpdateTaskStatus(ctx, args[0], status).Wait(ctx)
			if err != nil {
				return err
			}
			return reportTask(t, "Moved")
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			id, err := e.Ops.DeleteTask(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Deleted task %s\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var taskCommentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Comment on a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.Ops.AddTaskComment(ctx, actor(ctx, e), args[0], strings.Join(args[1:], " ")).Wait(ctx)
			if err != nil {
				return err
			}
			return reportTask(t, "Commented on")
		})
	},
}

var taskAttachCmd = &cobra.Command{
	Use:   "attach <id> <file>",
	Short: "Upload a file and attach it to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return attach(cmd, model.KindTask, args[0], args[1])
	},
}

func init() {
	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd} {
		c.Flags().StringP("description", "d", "", "description")
		c.Flags().StringP("priority", "p", "", "priority (Low, Medium, High)")
		c.Flags().StringSliceP("assign", "a", nil, "assignee user ids")
		c.Flags().String("due", "", "due date")
	}
	taskUpdateCmd.Flags().String("title", "", "new title")
	taskListCmd.Flags().Bool("all", false, "list every task, not only yours")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskUpdateCmd, taskStatusCmd,
		taskDeleteCmd, taskCommentCmd, taskAttachCmd)
	rootCmd.AddCommand(taskCmd)
}

func reportTask(t *model.Task, verb string) error {
	if jsonOutput {
		return printJSON(t)
	}
	fmt.Printf("%s %s task %s %s\n", ui.RenderPass("✓"), verb, ui.RenderAccent(t.ID), t.Title)
	return nil
}
