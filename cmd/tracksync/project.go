package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/dates"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	GroupID: "work",
	Short:   "Create, inspect and change projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a project",
	Long: `Create a project and notify its assignees.

Dates accept timestamps ("2024-07-01", "2024-07-01 09:00") or natural
language ("next friday", "in 2 weeks").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := aggregate.NewProject{Title: args[0]}
		in.Description, _ = cmd.Flags().GetString("description")
		in.EstimatedHours, _ = cmd.Flags().GetFloat64("estimate")
		assign, _ := cmd.Flags().GetStringSlice("assign")
		in.AssignedTo = assign

		if s, _ := cmd.Flags().GetString("status"); s != "" {
			st, err := model.ParseProjectStatus(s)
			if err != nil {
				return err
			}
			in.Status = st
		}
		if s, _ := cmd.Flags().GetString("priority"); s != "" {
			p, err := model.ParseProjectPriority(s)
			if err != nil {
				return err
			}
			in.Priority = p
		}
		var err error
		if in.StartDate, err = dateFlag(cmd, "start"); err != nil {
			return err
		}
		if in.EndDate, err = dateFlag(cmd, "end"); err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.CreateProject(ctx, in).Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			fmt.Printf("%s Created project %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(p.ID), p.Title)
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects (all projects with --all)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all {
			if err := requireUser(); err != nil {
				return err
			}
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			var h *orchestrator.Handle[[]*model.Project]
			if all {
				h = e.Ops.FetchProjects(ctx)
			} else {
				h = e.Ops.FetchUserProjects(ctx, e.UserID())
			}
			projects, err := h.Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(projects)
			}
			if len(projects) == 0 {
				fmt.Println(ui.RenderMuted("No projects"))
				return nil
			}
			width := ui.Width()
			for _, p := range projects {
				fmt.Printf("%-22s %-12s %-9s %3d%%  %s\n",
					p.ID, ui.RenderStatus(string(p.Status)), ui.RenderPriority(string(p.Priority)),
					p.Progress, ui.Truncate(p.Title, width-52))
			}
			return nil
		})
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project with its subtasks, comments and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.FetchProject(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			printProject(p)
			return nil
		})
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change project fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u aggregate.ProjectUpdate
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
			p, err := model.ParseProjectPriority(s)
			if err != nil {
				return err
			}
			u.Priority = &p
		}
		if flags.Changed("assign") {
			v, _ := flags.GetStringSlice("assign")
			u.AssignedTo = &v
		}
		if flags.Changed("progress") {
			v, _ := flags.GetInt("progress")
			u.Progress = &v
		}
		if flags.Changed("estimate") {
			v, _ := flags.GetFloat64("estimate")
			u.EstimatedHours = &v
		}
		if flags.Changed("actual") {
			v, _ := flags.GetFloat64("actual")
			u.ActualHours = &v
		}
		var err error
		if u.StartDate, err = dateFlag(cmd, "start"); err != nil {
			return err
		}
		if u.EndDate, err = dateFlag(cmd, "end"); err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.UpdateProject(ctx, args[0], u).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Updated")
		})
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a project to another status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := model.ParseProjectStatus(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.UpdateProjectStatus(ctx, args[0], status).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Moved")
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and its notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			id, err := e.Ops.DeleteProject(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Deleted project %s\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var projectCommentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Comment on a project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.AddComment(ctx, actor(ctx, e), args[0], strings.Join(args[1:], " ")).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Commented on")
		})
	},
}

var projectAttachCmd = &cobra.Command{
	Use:   "attach <id> <file>",
	Short: "Upload a file and attach it to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return attach(cmd, model.KindProject, args[0], args[1])
	},
}

var subTaskCmd = &cobra.Command{
	Use:     "subtask",
	Aliases: []string{"subtasks"},
	Short:   "Manage the subtasks embedded in a project",
}

var subTaskAddCmd = &cobra.Command{
	Use:   "add <project-id> <title>",
	Short: "Add a subtask",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.AddSubTask(ctx, args[0], strings.Join(args[1:], " ")).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Added subtask to")
		})
	},
}

var subTaskUpdateCmd = &cobra.Command{
	Use:   "update <project-id> <subtask-id>",
	Short: "Rename a subtask or change its status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u aggregate.SubTaskUpdate
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			u.Title = &v
		}
		if cmd.Flags().Changed("status") {
			s, _ := cmd.Flags().GetString("status")
			st, err := model.ParseProjectStatus(s)
			if err != nil {
				return err
			}
			u.Status = &st
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.UpdateSubTask(ctx, args[0], args[1], u).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Updated subtask of")
		})
	},
}

var subTaskDeleteCmd = &cobra.Command{
	Use:   "delete <project-id> <subtask-id>",
	Short: "Remove a subtask",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Ops.DeleteSubTask(ctx, args[0], args[1]).Wait(ctx)
			if err != nil {
				return err
			}
			return reportProject(p, "Removed subtask from")
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{projectCreateCmd, projectUpdateCmd} {
		c.Flags().StringP("description", "d", "", "description")
		c.Flags().StringP("priority", "p", "", "priority (Low, Medium, High, Critical)")
		c.Flags().StringSliceP("assign", "a", nil, "assignee user ids")
		c.Flags().Float64("estimate", 0, "estimated hours")
		c.Flags().String("start", "", "start date")
		c.Flags().String("end", "", "end date")
	}
	projectCreateCmd.Flags().StringP("status", "s", "", "initial status (default ToDo)")
	projectUpdateCmd.Flags().String("title", "", "new title")
	projectUpdateCmd.Flags().Int("progress", 0, "progress percentage (0-100)")
	projectUpdateCmd.Flags().Float64("actual", 0, "actual hours spent")
	projectListCmd.Flags().Bool("all", false, "list every project, not only yours")

	subTaskUpdateCmd.Flags().String("title", "", "new title")
	subTaskUpdateCmd.Flags().String("status", "", "new status")
	subTaskCmd.AddCommand(subTaskAddCmd, subTaskUpdateCmd, subTaskDeleteCmd)

	projectCmd.AddCommand(
		projectCreateCmd, projectListCmd, projectShowCmd, projectUpdateCmd, projectStatusCmd,
		projectDeleteCmd, projectCommentCmd, projectAttachCmd, subTaskCmd,
	)
	rootCmd.AddCommand(projectCmd)
}

// dateFlag parses a date flag. Unset flags yield nil.
func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	t, err := dates.Parse(s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

// actor resolves the configured user, with a display name when the user
// record exists.
func actor(ctx context.Context, e *engine.Engine) aggregate.Actor {
	a := e.Ops.Actor()
	if u, err := e.Repo.Users.Get(ctx, a.ID); err == nil {
		a.Name = u.DisplayName
	}
	return a
}

func attach(cmd *cobra.Command, kind model.Kind, id, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		file, err := e.AttachFile(ctx, kind, id, filepath.Base(path), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(file)
		}
		fmt.Printf("%s Attached %s (%s, %s)\n", ui.RenderPass("✓"), file.Name, file.Type, humanize.Bytes(uint64(file.Size)))
		fmt.Printf("   URL: %s\n", file.URL)
		return nil
	})
}

func reportProject(p *model.Project, verb string) error {
	if jsonOutput {
		return printJSON(p)
	}
	fmt.Printf("%s %s project %s %s\n", ui.RenderPass("✓"), verb, ui.RenderAccent(p.ID), p.Title)
	return nil
}

func printProject(p *model.Project) {
	fmt.Printf("\n%s %s\n\n", ui.RenderAccent(p.ID), ui.RenderHeader(p.Title))
	fmt.Printf("Status:   %s\n", ui.RenderStatus(string(p.Status)))
	fmt.Printf("Priority: %s\n", ui.RenderPriority(string(p.Priority)))
	fmt.Printf("Progress: %d%%\n", p.Progress)
	if len(p.AssignedTo) > 0 {
		fmt.Printf("Assigned: %s\n", strings.Join(p.AssignedTo, ", "))
	}
	if p.EndDate != nil {
		fmt.Printf("Due:      %s (%s)\n", p.EndDate.Format("2006-01-02"), humanize.Time(*p.EndDate))
	}
	if p.Description != "" {
		fmt.Printf("\n%s\n", p.Description)
	}

	if len(p.SubTasks) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeader("Subtasks"))
		for _, s := range p.SubTasks {
			fmt.Printf("  %s  %-12s %s\n", ui.RenderMuted(s.ID), ui.RenderStatus(string(s.Status)), s.Title)
		}
	}
	if len(p.Comments) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeader("Comments"))
		for _, c := range model.SortedComments(p.Comments) {
			author := c.AuthorName
			if author == "" {
				author = c.AuthorID
			}
			fmt.Printf("  %s %s: %s\n", ui.RenderMuted(humanize.Time(c.CreatedAt)), author, c.Text)
		}
	}
	if files := append(append([]model.File(nil), p.Files...), p.Images...); len(files) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeader("Files"))
		for _, f := range files {
			fmt.Printf("  %s  %s  %s\n", f.Name, ui.RenderMuted(humanize.Bytes(uint64(f.Size))), f.URL)
		}
	}
	fmt.Println()
}
