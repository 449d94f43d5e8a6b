package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"inbox"},
	GroupID: "people",
	Short:   "Read your notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your notifications, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		unreadOnly, _ := cmd.Flags().GetBool("unread")
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			list, err := e.Ops.FetchNotifications(ctx).Wait(ctx)
			if err != nil {
				return err
			}
			if unreadOnly {
				unread := list[:0]
				for _, n := range list {
					if !n.Read {
						unread = append(unread, n)
					}
				}
				list = unread
			}
			if jsonOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println(ui.RenderMuted("No notifications"))
				return nil
			}
			for _, n := range list {
				printNotification(n)
			}
			fmt.Printf("\n%d unread\n", e.Cache.Unread())
			return nil
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark one notification, or all of them, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if len(args) == 1 {
				if _, err := e.Ops.MarkRead(ctx, args[0]).Wait(ctx); err != nil {
					return err
				}
				fmt.Printf("%s Marked %s as read\n", ui.RenderPass("✓"), args[0])
				return nil
			}
			n, err := e.Ops.MarkAllRead(ctx).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Marked %d notifications as read\n", ui.RenderPass("✓"), n)
			return nil
		})
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			id, err := e.Ops.DeleteNotification(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Deleted notification %s\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var usersCmd = &cobra.Command{
	Use:     "users",
	Aliases: []string{"user"},
	GroupID: "people",
	Short:   "List and approve users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users (only approved ones with --approved)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		approved, _ := cmd.Flags().GetBool("approved")
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			var h *orchestrator.Handle[[]*model.User]
			if approved {
				h = e.Ops.FetchApprovedUsers(ctx)
			} else {
				h = e.Ops.FetchUsers(ctx)
			}
			users, err := h.Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(users)
			}
			for _, u := range users {
				state := ui.RenderPass("approved")
				if !u.Approved {
					state = ui.RenderWarn("pending")
				}
				fmt.Printf("%-28s %-20s %-10s %s\n", u.ID, u.DisplayName, u.Role, state)
			}
			return nil
		})
	},
}

var usersApproveCmd = &cobra.Command{
	Use:   "approve <uid>",
	Short: "Approve a user so they can be assigned work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			u, err := e.Ops.ApproveUser(ctx, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(u)
			}
			fmt.Printf("%s Approved %s\n", ui.RenderPass("✓"), u.ID)
			return nil
		})
	},
}

func init() {
	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsDeleteCmd)
	rootCmd.AddCommand(notificationsCmd)

	usersListCmd.Flags().Bool("approved", false, "only approved users")
	usersCmd.AddCommand(usersListCmd, usersApproveCmd)
	rootCmd.AddCommand(usersCmd)
}

func printNotification(n *model.Notification) {
	marker := ui.RenderAccent("●")
	if n.Read {
		marker = " "
	}
	fmt.Printf("%s %s  %s\n", marker, ui.RenderHeader(n.Title), ui.RenderMuted(humanize.Time(n.CreatedAt)))
	fmt.Printf("  %s\n", n.Message)
	fmt.Printf("  %s\n", ui.RenderMuted(n.ID))
}
