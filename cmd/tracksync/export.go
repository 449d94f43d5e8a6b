package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// export is the document written by 'tracksync export'.
type export struct {
	ExportedAt    time.Time             `json:"exportedAt" yaml:"exportedAt"`
	Projects      []*model.Project      `json:"projects" yaml:"projects"`
	Tasks         []*model.Task         `json:"tasks" yaml:"tasks"`
	Users         []*model.User         `json:"users" yaml:"users"`
	Notifications []*model.Notification `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Export projects, tasks and users as YAML or JSON",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if jsonOutput {
			format = "json"
		}
		if format != "yaml" && format != "json" {
			return fmt.Errorf("unknown format %q (want yaml or json)", format)
		}
		outPath, _ := cmd.Flags().GetString("output")

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			doc, err := collect(ctx, e)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			if format == "json" {
				return writeJSON(w, doc)
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode export: %w", err)
			}
			return enc.Close()
		})
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "yaml", "output format (yaml or json)")
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func collect(ctx context.Context, e *engine.Engine) (*export, error) {
	projects, err := e.Ops.FetchProjects(ctx).Wait(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Ops.FetchTasks(ctx).Wait(ctx)
	if err != nil {
		return nil, err
	}
	users, err := e.Ops.FetchUsers(ctx).Wait(ctx)
	if err != nil {
		return nil, err
	}
	doc := &export{
		ExportedAt: time.Now().UTC(),
		Projects:   projects,
		Tasks:      tasks,
		Users:      users,
	}
	if e.UserID() != "" {
		if doc.Notifications, err = e.Ops.FetchNotifications(ctx).Wait(ctx); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
