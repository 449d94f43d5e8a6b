package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mschirtzinger/tracksync/internal/config"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/logging"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	userFlag   string
	jsonOutput bool
	noColor    bool

	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "tracksync",
	Short:         "Project and task tracker with a live-synced local cache",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `tracksync keeps a local cache of projects, tasks, users and notifications
in sync with a document store and runs every change through named operations.

Configuration is read from tracksync.toml (see 'tracksync config init'),
TRACKSYNC_* environment variables and a .env file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(!noColor)
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if userFlag != "" {
			loaded.User.ID = userFlag
		}
		cfg = loaded

		log, closer, err := logging.New(logging.Config{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		logger, logCloser = log, closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "work", Title: "Working With Projects And Tasks:"},
		&cobra.Group{ID: "people", Title: "People And Notifications:"},
		&cobra.Group{ID: "sync", Title: "Sync And Cache:"},
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./tracksync.toml or ~/.config/tracksync/tracksync.toml)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "act as this user id (overrides user.id)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine opens the engine for a one-shot command and closes it after fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) (err error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operation.Timeout+10*time.Second)
	defer cancel()

	e, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, e)
}

func requireUser() error {
	if cfg.User.ID == "" {
		return fmt.Errorf("no user configured: set user.id, TRACKSYNC_USER_ID or --user")
	}
	return nil
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
