package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/mschirtzinger/tracksync/internal/config"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "sync",
	Short:   "Manage the tracksync configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a default tracksync.toml",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "tracksync.toml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		var overrides map[string]any
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			var err error
			if overrides, err = promptConfig(); err != nil {
				return err
			}
		}

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		if err := config.Write(f, overrides); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cfg)
		}
		if cfg.File != "" {
			fmt.Printf("# from %s\n", cfg.File)
		}
		return yaml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().BoolP("interactive", "i", false, "prompt for the user and store settings")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// promptConfig asks for the settings that have no sensible default.
func promptConfig() (map[string]any, error) {
	var (
		userID   string
		driver   = config.DriverMemory
		mongoURI string
		snapshot = true
	)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("User id").Description("The uid you sign in as").Value(&userID),
			huh.NewSelect[string]().
				Title("Document store").
				Options(
					huh.NewOption("In-memory (nothing persists remotely)", config.DriverMemory),
					huh.NewOption("MongoDB", config.DriverMongo),
				).
				Value(&driver),
			huh.NewConfirm().Title("Keep a local cache snapshot?").Value(&snapshot),
		),
		huh.NewGroup(
			huh.NewInput().Title("MongoDB URI").Placeholder("mongodb://localhost:27017").Value(&mongoURI),
		).WithHideFunc(func() bool { return driver != config.DriverMongo }),
	)
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("config prompt aborted: %w", err)
	}

	overrides := map[string]any{
		"user.id":      userID,
		"store.driver": driver,
	}
	if driver == config.DriverMongo {
		overrides["mongo.uri"] = mongoURI
	}
	if snapshot {
		overrides["snapshot.path"] = ".tracksync/cache.db"
	}
	return overrides, nil
}
