package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/snapshot"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local cache snapshot status",
	Long: `Display the state of the local cache snapshot.

Shows:
  - Snapshot file location and size
  - Entities per cached collection
  - The user it was saved for and when`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Snapshot.Path
		if path == "" {
			fmt.Printf("\n%s Snapshots are disabled\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Set snapshot.path to keep a warm cache between runs\n\n")
			return nil
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("\n%s No snapshot at %s\n", ui.RenderWarn("⚠"), path)
			fmt.Printf("   Run 'tracksync daemon' to create one\n\n")
			return nil
		}

		db, err := snapshot.Open(path, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := db.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}

		fmt.Printf("\n%s Cache Snapshot\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", st.Path)
		fmt.Printf("Size:     %s\n", humanize.Bytes(uint64(st.Bytes)))
		if st.SavedAt.IsZero() {
			fmt.Printf("Saved:    %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("Saved:    %s (%s)\n", st.SavedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(st.SavedAt))
			fmt.Printf("User:     %s\n", st.UserID)
		}
		fmt.Println()
		for _, name := range cache.Names {
			fmt.Printf("  %-15s %s\n", name, humanize.Comma(int64(st.Counts[name])))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
