package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mschirtzinger/tracksync/internal/dashboard"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/inbox"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the local cache live-synced (foreground)",
	Long: `Run the sync engine in the foreground.

The daemon:
  1. Warm starts the cache from the snapshot (snapshot.path)
  2. Subscribes to the signed-in user's projects, tasks and notifications
  3. Serves cache changes over WebSocket (dashboard.port or --port)
  4. Imports *.json files dropped into the inbox directory (inbox.dir or --inbox)
  5. Saves the cache snapshot periodically and on shutdown

Connect with a WebSocket client:
  ws://localhost:<port>/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("inbox") {
			cfg.Inbox.Dir, _ = cmd.Flags().GetString("inbox")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		e, err := engine.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}

		// Stopped in reverse order before the engine closes.
		var stops []func()
		shutdown := func() error {
			for i := len(stops) - 1; i >= 0; i-- {
				stops[i]()
			}
			return e.Close()
		}

		if cfg.Dashboard.Port > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Host:   cfg.Dashboard.Host,
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			handler := dashboard.NewHandler(server, e.Cache, logger)
			if err := server.Start(); err != nil {
				handler.Close()
				_ = shutdown()
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			stops = append(stops, func() {
				handler.Close()
				if err := server.Stop(); err != nil {
					logger.WithError(err).Warn("dashboard shutdown failed")
				}
			})
			fmt.Printf("   Dashboard: ws://%s/ws\n", server.Addr())
		}

		if cfg.Inbox.Dir != "" {
			in, err := inbox.New(inbox.Config{Dir: cfg.Inbox.Dir, Logger: logger}, e.Import)
			if err != nil {
				_ = shutdown()
				return err
			}
			if err := in.Start(); err != nil {
				_ = in.Stop()
				_ = shutdown()
				return err
			}
			stops = append(stops, func() {
				if err := in.Stop(); err != nil {
					logger.WithError(err).Warn("inbox shutdown failed")
				}
				st := in.Stats()
				logger.WithField("processed", st.Processed).WithField("failed", st.Failed).Info("inbox stopped")
			})
			fmt.Printf("   Inbox: %s\n", cfg.Inbox.Dir)
		}

		fmt.Printf("%s Sync engine running for user %q (%s store)\n", ui.RenderAccent("🚀"), cfg.User.ID, cfg.Store.Driver)
		if cfg.Snapshot.Path != "" {
			fmt.Printf("   Snapshot: %s every %s\n", cfg.Snapshot.Path, cfg.Snapshot.Interval)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := e.Start(ctx); err != nil {
			_ = shutdown()
			return err
		}
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		if err := shutdown(); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Println("Sync engine stopped")
		return nil
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "dashboard port (0 disables)")
	daemonCmd.Flags().String("inbox", "", "directory to import *.json files from")
	rootCmd.AddCommand(daemonCmd)
}
