package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/usagevault/usagevault/internal/logging"
	"github.com/usagevault/usagevault/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync daemon",
	Long: `Run continuously: sync on an interval, react immediately to credential
changes, reload when a sibling process updates the cache, and apply
retention cleanup.

Stops on SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.NewWithFile("watch", cfg.LogDir)

		st := openStore(cfg)
		defer st.Close()

		s, provider := buildSyncer(cfg, st, &printNotifier{})

		// React to token changes: forced-initial resync.
		provider.OnChange(s.OnTokenChanged)
		if err := provider.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching credentials: %v\n", err)
			os.Exit(1)
		}
		defer provider.Close()

		// Reload when a sibling process persists.
		watcher, err := notify.NewWatcher(cfg.StorageDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		// First sync immediately.
		if err := s.RefreshData(ctx); err != nil {
			logger.Printf("sync failed: %v", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Printf("shutting down")
				s.Wait()
				return

			case <-ticker.C:
				if err := s.RefreshData(ctx); err != nil {
					logger.Printf("sync failed: %v", err)
				}
				if cfg.RetentionDays > 0 {
					if _, err := st.DeleteOlderThan(cfg.RetentionDays); err != nil {
						logger.Printf("retention cleanup failed: %v", err)
					}
				}

			case _, ok := <-watcher.Changes():
				if !ok {
					return
				}
				if err := st.Reload(); err != nil {
					logger.Printf("reload failed: %v", err)
				}

			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				logger.Printf("watcher error: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
