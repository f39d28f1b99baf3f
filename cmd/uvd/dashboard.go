package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/usagevault/usagevault/internal/dashboard"
	"github.com/usagevault/usagevault/internal/logging"
	"github.com/usagevault/usagevault/internal/notify"
)

var dashboardAddr string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the UI read surface",
	Long: `Serve the filtered event projection and latest summary over HTTP, and
push store-change notifications to WebSocket clients whenever any process
persists the cache.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.NewWithFile("dashboard", cfg.LogDir)

		addr := dashboardAddr
		if addr == "" {
			addr = cfg.DashboardAddr
		}

		st := openStore(cfg)
		defer st.Close()

		server := dashboard.NewServer(addr, st, logger)
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		defer server.Stop()

		handler := dashboard.NewHandler(server, logger)

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

		for {
			select {
			case <-ctx.Done():
				logger.Printf("shutting down")
				return

			case _, ok := <-watcher.Changes():
				if !ok {
					return
				}
				if err := st.Reload(); err != nil {
					logger.Printf("reload failed: %v", err)
					continue
				}
				handler.OnStoreChanged()

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
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "",
		"listen address (default: configured dashboard_addr)")
	rootCmd.AddCommand(dashboardCmd)
}
