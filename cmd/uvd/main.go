// Command uvd maintains a local cache of metered usage events, kept in
// sync with the remote usage API and shared safely across concurrent
// processes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usagevault/usagevault/internal/api"
	"github.com/usagevault/usagevault/internal/config"
	"github.com/usagevault/usagevault/internal/creds"
	"github.com/usagevault/usagevault/internal/lockfile"
	"github.com/usagevault/usagevault/internal/logging"
	"github.com/usagevault/usagevault/internal/store"
	"github.com/usagevault/usagevault/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "uvd",
	Short: "Local usage cache and sync daemon",
	Long: `uvd keeps a local SQLite cache of metered usage events in sync with
the remote usage API.

Multiple processes may run concurrently against the same cache: a file
lock arbitrates who fetches, and a notification file tells siblings when
to reload.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens and initializes the store or exits.
func openStore(cfg *config.Config) *store.Store {
	st := store.New(cfg.StorageDir, logging.NewWithFile("store", cfg.LogDir))
	if err := st.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return st
}

// buildSyncer assembles the orchestrator and its collaborators.
func buildSyncer(cfg *config.Config, st *store.Store, notifier syncer.Notifier) (*syncer.Syncer, *creds.FileProvider) {
	provider := creds.NewFileProvider(cfg.StorageDir, logging.NewWithFile("creds", cfg.LogDir))

	client := api.NewClient(cfg.BaseURL, provider, logging.NewWithFile("api", cfg.LogDir))
	client.SetPageSize(cfg.PageSize)

	lock := lockfile.New(cfg.StorageDir, logging.NewWithFile("lock", cfg.LogDir))

	s := syncer.New(st, client, lock, notifier, logging.NewWithFile("syncer", cfg.LogDir))
	return s, provider
}
