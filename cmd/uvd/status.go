package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usagevault/usagevault/internal/lockfile"
	"github.com/usagevault/usagevault/internal/logging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		st := openStore(cfg)
		defer st.Close()

		lock := lockfile.New(cfg.StorageDir, logging.New("lock"))
		locked, err := lock.IsLocked()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading lock: %v\n", err)
			os.Exit(1)
		}

		count, err := st.EventCount()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting events: %v\n", err)
			os.Exit(1)
		}

		hwm, hasEvents, err := st.LatestEventTimestamp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading high-water mark: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Database:        %s\n", st.Path())
		fmt.Printf("Events:          %d\n", count)
		if hasEvents {
			fmt.Printf("High-water mark: %s\n", hwm)
		} else {
			fmt.Printf("High-water mark: (none, initial sync pending)\n")
		}
		if locked {
			fmt.Printf("Sync lock:       held\n")
		} else {
			fmt.Printf("Sync lock:       free\n")
		}

		if identity, err := st.CurrentIdentity(); err == nil && identity != nil {
			fmt.Printf("Identity:        %s (%s)\n", identity.DisplayName, identity.Email)
			if role, err := st.CurrentRole(); err == nil && role != "" {
				fmt.Printf("Team role:       %s\n", role)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
