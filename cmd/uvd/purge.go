package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete events and summaries beyond the retention window",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		days := purgeDays
		if days == 0 {
			days = cfg.RetentionDays
		}
		if days <= 0 {
			fmt.Println("Retention disabled, nothing to do")
			return
		}

		st := openStore(cfg)
		defer st.Close()

		deleted, err := st.DeleteOlderThan(days)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error purging: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Deleted %d rows older than %d days\n", deleted, days)
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0,
		"retention window in days (default: configured retention_days)")
	rootCmd.AddCommand(purgeCmd)
}
