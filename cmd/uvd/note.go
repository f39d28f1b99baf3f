package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:   "note <timestamp> <model> <user> <text>",
	Short: "Attach a note to a usage event",
	Long: `Set the free-text note on the event identified by its natural key
(timestamp, model, user). Notes are never overwritten by sync.

Pass an empty string to clear the note.`,
	Args: cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		st := openStore(cfg)
		defer st.Close()

		err := st.UpdateNote(args[0], args[1], args[2], args[3])
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Error: no event with timestamp=%s model=%s user=%s\n",
				args[0], args[1], args[2])
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error updating note: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Note updated")
	},
}

func init() {
	rootCmd.AddCommand(noteCmd)
}
