// Package notify implements the cross-process change notification channel.
//
// The channel is a single JSON file in the storage directory. The store
// touches it after every successful persist; sibling processes watch it with
// fsnotify and reload their view of the database when it changes. The file's
// content is advisory only; consumers react to the change event itself.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the notification file's name within the storage directory.
const FileName = "changed.json"

// record is the on-disk notification format.
type record struct {
	UpdatedAt string `json:"updatedAt"`
}

// Path returns the notification file path for a storage directory. Any
// process that knows the storage root can derive it without coordination.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Touch writes the current UTC timestamp to the notification file,
// creating it if needed.
func Touch(dir string) error {
	rec := record{UpdatedAt: time.Now().UTC().Format(time.RFC3339)}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := os.WriteFile(Path(dir), data, 0644); err != nil {
		return fmt.Errorf("failed to write notification file: %w", err)
	}
	return nil
}
