// Package config loads uvd configuration via viper.
//
// Settings are resolved in order: defaults, an optional config.yaml in the
// storage directory, then UVD_* environment variables. The storage directory
// itself can only come from the environment or the default, since the config
// file lives inside it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all uvd settings.
type Config struct {
	// StorageDir is the directory holding the database, lock file,
	// notification file, and session token.
	StorageDir string

	// BaseURL is the remote API root, e.g. https://api.example.com.
	BaseURL string

	// RetentionDays bounds how long events and summaries are kept.
	// 0 disables retention cleanup.
	RetentionDays int

	// PageSize is the events page size requested from the remote API.
	PageSize int

	// SyncInterval is how often the watch daemon triggers a sync.
	SyncInterval time.Duration

	// LogDir, when non-empty, enables rotating file logs.
	LogDir string

	// DashboardAddr is the listen address for the dashboard server.
	DashboardAddr string
}

// DefaultStorageDir returns ~/.usagevault, or a relative fallback when the
// home directory cannot be determined.
func DefaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".usagevault"
	}
	return filepath.Join(home, ".usagevault")
}

// Load resolves the configuration. A missing config file is not an error;
// a malformed one is.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("storage_dir", DefaultStorageDir())
	v.SetDefault("base_url", "https://api.usagevault.dev")
	v.SetDefault("retention_days", 90)
	v.SetDefault("page_size", 100)
	v.SetDefault("sync_interval", "60s")
	v.SetDefault("log_dir", "")
	v.SetDefault("dashboard_addr", "127.0.0.1:8790")

	v.SetEnvPrefix("UVD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	storageDir := v.GetString("storage_dir")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(storageDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		StorageDir:    v.GetString("storage_dir"),
		BaseURL:       strings.TrimRight(v.GetString("base_url"), "/"),
		RetentionDays: v.GetInt("retention_days"),
		PageSize:      v.GetInt("page_size"),
		SyncInterval:  v.GetDuration("sync_interval"),
		LogDir:        v.GetString("log_dir"),
		DashboardAddr: v.GetString("dashboard_addr"),
	}

	if cfg.RetentionDays < 0 {
		return nil, fmt.Errorf("retention_days cannot be negative: %d", cfg.RetentionDays)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be positive: %d", cfg.PageSize)
	}

	return cfg, nil
}
