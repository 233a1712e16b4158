package server

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/util"
)

// ConfigFile is looked up in the workspace root during initialize.
const ConfigFile = ".lspkit.json"

// Config tunes the session. Every field has a working default, so a missing
// or partial config file is fine.
type Config struct {
	// Sync selects the advertised document sync kind: "incremental" or
	// "full".
	Sync string `json:"sync"`

	// Mirror replicates the workspace root into a temp directory that
	// follows the open documents' in-memory state.
	Mirror bool `json:"mirror"`

	// HandlerLimit caps concurrently running request handlers.
	HandlerLimit int64 `json:"handler_limit"`
}

func (c *Config) UnmarshalJSON(content []byte) error {
	type config Config
	cfg := config(defaultConfig())
	if err := json.Unmarshal(content, &cfg); err != nil {
		return err
	}
	*c = Config(cfg)
	return nil
}

func defaultConfig() Config {
	return Config{
		Sync:         "incremental",
		Mirror:       true,
		HandlerLimit: 16,
	}
}

// loadConfig reads the workspace config file, falling back to defaults when
// the file is absent or broken.
func loadConfig(root util.Path) Config {
	content, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Logger.Warn("Config file unreadable", "error", err)
		}
		return defaultConfig()
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		logging.Logger.Error("Invalid config file, using defaults", "error", err)
		return defaultConfig()
	}
	logging.Logger.Info("Loaded workspace config", "path", filepath.Join(root, ConfigFile))
	return cfg
}
