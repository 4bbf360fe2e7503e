package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the .rtchat project config written by "init".
type Config struct {
	Server string `json:"server"`
	Room   string `json:"room,omitempty"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token,omitempty"`
}

const configFileName = ".rtchat"

// loadConfig reads a .rtchat config from the current directory or any
// parent directory.
func loadConfig() *Config {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}

	for {
		path := filepath.Join(dir, configFileName)
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg Config
			if json.Unmarshal(data, &cfg) == nil {
				return &cfg
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}

// saveConfig writes the config to the current directory. Token included,
// so the file is written user-only.
func saveConfig(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configFileName, append(data, '\n'), 0600)
}
