package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// Save writes the configuration to the given path as TOML, creating the
// directory if needed. The previous file, if any, is kept as a .back copy.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrap(err, "create config directory")
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".back", prev, 0644); err != nil {
			return errors.Wrap(err, "back up previous config")
		}
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write config to %s", path)
	}
	return nil
}
