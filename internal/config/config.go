// Package config loads the optional msla.json settings shared by the
// command-line tools.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gmlewis/msla/internal/logging"
	"github.com/gmlewis/msla/pipeline"
)

// FileName is looked up in the working directory, then in the user
// config directory under msla/.
const FileName = "msla.json"

// Config holds the tool settings. Zero Workers or BatchSize means a
// default chosen from the CPU count.
type Config struct {
	Workers   int    `json:"workers"`
	BatchSize int    `json:"batch_size"`
	LogLevel  string `json:"log_level"`
	Dedup     bool   `json:"dedup"`
}

// Default returns the settings used when no file is found.
func Default() *Config {
	return &Config{LogLevel: "info", Dedup: true}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if cfg.Workers < 0 || cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%v: workers %v and batch_size %v must not be negative", path, cfg.Workers, cfg.BatchSize)
	}
	return cfg, nil
}

// Find returns the first msla.json in the working directory or the user
// config directory, or "" if there is none.
func Find() string {
	candidates := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "msla", FileName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// RegisterFlags binds command-line overrides for every setting to flags.
// Flag defaults are the current values, so call it after Load.
func (c *Config) RegisterFlags(flags *flag.FlagSet) {
	flags.IntVar(&c.Workers, "workers", c.Workers, "Concurrent layer codec workers (0 = GOMAXPROCS)")
	flags.IntVar(&c.BatchSize, "batch", c.BatchSize, "Layers held in memory per batch (0 = automatic)")
	flags.StringVar(&c.LogLevel, "log", c.LogLevel, "Log level: debug, info, warn or error")
	flags.BoolVar(&c.Dedup, "dedup", c.Dedup, "Store identical layers once where the format allows it")
}

// Apply sets the global log level.
func (c *Config) Apply() error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	return nil
}

// Pipeline returns the codec pipeline settings.
func (c *Config) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Workers = c.Workers
	cfg.BatchSize = c.BatchSize
	cfg.Dedup = c.Dedup
	return cfg
}
