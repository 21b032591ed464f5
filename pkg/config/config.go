// Package config loads setrlimit settings from an optional YAML or JSON
// file. Values missing from the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid config")
)

// Config mirrors the command-line flags.
type Config struct {
	Resource    string        `koanf:"resource"`
	Recursive   bool          `koanf:"recursive"`
	Match       string        `koanf:"match"`
	DryRun      bool          `koanf:"dry_run"`
	StopTimeout time.Duration `koanf:"stop_timeout"`
	ProcRoot    string        `koanf:"proc_root"`
	Log         Log           `koanf:"log"`
}

type Log struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

func Default() Config {
	return Config{
		Resource:    "core",
		StopTimeout: 5 * time.Second,
		ProcRoot:    "/proc",
		Log: Log{
			Level:      "warn",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path, picking the parser from its extension. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Parse decodes data in the given format ("yaml", "yml" or "json") over
// the defaults.
func Parse(data []byte, format string) (Config, error) {
	var parser koanf.Parser
	switch strings.ToLower(format) {
	case "yaml", "yml":
		parser = yaml.Parser()
	case "json":
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Resource == "":
		return fmt.Errorf("%w: resource is empty", ErrInvalid)
	case c.StopTimeout < 0:
		return fmt.Errorf("%w: stop_timeout is negative", ErrInvalid)
	case c.ProcRoot == "":
		return fmt.Errorf("%w: proc_root is empty", ErrInvalid)
	case c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0:
		return fmt.Errorf("%w: log rotation sizes must not be negative", ErrInvalid)
	}
	return nil
}
