package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/termshare/termshare/pkg/types"
)

// Config holds all configuration for termshare. Values come from an
// optional YAML file with TERMSHARE_* environment variables layered on
// top (env wins, for local overrides).
type Config struct {
	// SocketPath is the tool-proxy endpoint.
	SocketPath string `yaml:"socketPath"`

	// Shell overrides $SHELL for the hosted session.
	Shell string `yaml:"shell"`
	// ScrollbackBytes bounds retained output. 0 = default.
	ScrollbackBytes int `yaml:"scrollbackBytes"`

	// Recording policy defaults.
	RecordMode        types.RecordingMode `yaml:"recordMode"` // "" = off unless --record
	RecordDir         string              `yaml:"recordDir"`
	IdleTimeLimit     float64             `yaml:"idleTimeLimit"`     // seconds
	MaxDuration       float64             `yaml:"maxDuration"`       // seconds
	InactivityTimeout float64             `yaml:"inactivityTimeout"` // seconds
	CompressRecords   bool                `yaml:"compressRecords"`

	// ObserveAddr enables the read-only HTTP observer when set
	// (e.g. "127.0.0.1:7681"). Empty disables it.
	ObserveAddr string `yaml:"observeAddr"`

	// Sandbox is the capability passed into session construction.
	Sandbox *types.SandboxPermissions `yaml:"sandbox"`
}

// DefaultSocketPath derives the endpoint from the per-user runtime
// directory, falling back to a per-user temp directory.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "termshare", "termshare.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("termshare-%d", os.Getuid()), "termshare.sock")
}

// DefaultRecordDir is where artifacts land unless configured otherwise.
func DefaultRecordDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "termshare", "recordings")
}

// Load reads the optional config file, then applies environment variables
// on top.
func Load() (*Config, error) {
	cfg := &Config{
		SocketPath: DefaultSocketPath(),
		RecordDir:  DefaultRecordDir(),
	}

	path := os.Getenv("TERMSHARE_CONFIG")
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "termshare", "config.yaml")
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.SocketPath = envOrDefault("TERMSHARE_SOCKET", cfg.SocketPath)
	cfg.Shell = envOrDefault("TERMSHARE_SHELL", cfg.Shell)
	cfg.ScrollbackBytes = envOrDefaultInt("TERMSHARE_SCROLLBACK_BYTES", cfg.ScrollbackBytes)
	if v := os.Getenv("TERMSHARE_RECORD_MODE"); v != "" {
		cfg.RecordMode = types.RecordingMode(v)
	}
	cfg.RecordDir = envOrDefault("TERMSHARE_RECORD_DIR", cfg.RecordDir)
	cfg.IdleTimeLimit = envOrDefaultFloat("TERMSHARE_IDLE_TIME_LIMIT", cfg.IdleTimeLimit)
	cfg.MaxDuration = envOrDefaultFloat("TERMSHARE_MAX_DURATION", cfg.MaxDuration)
	cfg.InactivityTimeout = envOrDefaultFloat("TERMSHARE_INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	if v := os.Getenv("TERMSHARE_COMPRESS_RECORDS"); v != "" {
		cfg.CompressRecords = v == "true" || v == "1"
	}
	cfg.ObserveAddr = envOrDefault("TERMSHARE_OBSERVE_ADDR", cfg.ObserveAddr)

	if cfg.RecordMode != "" && !cfg.RecordMode.Valid() {
		return nil, fmt.Errorf("invalid record mode %q", cfg.RecordMode)
	}
	return cfg, nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func envOrDefaultFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
