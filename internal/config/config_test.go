package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/termshare/termshare/pkg/types"
)

// isolate points TERMSHARE_CONFIG at a (possibly missing) file so the
// developer's real config never leaks into tests.
func isolate(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if yaml != "" {
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv("TERMSHARE_CONFIG", path)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SocketPath == "" {
		t.Error("SocketPath empty")
	}
	if !strings.HasSuffix(cfg.SocketPath, "termshare.sock") {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.RecordDir == "" {
		t.Error("RecordDir empty")
	}
	if cfg.RecordMode != "" {
		t.Errorf("RecordMode = %q, want unset", cfg.RecordMode)
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t, `
socketPath: /tmp/custom.sock
recordMode: on-failure
idleTimeLimit: 2.5
observeAddr: 127.0.0.1:7681
sandbox:
  network: allowlist
  allowedDomains: [example.com]
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.RecordMode != types.RecordingOnFailure {
		t.Errorf("RecordMode = %q", cfg.RecordMode)
	}
	if cfg.IdleTimeLimit != 2.5 {
		t.Errorf("IdleTimeLimit = %v", cfg.IdleTimeLimit)
	}
	if cfg.ObserveAddr != "127.0.0.1:7681" {
		t.Errorf("ObserveAddr = %q", cfg.ObserveAddr)
	}
	if cfg.Sandbox == nil || cfg.Sandbox.Network != types.NetworkAllowlist {
		t.Errorf("Sandbox = %+v", cfg.Sandbox)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t, "socketPath: /tmp/from-file.sock\nrecordMode: always\n")
	t.Setenv("TERMSHARE_SOCKET", "/tmp/from-env.sock")
	t.Setenv("TERMSHARE_RECORD_MODE", "on-failure")
	t.Setenv("TERMSHARE_IDLE_TIME_LIMIT", "3")
	t.Setenv("TERMSHARE_COMPRESS_RECORDS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SocketPath != "/tmp/from-env.sock" {
		t.Errorf("SocketPath = %q, env should win", cfg.SocketPath)
	}
	if cfg.RecordMode != types.RecordingOnFailure {
		t.Errorf("RecordMode = %q, env should win", cfg.RecordMode)
	}
	if cfg.IdleTimeLimit != 3 {
		t.Errorf("IdleTimeLimit = %v", cfg.IdleTimeLimit)
	}
	if !cfg.CompressRecords {
		t.Error("CompressRecords = false")
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	isolate(t, "")
	t.Setenv("TERMSHARE_RECORD_MODE", "sometimes")
	if _, err := Load(); err == nil {
		t.Error("Load() with bad mode expected error")
	}
}

func TestDefaultSocketPathPerUser(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultSocketPath(); got != "/run/user/1000/termshare/termshare.sock" {
		t.Errorf("DefaultSocketPath() = %q", got)
	}
}
