package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != 8*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 8ms", cfg.PollInterval)
	}
	if cfg.DeadzoneFrac != 0.03 {
		t.Fatalf("DeadzoneFrac = %v, want 0.03", cfg.DeadzoneFrac)
	}
	if cfg.ReconnectGrace != 10*time.Second {
		t.Fatalf("ReconnectGrace = %v, want 10s", cfg.ReconnectGrace)
	}
	if cfg.ReadRetries != 3 {
		t.Fatalf("ReadRetries = %d, want 3", cfg.ReadRetries)
	}
	if cfg.StatusAddr != "127.0.0.1:8489" {
		t.Fatalf("StatusAddr = %q, want loopback default", cfg.StatusAddr)
	}
	if cfg.ProfilePath == "" {
		t.Fatalf("ProfilePath default is empty")
	}
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"--poll-interval", "4ms",
		"--deadzone-frac", "0.05",
		"--reconnect-grace", "30s",
		"--device-path", "/dev/input/event9",
		"--tray=false",
	}, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != 4*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 4ms", cfg.PollInterval)
	}
	if cfg.DeadzoneFrac != 0.05 {
		t.Fatalf("DeadzoneFrac = %v, want 0.05", cfg.DeadzoneFrac)
	}
	if cfg.ReconnectGrace != 30*time.Second {
		t.Fatalf("ReconnectGrace = %v, want 30s", cfg.ReconnectGrace)
	}
	if cfg.DevicePath != "/dev/input/event9" {
		t.Fatalf("DevicePath = %q", cfg.DevicePath)
	}
	if cfg.Tray {
		t.Fatalf("Tray should be disabled")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wheelbridge.yaml")
	content := "poll_interval: 2ms\nstatus_addr: 127.0.0.1:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != 2*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 2ms from file", cfg.PollInterval)
	}
	if cfg.StatusAddr != "127.0.0.1:9000" {
		t.Fatalf("StatusAddr = %q, want file value", cfg.StatusAddr)
	}
	// Untouched keys keep their defaults.
	if cfg.ReadRetries != 3 {
		t.Fatalf("ReadRetries = %d, want default 3", cfg.ReadRetries)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	if _, err := Load([]string{"--deadzone-frac", "1.5"}, ""); err == nil {
		t.Fatalf("deadzone fraction above 1 accepted")
	}
	if _, err := Load([]string{"--poll-interval", "0s"}, ""); err == nil {
		t.Fatalf("zero poll interval accepted")
	}
	if _, err := Load(nil, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing config file accepted")
	}
}
