package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Port != "8080" || len(cfg.Cases) == 0 || len(cfg.Crash.Tables) == 0 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: "9090"
starting_balance: 5000
crash:
  payout_factor: 0.9
  growth_rate: 1.2
  tick_interval: 50ms
  waiting_delay: 2s
  countdown: 1s
  crash_pause: 500ms
  tables: [alpha, beta]
cases:
  - id: starter
    price: 50
    items:
      - {id: pebble, value: 5, weight: 80}
      - {id: gem, value: 500, weight: 20}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.StartingBalance != 5000 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Crash.TickInterval.Std() != 50*time.Millisecond {
		t.Errorf("tick interval = %v", cfg.Crash.TickInterval.Std())
	}
	if len(cfg.Crash.Tables) != 2 || cfg.Crash.Tables[1] != "beta" {
		t.Errorf("tables = %v", cfg.Crash.Tables)
	}
	if len(cfg.Cases) != 1 || cfg.Cases[0].Items[1].ID != "gem" {
		t.Errorf("cases = %+v", cfg.Cases)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STARTING_BALANCE", "123")
	t.Setenv("MAX_STAKE", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" || cfg.StartingBalance != 123 || cfg.Limits.MaxStake != 42 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidationRejects(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return path
	}

	tests := []struct {
		name string
		body string
	}{
		{"payout factor one", "crash:\n  payout_factor: 1.0\n"},
		{"negative balance", "starting_balance: -1\n"},
		{"duplicate tables", "crash:\n  tables: [main, main]\n"},
		{"bad duration", "crash:\n  tick_interval: soon\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(write(t, tc.body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := Load(""); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
