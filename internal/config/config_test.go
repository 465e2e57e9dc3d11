package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "engine:\n  initial_balance: 5000\n"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Engine.InitialBalance != 5000 {
		t.Errorf("Expected initial balance 5000, got %v", cfg.Engine.InitialBalance)
	}
	if cfg.Persistence.Path != "data/state.json" {
		t.Errorf("Expected default persistence path, got %s", cfg.Persistence.Path)
	}
	if cfg.Feed.Supervisor.StaleAfter != 30*time.Second || cfg.Feed.Supervisor.FailoverAfter != 3 {
		t.Errorf("Unexpected supervisor defaults %+v", cfg.Feed.Supervisor)
	}
	if len(cfg.Instruments) != 3 || cfg.Instruments[0].Symbol != "XAUUSD" {
		t.Errorf("Expected default instruments, got %d", len(cfg.Instruments))
	}
	if cfg.Guard.DailyCap != 6 || cfg.Position.GuardianConfidence != 85 {
		t.Errorf("Expected tuning defaults, got cap %d guardian %v", cfg.Guard.DailyCap, cfg.Position.GuardianConfidence)
	}
}

func TestLoadFileOverridesTuningAndSubstitutesEnv(t *testing.T) {
	t.Setenv("PT_REDIS_PASSWORD", "s3cret")
	body := `
guard:
  daily_cap: 3
  cooldown: 5m
position:
  guardian_confidence: 90
advisory:
  enabled: true
  url: http://localhost:9000/advise
  cache:
    min_interval: 2m
cloud:
  kind: redis
  redis:
    password: ${PT_REDIS_PASSWORD}
instruments:
  - symbol: BTCUSD
    feed_symbol: BTCUSDT
    min_lot: 0.001
    max_lot: 5
    lot_step: 0.001
    default_lot: 0.01
    precision: 2
    strategies: [trend]
    active: true
`
	cfg, err := LoadFile(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Guard.DailyCap != 3 || cfg.Guard.Cooldown != 5*time.Minute {
		t.Errorf("Unexpected guard %+v", cfg.Guard)
	}
	if len(cfg.Guard.ADXMin) != 4 {
		t.Errorf("Expected untouched guard fields to keep defaults, got %v", cfg.Guard.ADXMin)
	}
	if cfg.Position.GuardianConfidence != 90 {
		t.Errorf("Expected guardian 90, got %v", cfg.Position.GuardianConfidence)
	}
	if cfg.Advisory.Cache.MinInterval != 2*time.Minute || cfg.Advisory.Cache.MaxAge != 30*time.Minute {
		t.Errorf("Unexpected advisory cache %+v", cfg.Advisory.Cache)
	}
	if cfg.Cloud.Kind != CloudRedis || cfg.Cloud.Redis.Password != "s3cret" {
		t.Errorf("Unexpected cloud %+v", cfg.Cloud)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].LotStep != 0.001 || !cfg.Instruments[0].Active {
		t.Errorf("Unexpected instruments %+v", cfg.Instruments)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"cloud kind":     "cloud:\n  kind: s3\n",
		"feed source":    "feed:\n  sources: [kraken]\n",
		"advisory url":   "advisory:\n  enabled: true\n",
		"balance":        "engine:\n  initial_balance: 0\n",
		"guard schedule": "guard:\n  breakpoints: [360, 120, 720]\n",
	}
	for name, body := range cases {
		if _, err := LoadFile(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}
