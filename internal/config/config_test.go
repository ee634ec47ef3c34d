package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Listener.Commitment != "finalized" {
		t.Errorf("default commitment = %q, want finalized", cfg.Listener.Commitment)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
kafka:
  brokers: ["k1:9092", "k2:9092"]
  group_id: custom-group
projector:
  orphan_max_attempts: 9
  orphan_backoff: 750ms
risk:
  cancel_window: 2m
  large_amount_threshold: "5000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.GroupFor("storage-writer") != "custom-group" {
		t.Errorf("GroupFor = %q", cfg.Kafka.GroupFor("storage-writer"))
	}
	if cfg.Projector.OrphanMaxAttempts != 9 || cfg.Projector.OrphanBackoff != 750*time.Millisecond {
		t.Errorf("projector = %+v", cfg.Projector)
	}
	if cfg.Risk.CancelWindow != 2*time.Minute || cfg.Risk.LargeAmountThreshold != "5000" {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	// не указанное в файле остаётся по умолчанию
	if cfg.Kafka.EventsTopic != "escrow.events.v1" {
		t.Errorf("events topic = %q", cfg.Kafka.EventsTopic)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "kafka:\n  brokers: [\"file:9092\"]\n")
	t.Setenv("KAFKA_BROKERS", "env1:9092, env2:9092")
	t.Setenv("ORPHAN_MAX_ATTEMPTS", "2")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/escrow")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "env1:9092,env2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Projector.OrphanMaxAttempts != 2 {
		t.Errorf("orphan attempts = %d", cfg.Projector.OrphanMaxAttempts)
	}
	if cfg.Database.DSN() != "postgres://u:p@db/escrow" {
		t.Errorf("DSN = %q", cfg.Database.DSN())
	}
	if strings.Contains(cfg.Database.DSNWithoutPassword(), "u:p") {
		t.Error("DSNWithoutPassword must not leak credentials")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Commitment(t *testing.T) {
	tests := []struct {
		name       string
		commitment string
		allow      bool
		wantErr    bool
	}{
		{"finalized", "finalized", false, false},
		{"confirmed rejected by default", "confirmed", false, true},
		{"confirmed allowed explicitly", "confirmed", true, false},
		{"processed allowed explicitly", "Processed", true, false},
		{"unknown", "rooted", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Listener.Commitment = tt.commitment
			cfg.Listener.AllowUnfinalized = tt.allow

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad api port", func(c *Config) { c.API.Port = 0 }},
		{"bad driver", func(c *Config) { c.Kafka.Driver = "nats" }},
		{"same topics", func(c *Config) { c.Kafka.AlertsTopic = c.Kafka.EventsTopic }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"negative orphan attempts", func(c *Config) { c.Projector.OrphanMaxAttempts = -1 }},
		{"threshold not a number", func(c *Config) { c.Risk.LargeAmountThreshold = "lots" }},
		{"zero in flight", func(c *Config) { c.Listener.MaxInFlight = 0 }},
		{"zero drain timeout", func(c *Config) { c.Listener.DrainTimeout = 0 }},
		{"zero burst", func(c *Config) { c.API.RateBurst = 0 }},
		{"plain admin token", func(c *Config) { c.API.AdminTokenHash = "secret" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_MemoryDriverNeedsNoBrokers(t *testing.T) {
	cfg := Default()
	cfg.Kafka.Driver = "memory"
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory driver should not require brokers: %v", err)
	}
}
