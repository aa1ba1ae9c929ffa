package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18789 {
		t.Errorf("port = %d, want 18789", cfg.Gateway.Port)
	}
	if cfg.Compact.Threshold != 40 || cfg.Compact.Fraction != 0.5 {
		t.Errorf("compact defaults = %+v", cfg.Compact)
	}
	if cfg.Gateway.DMPolicy != "pairing" {
		t.Errorf("dm_policy = %q, want pairing", cfg.Gateway.DMPolicy)
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  // comments are allowed
  persona: "orin",
  gateway: { port: 9999, dm_policy: "open" },
  compact: { threshold: 12, fraction: 0.25, timeout_sec: 30 },
}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persona != "orin" {
		t.Errorf("persona = %q", cfg.Persona)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Compact.Threshold != 12 {
		t.Errorf("threshold = %d", cfg.Compact.Threshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BEACON_COMPACT_THRESHOLD", "7")
	t.Setenv("BEACON_COMPACT_FLUSH_MEMORY", "true")
	t.Setenv("BEACON_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("IGGY_HOST", "iggy.local")
	t.Setenv("IGGY_USERNAME", "beacon")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compact.Threshold != 7 {
		t.Errorf("threshold = %d, want 7", cfg.Compact.Threshold)
	}
	if !cfg.Compact.FlushMemory {
		t.Error("flush_memory not set")
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram not auto-enabled with token present")
	}
	if !cfg.Events.Enabled {
		t.Error("events not auto-enabled with iggy credentials present")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad policy", func(c *Config) { c.Gateway.DMPolicy = "maybe" }, true},
		{"threshold too low", func(c *Config) { c.Compact.Threshold = 1 }, true},
		{"fraction one", func(c *Config) { c.Compact.Fraction = 1 }, true},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Channels.Telegram.Token = "123:abc"
	cp := cfg.MaskedCopy()
	if cp.LLM.APIKey != "***" || cp.Channels.Telegram.Token != "***" {
		t.Errorf("secrets not masked: %q %q", cp.LLM.APIKey, cp.Channels.Telegram.Token)
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Error("original mutated")
	}
}
