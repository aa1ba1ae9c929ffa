package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.beacon",
		Gateway: GatewayConfig{
			Host:     "0.0.0.0",
			Port:     18789,
			DMPolicy: "pairing",
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen3:8b",
			MaxTokens:   4096,
			Temperature: 0.7,
			TimeoutSec:  60,
		},
		Embedding: EmbeddingConfig{
			Dimension: 768,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "partial",
				ReactionLevel: "full",
				AckEmoji:      "👀",
				DoneEmoji:     "👍",
			},
		},
		Memory: MemoryConfig{
			MaxContextItems: 10,
			SearchK:         5,
			Sync: SyncConfig{
				Schedule: "*/15 * * * *",
			},
		},
		Compact: CompactConfig{
			Threshold:  40,
			Fraction:   0.5,
			TimeoutSec: 60,
		},
		Context: ContextConfig{
			MaxTotalTokens:  8000,
			HistoryMessages: 20,
		},
		Events: EventsConfig{
			Stream: "beacon",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: env vars over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets come only from env.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("BEACON_DATA_DIR", &c.DataDir)
	envStr("BEACON_PERSONA", &c.Persona)
	envStr("BEACON_HOST", &c.Gateway.Host)
	envInt("BEACON_PORT", &c.Gateway.Port)
	envStr("BEACON_PUBLIC_URL", &c.Gateway.PublicURL)
	envStr("BEACON_ADMIN_KEY", &c.Gateway.AdminKey)
	envStr("BEACON_DM_POLICY", &c.Gateway.DMPolicy)

	envStr("BEACON_LLM_BASE_URL", &c.LLM.BaseURL)
	envStr("BEACON_LLM_API_KEY", &c.LLM.APIKey)
	envStr("BEACON_LLM_MODEL", &c.LLM.Model)
	envBool("BEACON_CLOUD_MODE", &c.LLM.CloudMode)
	envStr("BEACON_SYNAPSE_URL", &c.LLM.SynapseURL)
	envStr("BEACON_SYNAPSE_API_URL", &c.LLM.SynapseAPIURL)
	envStr("BEACON_SYNAPSE_GATEWAY_SECRET", &c.LLM.GatewaySecret)

	envStr("BEACON_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("BEACON_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("BEACON_LARK_APP_ID", &c.Channels.Lark.AppID)
	envStr("BEACON_LARK_APP_SECRET", &c.Channels.Lark.AppSecret)
	envStr("BEACON_LARK_VERIFICATION_TOKEN", &c.Channels.Lark.VerificationToken)

	// Channels with credentials from env are implicitly enabled.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Lark.AppID != "" && c.Channels.Lark.AppSecret != "" {
		c.Channels.Lark.Enabled = true
	}

	envInt("BEACON_COMPACT_THRESHOLD", &c.Compact.Threshold)
	envBool("BEACON_COMPACT_FLUSH_MEMORY", &c.Compact.FlushMemory)

	envStr("BEACON_SYNC_API_KEY", &c.Memory.Sync.APIKey)
	envStr("BEACON_SYNC_URL", &c.Memory.Sync.URL)

	envStr("IGGY_HOST", &c.Events.Host)
	envInt("IGGY_HTTP_PORT", &c.Events.HTTPPort)
	envStr("IGGY_USERNAME", &c.Events.Username)
	envStr("IGGY_PASSWORD", &c.Events.Password)
	if c.Events.Host != "" && c.Events.Username != "" {
		c.Events.Enabled = true
	}

	envBool("BEACON_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("BEACON_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BEACON_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}

// Validate checks invariants that make startup impossible when broken.
func (c *Config) Validate() error {
	switch c.Gateway.DMPolicy {
	case "open", "allowlist", "pairing":
	default:
		return fmt.Errorf("invalid dm_policy %q (want open|allowlist|pairing)", c.Gateway.DMPolicy)
	}
	if c.Compact.Threshold < 2 {
		return fmt.Errorf("compact.threshold must be at least 2, got %d", c.Compact.Threshold)
	}
	if c.Compact.Fraction <= 0 || c.Compact.Fraction >= 1 {
		return fmt.Errorf("compact.fraction must be in (0,1), got %g", c.Compact.Fraction)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}

// DataPath joins a relative path onto the expanded data directory.
func (c *Config) DataPath(parts ...string) string {
	elems := append([]string{ExpandHome(c.DataDir)}, parts...)
	return filepath.Join(elems...)
}

// DatabasePath returns the location of the single database file.
func (c *Config) DatabasePath() string {
	return c.DataPath("beacon.db")
}

// Save writes the config to a JSON file. Secrets are json:"-" tagged and
// never persist.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

const secretMask = "***"

// MaskedCopy returns a deep copy with secret fields masked, for admin
// API responses.
func (c *Config) MaskedCopy() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	maskNonEmpty(&cp.Gateway.AdminKey)
	maskNonEmpty(&cp.LLM.APIKey)
	maskNonEmpty(&cp.LLM.GatewaySecret)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Lark.AppID)
	maskNonEmpty(&cp.Channels.Lark.AppSecret)
	maskNonEmpty(&cp.Channels.Lark.VerificationToken)
	maskNonEmpty(&cp.Memory.Sync.APIKey)
	maskNonEmpty(&cp.Events.Password)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
