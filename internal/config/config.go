package config

// Config is the root configuration for the Beacon gateway.
type Config struct {
	Persona   string          `json:"persona,omitempty"` // active persona ID (empty = no persona)
	DataDir   string          `json:"data_dir"`
	Gateway   GatewayConfig   `json:"gateway"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Channels  ChannelsConfig  `json:"channels"`
	Memory    MemoryConfig    `json:"memory"`
	Compact   CompactConfig   `json:"compact"`
	Context   ContextConfig   `json:"context"`
	Skills    SkillsConfig    `json:"skills"`
	Knowledge KnowledgeConfig `json:"knowledge,omitempty"`
	Plugins   PluginsConfig   `json:"plugins,omitempty"`
	Hooks     HooksConfig     `json:"hooks,omitempty"`
	Events    EventsConfig    `json:"events,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the admin HTTP surface and DM admission.
type GatewayConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"` // default 18789
	PublicURL string `json:"public_url,omitempty"`
	AdminKey  string `json:"-"`        // from env BEACON_ADMIN_KEY only
	DMPolicy  string `json:"dm_policy"` // "open" | "allowlist" | "pairing"
}

// LLMConfig selects the inference backend. Beacon speaks the
// OpenAI-compatible chat completions protocol to whatever serves it.
type LLMConfig struct {
	BaseURL       string  `json:"base_url"`
	APIKey        string  `json:"-"` // from env BEACON_LLM_API_KEY only
	Model         string  `json:"model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	TimeoutSec    int     `json:"timeout_sec"` // per sync call, default 60
	CloudMode     bool    `json:"cloud_mode,omitempty"`
	SynapseURL    string  `json:"synapse_url,omitempty"`
	SynapseAPIURL string  `json:"synapse_api_url,omitempty"`
	GatewaySecret string  `json:"-"` // from env BEACON_SYNAPSE_GATEWAY_SECRET only
}

// EmbeddingConfig configures the local embedder used for memory vectors.
type EmbeddingConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension"` // fixed vector dimension D
}

// ChannelsConfig holds per-adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Lark     LarkConfig     `json:"lark,omitempty"`
}

// TelegramConfig configures the Telegram adapter (long-poll ingress).
type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"-"` // from env BEACON_TELEGRAM_TOKEN only
	StreamMode     string `json:"stream_mode,omitempty"`     // "none" | "partial"
	ReactionLevel  string `json:"reaction_level,omitempty"`  // "off" | "ack" | "full"
	AckEmoji       string `json:"ack_emoji,omitempty"`       // default "👀"
	DoneEmoji      string `json:"done_emoji,omitempty"`      // default "👍"
	RequireMention bool   `json:"require_mention,omitempty"` // group default, overridable per group
}

// DiscordConfig configures the Discord adapter (gateway ingress).
type DiscordConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"-"` // from env BEACON_DISCORD_TOKEN only
	RequireMention bool   `json:"require_mention,omitempty"`
}

// LarkConfig configures the Lark/Feishu-style webhook adapter.
type LarkConfig struct {
	Enabled           bool   `json:"enabled"`
	AppID             string `json:"-"` // from env BEACON_LARK_APP_ID only
	AppSecret         string `json:"-"` // from env BEACON_LARK_APP_SECRET only
	VerificationToken string `json:"-"` // from env BEACON_LARK_VERIFICATION_TOKEN only
	BaseURL           string `json:"base_url,omitempty"`
}

// MemoryConfig configures retrieval and the sync loop.
type MemoryConfig struct {
	MaxContextItems int        `json:"max_context_items"` // default 10
	SearchK         int        `json:"search_k"`          // default 5
	Sync            SyncConfig `json:"sync,omitempty"`
}

// SyncConfig configures the periodic cloud push of unsynced memories.
type SyncConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expression, default "*/15 * * * *"
	URL      string `json:"url,omitempty"`
	APIKey   string `json:"-"` // from env BEACON_SYNC_API_KEY only
	DeviceID string `json:"device_id,omitempty"`
}

// CompactConfig configures session compaction.
type CompactConfig struct {
	Threshold   int     `json:"threshold"`    // default 40
	Fraction    float64 `json:"fraction"`     // default 0.5
	FlushMemory bool    `json:"flush_memory"` // extract facts into memory on compact
	TimeoutSec  int     `json:"timeout_sec"`  // default 60
}

// ContextConfig bounds the prompt the context builder produces.
type ContextConfig struct {
	MaxTotalTokens  int `json:"max_total_tokens"` // default 8000
	HistoryMessages int `json:"history_messages"` // default 20
}

// SkillsConfig configures skill discovery roots.
type SkillsConfig struct {
	ManagedDir string   `json:"managed_dir,omitempty"` // default data_dir/skills
	ExtraRoots []string `json:"extra_roots,omitempty"`
	Watch      bool     `json:"watch,omitempty"` // re-discover on filesystem change
}

// KnowledgeConfig lists knowledge packs resolved at startup.
type KnowledgeConfig struct {
	CacheDir string   `json:"cache_dir,omitempty"` // default data_dir/knowledge
	Packs    []string `json:"packs,omitempty"`     // file paths or URLs
}

// PluginsConfig configures MCP plugin servers.
type PluginsConfig struct {
	Servers map[string]*PluginServerConfig `json:"servers,omitempty"`
}

// PluginServerConfig is one MCP server entry.
type PluginServerConfig struct {
	Transport  string            `json:"transport"` // "stdio" | "sse" | "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	SkillsDir  string            `json:"skills_dir,omitempty"` // joins skill discovery roots
	Enabled    *bool             `json:"enabled,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled treats a nil flag as enabled.
func (p *PluginServerConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// HooksConfig maps hook points to handler command lines.
type HooksConfig struct {
	MessageReceived []HookHandlerConfig `json:"message_received,omitempty"`
	BeforeAgent     []HookHandlerConfig `json:"before_agent,omitempty"`
	AfterAgent      []HookHandlerConfig `json:"after_agent,omitempty"`
}

// HookHandlerConfig is one external hook handler.
type HookHandlerConfig struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"`
}

// EventsConfig configures the Iggy event publisher.
type EventsConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host,omitempty"`      // env IGGY_HOST
	HTTPPort       int    `json:"http_port,omitempty"` // env IGGY_HTTP_PORT
	Username       string `json:"-"`                   // env IGGY_USERNAME
	Password       string `json:"-"`                   // env IGGY_PASSWORD
	Stream         string `json:"stream,omitempty"`    // default "beacon"
	OrganizationID string `json:"organization_id,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}
