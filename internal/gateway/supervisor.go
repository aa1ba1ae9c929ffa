package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/beacon/internal/bootstrap"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/channels/discord"
	"github.com/nextlevelbuilder/beacon/internal/channels/lark"
	"github.com/nextlevelbuilder/beacon/internal/channels/telegram"
	"github.com/nextlevelbuilder/beacon/internal/compact"
	"github.com/nextlevelbuilder/beacon/internal/config"
	"github.com/nextlevelbuilder/beacon/internal/contextbuild"
	"github.com/nextlevelbuilder/beacon/internal/events"
	httpapi "github.com/nextlevelbuilder/beacon/internal/http"
	"github.com/nextlevelbuilder/beacon/internal/hooks"
	"github.com/nextlevelbuilder/beacon/internal/knowledge"
	"github.com/nextlevelbuilder/beacon/internal/mcp"
	"github.com/nextlevelbuilder/beacon/internal/media"
	"github.com/nextlevelbuilder/beacon/internal/memory"
	"github.com/nextlevelbuilder/beacon/internal/pairing"
	"github.com/nextlevelbuilder/beacon/internal/pipeline"
	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/skills"
	"github.com/nextlevelbuilder/beacon/internal/store"
	"github.com/nextlevelbuilder/beacon/internal/telemetry"
	"github.com/nextlevelbuilder/beacon/internal/tools"
)

const defaultSystemPrompt = "You are Beacon, a helpful assistant reachable over chat. Be concise and direct."

// drainDeadline bounds how long shutdown waits for in-flight messages.
const drainDeadline = 15 * time.Second

// Run builds the whole gateway from configuration and serves until ctx
// is cancelled. Startup errors are fatal; runtime errors stay inside
// their supervised loops.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	pub := initEvents(ctx, cfg)
	defer pub.Close()

	provider := buildProvider(cfg)
	embedder := buildEmbedder(cfg)

	memSvc := memory.NewService(st.Memories, memory.NewIndex(), embedder, cfg.Memory.Sync.DeviceID)
	if err := memSvc.Start(ctx); err != nil {
		return fmt.Errorf("rebuild memory index: %w", err)
	}

	registry := tools.NewRegistry()
	pluginMgr := mcp.NewManager(registry, cfg.Plugins.Servers)

	// Skills: bundled first, then managed dir, extra roots, and whatever
	// the plugins advertise.
	if n, err := bootstrap.SeedBundledSkills(ctx, st.Skills); err != nil {
		slog.Warn("gateway.bundled_skills_failed", "error", err)
	} else {
		slog.Info("gateway.bundled_skills", "count", n)
	}
	managedDir := cfg.Skills.ManagedDir
	if managedDir == "" {
		managedDir = cfg.DataPath("skills")
	}
	loader := skills.NewLoader(st.Skills, managedDir, cfg.Skills.ExtraRoots)
	if err := pluginMgr.Start(ctx); err != nil {
		return fmt.Errorf("plugins: %w", err)
	}
	defer pluginMgr.Stop()
	for _, dir := range pluginMgr.SkillsDirs() {
		loader.AddRoot(dir, store.SkillSourcePlugin)
	}
	if n, err := loader.Sync(ctx); err != nil {
		slog.Warn("gateway.skill_sync_failed", "error", err)
	} else {
		slog.Info("gateway.skills_synced", "count", n)
	}

	// Knowledge packs are best-effort: a missing pack logs and drops out.
	var library *knowledge.Library
	if len(cfg.Knowledge.Packs) > 0 {
		library = knowledge.NewLibrary(ctx, cfg.Knowledge.Packs, embedder)
	}

	if err := registerBuiltinTools(registry, st, memSvc); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	systemPrompt, err := buildSystemPrompt(ctx, cfg, st)
	if err != nil {
		return err
	}
	builder := contextbuild.NewBuilder(st.Messages, memSvc, library, systemPrompt,
		cfg.Context.MaxTotalTokens, cfg.Context.HistoryMessages, cfg.Memory.MaxContextItems)

	var compactMem *memory.Service
	if cfg.Compact.FlushMemory {
		compactMem = memSvc
	}
	compactor := compact.New(st.Messages, compactMem, provider, cfg.LLM.Model,
		cfg.Compact.Threshold, cfg.Compact.Fraction, cfg.Compact.FlushMemory,
		time.Duration(cfg.Compact.TimeoutSec)*time.Second)

	gate := pairing.NewGate(pairing.ParsePolicy(cfg.Gateway.DMPolicy), st.Pairing)
	hookMgr := buildHooks(cfg.Hooks)
	attachments := media.NewProcessor(provider, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.APIKey, "")

	manager := channels.NewManager()
	if err := buildAdapters(cfg, st, manager); err != nil {
		return err
	}

	// session_send needs the channel manager, which needs adapters first.
	sendTool := tools.NewSessionSendTool(st.Sessions, func(ctx context.Context, channel, channelID, content string) error {
		return manager.Send(ctx, channel, channelID, content)
	})
	if err := registry.Register(sendTool); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	server := NewServer(cfg)
	server.MountAdmin(
		httpapi.NewUsersHandler(st.Users, cfg.DataPath("profiles")),
		httpapi.NewSessionsHandler(st.Sessions, st.Messages),
		httpapi.NewGroupsHandler(st.Groups),
		httpapi.NewLifeHandler(memSvc),
	)
	server.MountFeed(pub)
	for _, a := range manager.All() {
		if wa, ok := a.(channels.WebhookAdapter); ok {
			server.MountWebhook(wa)
		}
	}

	if err := manager.ConnectAll(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return server.Start(gctx) })

	for _, a := range manager.All() {
		p := pipeline.New(a, st, builder, provider, registry, gate, hookMgr, pub,
			compactor, attachments, pipelineOptions(cfg, a.Name()))
		g.Go(func() error {
			p.Run(gctx)
			return nil
		})
	}

	if cfg.Skills.Watch {
		g.Go(func() error {
			if err := loader.Watch(gctx); err != nil {
				slog.Warn("gateway.skill_watch_failed", "error", err)
			}
			return nil
		})
	}
	if cfg.Memory.Sync.Enabled {
		syncer := memory.NewSyncer(memSvc, cfg.Memory.Sync)
		g.Go(func() error {
			syncer.Run(gctx)
			return nil
		})
	}

	slog.Info("gateway.started", "version", version, "channels", len(manager.All()))

	<-gctx.Done()
	slog.Info("gateway.shutting_down")
	server.StopAccepting()

	// Stop ingress, then let pipelines drain their queues.
	disconnectCtx, dcancel := context.WithTimeout(context.Background(), drainDeadline)
	manager.DisconnectAll(disconnectCtx)
	dcancel()
	drainQueues(manager, drainDeadline)

	cancel()
	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// drainQueues waits for adapter queues to empty, bounded by deadline.
// Ingress has already stopped, so the queues only shrink.
func drainQueues(manager *channels.Manager, deadline time.Duration) {
	waitUntil := time.Now().Add(deadline)
	for time.Now().Before(waitUntil) {
		pending := 0
		for _, a := range manager.All() {
			pending += a.Queue().Len()
		}
		if pending == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Warn("gateway.drain_timeout")
}

func initEvents(ctx context.Context, cfg *config.Config) *events.Publisher {
	stream := cfg.Events.Stream
	if stream == "" {
		stream = "beacon"
	}
	if cfg.Events.Enabled {
		pub, err := events.New(ctx, cfg.Events.Host, cfg.Events.HTTPPort,
			cfg.Events.Username, cfg.Events.Password, stream, cfg.Events.OrganizationID, "beacon")
		if err == nil {
			return pub
		}
		slog.Warn("gateway.events_init_failed", "error", err)
	}
	return events.NewLocal(cfg.Events.OrganizationID, "beacon")
}

func buildProvider(cfg *config.Config) providers.Provider {
	baseURL := cfg.LLM.BaseURL
	apiKey := cfg.LLM.APIKey
	name := "openai"
	if cfg.LLM.CloudMode && cfg.LLM.SynapseAPIURL != "" {
		baseURL = cfg.LLM.SynapseAPIURL
		apiKey = cfg.LLM.GatewaySecret
		name = "synapse"
	}
	timeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	return providers.NewOpenAIProvider(name, apiKey, baseURL, cfg.LLM.Model, timeout)
}

func buildEmbedder(cfg *config.Config) providers.Embedder {
	base := cfg.Embedding.BaseURL
	if base == "" {
		base = cfg.LLM.BaseURL
	}
	if base == "" || cfg.Embedding.Model == "" {
		return nil
	}
	return providers.NewHTTPEmbedder(base, cfg.LLM.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
}

// registerBuiltinTools adds the built-in tools after the plugin manager
// has claimed its names; a collision with a plugin tool aborts startup.
func registerBuiltinTools(registry *tools.Registry, st *store.Store, memSvc *memory.Service) error {
	var builtins []tools.Tool
	// Memory tools only make sense with an embedder-backed service; the
	// lexical path still works, so require only the service.
	if memSvc != nil {
		builtins = append(builtins,
			tools.NewMemoryStoreTool(memSvc),
			tools.NewMemorySearchTool(memSvc),
			tools.NewMemoryForgetTool(memSvc))
	}
	builtins = append(builtins,
		tools.NewSessionListTool(st.Sessions, st.Messages),
		tools.NewSessionHistoryTool(st.Sessions, st.Messages))

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// buildSystemPrompt joins the persona document with the always-include
// skill section. A named persona that cannot be read is a config error.
func buildSystemPrompt(ctx context.Context, cfg *config.Config, st *store.Store) (string, error) {
	prompt := defaultSystemPrompt
	if cfg.Persona != "" {
		data, err := os.ReadFile(cfg.DataPath("personas", cfg.Persona+".md"))
		if err != nil {
			return "", fmt.Errorf("persona %q: %w", cfg.Persona, err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	enabled, err := st.Skills.ListEnabledForUser(ctx, "")
	if err != nil {
		slog.Warn("gateway.skill_prompt_failed", "error", err)
		return prompt, nil
	}
	if section := skills.PromptSection(skills.FilterEligible(enabled)); section != "" {
		prompt += "\n\n" + section
	}
	return prompt, nil
}

func buildHooks(cfg config.HooksConfig) *hooks.Manager {
	mgr := hooks.NewManager()
	register := func(point hooks.Point, handlers []config.HookHandlerConfig) {
		for _, h := range handlers {
			timeout := time.Duration(h.TimeoutSec) * time.Second
			mgr.Register(point, hooks.NewCommandHandler(h.Name, h.Command, h.Args, timeout))
		}
	}
	register(hooks.MessageReceived, cfg.MessageReceived)
	register(hooks.BeforeAgent, cfg.BeforeAgent)
	register(hooks.AfterAgent, cfg.AfterAgent)
	return mgr
}

func buildAdapters(cfg *config.Config, st *store.Store, manager *channels.Manager) error {
	if cfg.Channels.Telegram.Enabled {
		a, err := telegram.New(cfg.Channels.Telegram, st.Groups)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		manager.Register(a)
	}
	if cfg.Channels.Discord.Enabled {
		a, err := discord.New(cfg.Channels.Discord)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		manager.Register(a)
	}
	if cfg.Channels.Lark.Enabled {
		a, err := lark.New(cfg.Channels.Lark)
		if err != nil {
			return fmt.Errorf("lark: %w", err)
		}
		manager.Register(a)
	}
	if len(manager.All()) == 0 {
		slog.Warn("gateway.no_channels_enabled")
	}
	return nil
}

func pipelineOptions(cfg *config.Config, channel string) pipeline.Options {
	opts := pipeline.Options{
		PersonaID:   cfg.Persona,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	if channel == "telegram" {
		tg := cfg.Channels.Telegram
		opts.ReactionLevel = tg.ReactionLevel
		opts.AckEmoji = tg.AckEmoji
		opts.DoneEmoji = tg.DoneEmoji
	}
	return opts
}
