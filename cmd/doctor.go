package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/beacon/internal/config"
	"github.com/nextlevelbuilder/beacon/internal/upgrade"
	"github.com/nextlevelbuilder/beacon/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("beacon doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Database:")
	dbPath := cfg.DatabasePath()
	fmt.Printf("    %-12s %s\n", "Path:", dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("    %-12s fresh (will be created on first run)\n", "Schema:")
	} else if db, err := sql.Open("sqlite", dbPath); err != nil {
		fmt.Printf("    %-12s open error: %s\n", "Schema:", err)
	} else {
		status, cerr := upgrade.CheckSchema(db)
		db.Close()
		switch {
		case cerr != nil:
			fmt.Printf("    %-12s check error: %s\n", "Schema:", cerr)
		case status.Err() != nil:
			fmt.Printf("    %-12s %s\n", "Schema:", status.Err())
		case status.NeedsMigration:
			fmt.Printf("    %-12s v%d, migrations pending (expects v%d)\n", "Schema:", status.CurrentVersion, status.RequiredVersion)
		default:
			fmt.Printf("    %-12s v%d (OK)\n", "Schema:", status.CurrentVersion)
		}
	}

	fmt.Println()
	fmt.Println("  LLM:")
	fmt.Printf("    %-12s %s\n", "Base URL:", orUnset(cfg.LLM.BaseURL))
	fmt.Printf("    %-12s %s\n", "Model:", orUnset(cfg.LLM.Model))
	fmt.Printf("    %-12s %s\n", "API key:", presence(cfg.LLM.APIKey))
	if cfg.LLM.CloudMode {
		fmt.Printf("    %-12s cloud (%s)\n", "Mode:", orUnset(cfg.LLM.SynapseAPIURL))
	}

	fmt.Println()
	fmt.Println("  Channels:")
	fmt.Printf("    %-12s %s\n", "Telegram:", channelStatus(cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token))
	fmt.Printf("    %-12s %s\n", "Discord:", channelStatus(cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token))
	fmt.Printf("    %-12s %s\n", "Lark:", channelStatus(cfg.Channels.Lark.Enabled, cfg.Channels.Lark.AppSecret))

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("    %-12s %s\n", "DM policy:", orUnset(cfg.Gateway.DMPolicy))
	fmt.Printf("    %-12s %s\n", "Admin key:", presence(cfg.Gateway.AdminKey))
	fmt.Printf("    %-12s %s\n", "Events:", enabledStr(cfg.Events.Enabled))
	fmt.Printf("    %-12s %s\n", "Telemetry:", enabledStr(cfg.Telemetry.Enabled))
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func presence(secret string) string {
	if secret == "" {
		return "missing"
	}
	return "set"
}

func enabledStr(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func channelStatus(enabled bool, secret string) string {
	if !enabled {
		return "disabled"
	}
	if secret == "" {
		return "enabled (TOKEN MISSING)"
	}
	return "enabled"
}
