package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/beacon/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively write an initial config file",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("config already exists at %s; move it aside to re-onboard\n", path)
		os.Exit(1)
	}

	in := bufio.NewScanner(os.Stdin)
	cfg := config.Default()

	fmt.Println("beacon onboard — answers are written to", path)
	fmt.Println()

	cfg.LLM.BaseURL = ask(in, "LLM base URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = ask(in, "Model", cfg.LLM.Model)
	cfg.Gateway.DMPolicy = ask(in, "DM policy (open/allowlist/pairing)", cfg.Gateway.DMPolicy)
	cfg.Channels.Telegram.Enabled = askBool(in, "Enable Telegram?")
	cfg.Channels.Discord.Enabled = askBool(in, "Enable Discord?")
	cfg.Channels.Lark.Enabled = askBool(in, "Enable Lark?")

	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "write config: %s\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("wrote", path)
	fmt.Println("secrets are read from the environment, never from the config file:")
	fmt.Println("  BEACON_LLM_API_KEY")
	if cfg.Channels.Telegram.Enabled {
		fmt.Println("  BEACON_TELEGRAM_TOKEN")
	}
	if cfg.Channels.Discord.Enabled {
		fmt.Println("  BEACON_DISCORD_TOKEN")
	}
	if cfg.Channels.Lark.Enabled {
		fmt.Println("  BEACON_LARK_APP_ID, BEACON_LARK_APP_SECRET, BEACON_LARK_VERIFICATION_TOKEN")
	}
	fmt.Println("  BEACON_ADMIN_KEY (to enable the admin API)")
	fmt.Println()
	fmt.Println("then run: beacon gateway")
}

func ask(in *bufio.Scanner, prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", prompt, def)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	if !in.Scan() {
		return def
	}
	if v := strings.TrimSpace(in.Text()); v != "" {
		return v
	}
	return def
}

func askBool(in *bufio.Scanner, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	if !in.Scan() {
		return false
	}
	v := strings.ToLower(strings.TrimSpace(in.Text()))
	return v == "y" || v == "yes"
}
