package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/drok-bot/drok/internal/config"
	"github.com/drok-bot/drok/internal/timeline"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ drok Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 drok Status")
		fmt.Printf("Version: %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (" + path + ", using defaults and environment)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config:  ? Unable to load (" + err.Error() + ")")
			return
		}
		if cfg.Model.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found")
		}
		fmt.Printf("Model:   %s (image %s, search %s)\n", cfg.Model.Name, cfg.Model.ImageModel, cfg.Model.SearchModel)

		if cfg.Channels.Slack.Enabled {
			fmt.Println("Slack:    ✓ Enabled")
		} else {
			fmt.Println("Slack:    ✗ Disabled")
		}
		if cfg.Channels.WhatsApp.Enabled {
			fmt.Println("WhatsApp: ✓ Enabled")
		} else {
			fmt.Println("WhatsApp: ✗ Disabled")
		}
		if _, err := os.Stat(cfg.Channels.WhatsApp.SessionPath); err == nil {
			fmt.Println("WhatsApp Link: ✓ Session found (no QR needed)")
		} else {
			fmt.Println("WhatsApp Link: ✗ No session (QR needed)")
			fmt.Println("WhatsApp QR:   " + cfg.Channels.WhatsApp.QRPath)
		}

		if len(cfg.Traces.Brokers) > 0 {
			fmt.Printf("Traces:  ✓ %s via %v\n", cfg.Traces.Topic, cfg.Traces.Brokers)
		} else {
			fmt.Println("Traces:  ✗ No brokers")
		}

		if _, err := os.Stat(cfg.Timeline.Path); err != nil {
			fmt.Println("Journal: ✗ Empty (" + cfg.Timeline.Path + ")")
			return
		}
		svc, err := timeline.NewService(cfg.Timeline.Path)
		if err != nil {
			fmt.Println("Journal: ? " + err.Error())
			return
		}
		defer svc.Close()
		fmt.Println("Journal: " + journalSummary(context.Background(), svc))
		if at, err := svc.GetSetting(startedAtSetting); err == nil && at != "" {
			fmt.Println("Gateway: last started " + at)
		}
	},
}
