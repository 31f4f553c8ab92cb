package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/drok-bot/drok/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"      _           _\n" +
		"   __| |_ __ ___ | | __\n" +
		"  / _` | '__/ _ \\| |/ /\n" +
		" | (_| | | | (_) |   <\n" +
		"  \\__,_|_|  \\___/|_|\\_\\\n"
)

var rootCmd = &cobra.Command{
	Use:   "drok",
	Short: "drok - group chat assistant",
	Long:  color.CyanString(logo) + "\nA chat bot for Slack and WhatsApp groups that answers, searches and draws.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}
