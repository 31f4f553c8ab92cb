package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/drok-bot/drok/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return writeMasked(cmd.OutOrStdout(), cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote "+path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

func writeMasked(w io.Writer, cfg *config.Config) error {
	c := *cfg
	c.Model.APIKey = maskSecret(c.Model.APIKey)
	c.Channels.Slack.BotToken = maskSecret(c.Channels.Slack.BotToken)
	c.Channels.Slack.AppToken = maskSecret(c.Channels.Slack.AppToken)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
