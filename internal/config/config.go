// Package config provides configuration types and loading for drok.
package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Model    ModelConfig    `json:"model"`
	Agent    AgentConfig    `json:"agent"`
	History  HistoryConfig  `json:"history"`
	Timeouts TimeoutsConfig `json:"timeouts"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Timeline TimelineConfig `json:"timeline"`
	Traces   TracesConfig   `json:"traces"`
	Log      LogConfig      `json:"log"`
}

// ---------------------------------------------------------------------------
// Bot / model / agent
// ---------------------------------------------------------------------------

// BotConfig controls how the bot presents itself.
type BotConfig struct {
	Name              string `json:"name" split_words:"true"`
	SystemInstruction string `json:"systemInstruction" split_words:"true"`
}

// ModelConfig groups provider and model settings.
type ModelConfig struct {
	APIKey      string  `json:"apiKey" split_words:"true"`
	BaseURL     string  `json:"baseUrl,omitempty" split_words:"true"`
	Name        string  `json:"name" split_words:"true"`
	ImageModel  string  `json:"imageModel" split_words:"true"`
	SearchModel string  `json:"searchModel" split_words:"true"`
	MaxTokens   int     `json:"maxTokens" split_words:"true"`
	Temperature float64 `json:"temperature" split_words:"true"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxIterations  int  `json:"maxIterations" split_words:"true"`
	RequireMention bool `json:"requireMention" split_words:"true"`
}

// HistoryConfig sizes the per-channel conversation window.
type HistoryConfig struct {
	Capacity int `json:"capacity" split_words:"true"`
}

// TimeoutsConfig holds per-operation deadlines in seconds.
type TimeoutsConfig struct {
	ProviderSeconds   int `json:"providerSeconds" split_words:"true"`
	AttachmentSeconds int `json:"attachmentSeconds" split_words:"true"`
	ReferenceSeconds  int `json:"referenceSeconds" split_words:"true"`
}

// Provider returns the provider call timeout.
func (t TimeoutsConfig) Provider() time.Duration { return seconds(t.ProviderSeconds) }

// Attachment returns the attachment download timeout.
func (t TimeoutsConfig) Attachment() time.Duration { return seconds(t.AttachmentSeconds) }

// Reference returns the referenced-message fetch timeout.
func (t TimeoutsConfig) Reference() time.Duration { return seconds(t.ReferenceSeconds) }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// SlackConfig configures the Slack socket-mode channel.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" split_words:"true"`
	BotToken string `json:"botToken" split_words:"true"`
	AppToken string `json:"appToken" split_words:"true"`
	// APIURL overrides the Web API base URL.
	APIURL string `json:"apiUrl,omitempty" split_words:"true"`
}

// WhatsAppConfig configures the native WhatsApp channel.
type WhatsAppConfig struct {
	Enabled bool `json:"enabled" split_words:"true"`
	// SessionPath is the sqlite file holding the paired device.
	SessionPath string `json:"sessionPath" split_words:"true"`
	// QRPath is where the pairing QR code PNG is written.
	QRPath string `json:"qrPath" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Gateway / storage / observability
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP listener serving metrics and health.
type GatewayConfig struct {
	Host string `json:"host" split_words:"true"`
	Port int    `json:"port" split_words:"true"`
}

// TimelineConfig locates the run journal.
type TimelineConfig struct {
	Path string `json:"path" split_words:"true"`
}

// TracesConfig configures the Kafka trace sink. No brokers disables it.
type TracesConfig struct {
	Brokers []string `json:"brokers" split_words:"true"`
	Topic   string   `json:"topic" split_words:"true"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" split_words:"true"`
	Format string `json:"format" split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, err := resolveHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ConfigDir)
	return &Config{
		Bot: BotConfig{
			Name: "Drok",
		},
		Model: ModelConfig{
			Name:        "gemini-2.5-flash",
			ImageModel:  "gemini-2.0-flash-preview-image-generation",
			SearchModel: "gemini-2.5-flash",
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxIterations:  8,
			RequireMention: true,
		},
		History: HistoryConfig{
			Capacity: 10,
		},
		Timeouts: TimeoutsConfig{
			ProviderSeconds:   60,
			AttachmentSeconds: 15,
			ReferenceSeconds:  10,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				SessionPath: filepath.Join(base, "whatsapp.db"),
				QRPath:      filepath.Join(base, "whatsapp-qr.png"),
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18800,
		},
		Timeline: TimelineConfig{
			Path: filepath.Join(base, "timeline.db"),
		},
		Traces: TracesConfig{
			Topic: "drok.traces",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
