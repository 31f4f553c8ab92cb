package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".drok"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DROK"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("DROK_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("DROK_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFiles()

	path, err := ConfigPath()
	if err != nil {
		slog.Warn("No config file location, using defaults and environment", "error", err)
	} else if data, err := loadResolvedConfig(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Model.APIKey) == "" {
		for _, key := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				cfg.Model.APIKey = v
				break
			}
		}
	}
	normalize(cfg)
	return cfg, nil
}

// applyEnv overlays DROK_<GROUP>_<FIELD> variables for each group.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"BOT", &cfg.Bot},
		{"MODEL", &cfg.Model},
		{"AGENT", &cfg.Agent},
		{"HISTORY", &cfg.History},
		{"TIMEOUTS", &cfg.Timeouts},
		{"CHANNELS_SLACK", &cfg.Channels.Slack},
		{"CHANNELS_WHATSAPP", &cfg.Channels.WhatsApp},
		{"GATEWAY", &cfg.Gateway},
		{"TIMELINE", &cfg.Timeline},
		{"TRACES", &cfg.Traces},
		{"LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.spec); err != nil {
			return fmt.Errorf("env overrides for %s: %w", strings.ToLower(g.prefix), err)
		}
	}
	return nil
}

func normalize(cfg *Config) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Bot.Name) == "" {
		cfg.Bot.Name = defaults.Bot.Name
	}
	if cfg.History.Capacity <= 0 {
		cfg.History.Capacity = defaults.History.Capacity
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = defaults.Agent.MaxIterations
	}
	if cfg.Traces.Topic == "" {
		cfg.Traces.Topic = defaults.Traces.Topic
	}
	brokers := cfg.Traces.Brokers[:0]
	for _, b := range cfg.Traces.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Traces.Brokers = brokers
	if p, err := expandHome(cfg.Timeline.Path); err == nil {
		cfg.Timeline.Path = p
	}
	if p, err := expandHome(cfg.Channels.WhatsApp.SessionPath); err == nil {
		cfg.Channels.WhatsApp.SessionPath = p
	}
	if p, err := expandHome(cfg.Channels.WhatsApp.QRPath); err == nil {
		cfg.Channels.WhatsApp.QRPath = p
	}
}

// Validate reports settings the gateway cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return fmt.Errorf("no model API key: set model.apiKey, DROK_MODEL_API_KEY or GEMINI_API_KEY")
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		return fmt.Errorf("slack channel enabled without botToken and appToken")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	return nil
}

// Save saves the configuration to file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// loadConfigObject reads path, resolving "$include" files relative to it
// and substituting ${VAR} references from the environment.
func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, ok := val.(map[string]any)
		if !ok {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
