// Package config loads turnstream settings from defaults, a YAML file,
// TURNSTREAM_* environment variables and command line flags, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hupe1980/turnstream/service"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Engine EngineConfig `koanf:"engine"`
	Models ModelsConfig `koanf:"models"`
}

type ServerConfig struct {
	Addr            string `koanf:"addr"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	CORS            bool   `koanf:"cors"`
	ReadTimeout     string `koanf:"read_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type EngineConfig struct {
	ChunkTimeout  string `koanf:"chunk_timeout"`
	ToolTimeout   string `koanf:"tool_timeout"`
	MaxToolRounds int    `koanf:"max_tool_rounds"`
	BusyPolicy    string `koanf:"busy_policy"`
	DefaultModel  string `koanf:"default_model"`
	SystemPrompt  string `koanf:"system_prompt"`
}

type ModelsConfig struct {
	Registry []ModelRegistry `koanf:"registry"`
}

// ModelRegistry declares one model the service can route turns to. Name is
// the id turns refer to; Model is the provider's own model identifier.
type ModelRegistry struct {
	Name        string  `koanf:"name"`
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

const (
	DefaultServerAddr            = ":8080"
	DefaultServerLogLevel        = "info"
	DefaultServerLogFormat       = "text"
	DefaultServerCORS            = true
	DefaultServerReadTimeout     = "30s"
	DefaultServerShutdownTimeout = "10s"
	DefaultEngineChunkTimeout    = "60s"
	DefaultEngineToolTimeout     = "30s"
	DefaultEngineMaxToolRounds   = service.DefaultMaxToolRounds
	DefaultEngineBusyPolicy      = string(service.BusyReject)
	DefaultEngineDefaultModel    = "mock"
	DefaultEngineSystemPrompt    = "You are a helpful assistant."
	DefaultOllamaBaseURL         = "http://localhost:11434/v1"
)

// providerKeyEnv maps providers to the environment variable holding their
// standard API key.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// FlagKeys maps command line flag names to config keys.
var FlagKeys = map[string]string{
	"addr":          "server.addr",
	"log-level":     "server.log_level",
	"log-format":    "server.log_format",
	"model":         "engine.default_model",
	"system-prompt": "engine.system_prompt",
	"busy-policy":   "engine.busy_policy",
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.addr":             DefaultServerAddr,
		"server.log_level":        DefaultServerLogLevel,
		"server.log_format":       DefaultServerLogFormat,
		"server.cors":             DefaultServerCORS,
		"server.read_timeout":     DefaultServerReadTimeout,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,
		"engine.chunk_timeout":    DefaultEngineChunkTimeout,
		"engine.tool_timeout":     DefaultEngineToolTimeout,
		"engine.max_tool_rounds":  DefaultEngineMaxToolRounds,
		"engine.busy_policy":      DefaultEngineBusyPolicy,
		"engine.default_model":    DefaultEngineDefaultModel,
		"engine.system_prompt":    DefaultEngineSystemPrompt,
		"models.registry": []ModelRegistry{
			{Name: "mock", Provider: "mock"},
		},
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".turnstream", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// TURNSTREAM_ENGINE__CHUNK_TIMEOUT -> engine.chunk_timeout
	if err := k.Load(env.Provider("TURNSTREAM_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "TURNSTREAM_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if cmd != nil {
		flags := cmd.Flags()
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
		if m.Model == "" {
			cfg.Models.Registry[i].Model = m.Name
		}
		if envKey, ok := providerKeyEnv[cfg.Models.Registry[i].Provider]; ok && m.APIKey == "" {
			cfg.Models.Registry[i].APIKey = os.Getenv(envKey)
		}
	}

	if cfg.Engine.DefaultModel == DefaultEngineDefaultModel && !cfg.hasModel(DefaultEngineDefaultModel) && len(cfg.Models.Registry) > 0 {
		cfg.Engine.DefaultModel = cfg.Models.Registry[0].Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	switch service.BusyPolicy(c.Engine.BusyPolicy) {
	case service.BusyReject, service.BusyWait:
	default:
		return fmt.Errorf("engine.busy_policy: unknown policy %q", c.Engine.BusyPolicy)
	}
	seen := make(map[string]bool, len(c.Models.Registry))
	for _, m := range c.Models.Registry {
		if m.Name == "" {
			return fmt.Errorf("models.registry: entry without name")
		}
		if seen[m.Name] {
			return fmt.Errorf("models.registry: duplicate name %q", m.Name)
		}
		seen[m.Name] = true
	}
	if c.Engine.DefaultModel != "" && len(c.Models.Registry) > 0 && !seen[c.Engine.DefaultModel] {
		return fmt.Errorf("engine.default_model: %q is not in models.registry", c.Engine.DefaultModel)
	}
	return nil
}

func (c *Config) hasModel(name string) bool {
	for _, m := range c.Models.Registry {
		if m.Name == name {
			return true
		}
	}
	return false
}
