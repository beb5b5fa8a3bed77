package config

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/model/anthropic"
	"github.com/hupe1980/turnstream/model/compat"
	"github.com/hupe1980/turnstream/model/gemini"
	"github.com/hupe1980/turnstream/model/openai"
	"github.com/hupe1980/turnstream/service"
)

// NewModel builds the provider adapter for one registry entry.
//
//	openai     streaming Chat Completions (openai-go)
//	anthropic  streaming Messages API
//	gemini     streaming genai
//	compat     OpenAI-compatible servers, non-streaming (go-openai)
//	ollama     compat with the local Ollama endpoint as default base url
//	mock       canned responses, no credentials
func NewModel(ctx context.Context, r ModelRegistry) (model.Model, error) {
	switch r.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = r.Model
			o.APIKey = r.APIKey
			o.BaseURL = r.BaseURL
			if r.Temperature != 0 {
				o.Temperature = r.Temperature
			}
			if r.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(r.MaxTokens)
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(r.Model)
			o.APIKey = r.APIKey
			o.BaseURL = r.BaseURL
			if r.Temperature != 0 {
				o.Temperature = r.Temperature
			}
			if r.MaxTokens > 0 {
				o.MaxTokens = int64(r.MaxTokens)
			}
		}), nil
	case "gemini":
		m, err := gemini.NewModel(ctx, func(o *gemini.Options) {
			o.Model = r.Model
			o.APIKey = r.APIKey
			if r.Temperature != 0 {
				o.Temperature = r.Temperature
			}
			if r.MaxTokens > 0 {
				o.MaxOutputTokens = int32(r.MaxTokens)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", r.Name, err)
		}
		return m, nil
	case "compat", "ollama":
		baseURL := r.BaseURL
		if baseURL == "" && r.Provider == "ollama" {
			baseURL = DefaultOllamaBaseURL
		}
		return compat.NewModel(func(o *compat.Options) {
			o.Model = r.Model
			o.BaseURL = baseURL
			o.APIKey = r.APIKey
			if r.Provider == "ollama" && o.APIKey == "" {
				o.APIKey = "ollama"
			}
			if r.Temperature != 0 {
				o.Temperature = float32(r.Temperature)
			}
			o.MaxTokens = r.MaxTokens
		}), nil
	case "mock":
		return model.NewMockModel(r.Name), nil
	default:
		return nil, fmt.Errorf("model %s: unknown provider %q", r.Name, r.Provider)
	}
}

// BuildModels creates every model of the registry, keyed by registry name.
func (c *Config) BuildModels(ctx context.Context) (map[string]model.Model, error) {
	models := make(map[string]model.Model, len(c.Models.Registry))
	for _, r := range c.Models.Registry {
		m, err := NewModel(ctx, r)
		if err != nil {
			return nil, err
		}
		models[r.Name] = m
	}
	return models, nil
}

// ServiceOptions translates the engine section into service options.
func (c *Config) ServiceOptions(models map[string]model.Model, logger logging.Logger) (func(o *service.Options), error) {
	chunkTimeout, err := DurationOrDefault(c.Engine.ChunkTimeout, DefaultEngineChunkTimeout)
	if err != nil {
		return nil, fmt.Errorf("engine.chunk_timeout: %w", err)
	}
	toolTimeout, err := DurationOrDefault(c.Engine.ToolTimeout, DefaultEngineToolTimeout)
	if err != nil {
		return nil, fmt.Errorf("engine.tool_timeout: %w", err)
	}
	return func(o *service.Options) {
		o.Models = models
		o.DefaultModel = c.Engine.DefaultModel
		o.SystemPrompt = c.Engine.SystemPrompt
		o.ChunkTimeout = chunkTimeout
		o.ToolTimeout = toolTimeout
		o.MaxToolRounds = c.Engine.MaxToolRounds
		o.BusyPolicy = service.BusyPolicy(c.Engine.BusyPolicy)
		if logger != nil {
			o.Logger = logger
		}
	}, nil
}
