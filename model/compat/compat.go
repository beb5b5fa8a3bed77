// Package compat adapts OpenAI-compatible chat endpoints (Ollama, vLLM,
// LiteLLM and similar gateways) to model.Model. Requests are always sent
// without streaming, so each round yields a single final response.
package compat

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

// Options configure the compat adapter.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
}

// Model wraps a go-openai client.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a compat model. Without an explicit APIKey the key is read
// from OPENAI_API_KEY.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	return &Model{client: openai.NewClientWithConfig(cfg), opts: opts}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "compat", SupportsTools: true}
}

// Generate implements model.Model. req.Stream is ignored.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		chatReq := openai.ChatCompletionRequest{
			Model:       m.opts.Model,
			Messages:    buildMessages(req),
			Tools:       buildTools(req.Tools),
			Temperature: m.opts.Temperature,
			MaxTokens:   m.opts.MaxTokens,
		}
		if req.Model != "" {
			chatReq.Model = req.Model
		}
		if req.Temperature != nil {
			chatReq.Temperature = float32(*req.Temperature)
		}

		resp, err := m.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			errCh <- fmt.Errorf("compat request failed: %w", err)
			return
		}
		if len(resp.Choices) == 0 {
			errCh <- fmt.Errorf("no choices returned")
			return
		}

		choice := resp.Choices[0]
		parts := make([]core.Part, 0, len(choice.Message.ToolCalls)+1)
		if choice.Message.Content != "" {
			parts = append(parts, core.TextPart{Text: choice.Message.Content})
		}
		for i, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i+1)
			}
			parts = append(parts, core.FunctionCallPart{
				ID:   id,
				Name: tc.Function.Name,
				Args: model.ParseArgs(tc.Function.Arguments),
			})
		}

		select {
		case <-ctx.Done():
		case out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: core.RoleModel, Parts: parts},
			FinishReason: string(choice.FinishReason),
			Usage: &model.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}:
		}
	}()

	return out, errCh
}

func buildMessages(req model.Request) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for i := range req.Contents {
		c := &req.Contents[i]
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.Text()})
		case core.RoleModel:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: c.Text()}
			for _, fc := range c.FunctionCalls() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   fc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      fc.Name,
						Arguments: model.EncodeArgs(fc.Args),
					},
				})
			}
			messages = append(messages, msg)
		case core.RoleTool:
			for _, fr := range c.FunctionResponses() {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    model.ResponseText(fr.Response),
					ToolCallID: fr.ID,
				})
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}
		}
	}
	return messages
}

func buildTools(defs []model.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
