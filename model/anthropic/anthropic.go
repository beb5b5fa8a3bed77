// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = anthropic.Model("claude-sonnet-4-5")

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

func defaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts Anthropic Messages API (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)
		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, params, out, errCh)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	name := m.opts.Model
	if req.Model != "" {
		name = anthropic.Model(req.Model)
	}
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	system, messages := buildMessages(req)
	params := anthropic.MessageNewParams{
		Model:       name,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// toolCall accumulates one streamed tool_use block.
type toolCall struct {
	id, name string
	input    string
	deltas   strings.Builder
}

func (c *toolCall) part() core.FunctionCallPart {
	raw := c.deltas.String()
	if raw == "" {
		raw = c.input
	}
	return core.FunctionCallPart{ID: c.id, Name: c.name, Args: model.ParseArgs(raw)}
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	var calls []core.Part
	pending := map[int64]*toolCall{}
	finishReason := "stop"
	var usage *model.TokenUsage

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				pending[variant.Index] = &toolCall{id: block.ID, name: block.Name, input: rawInput(block.Input)}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if !send(ctx, out, model.Response{
					Partial: true,
					Content: core.Content{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: delta.Text}}},
				}) {
					errCh <- ctx.Err()
					return
				}
			case anthropic.InputJSONDelta:
				if tc, ok := pending[variant.Index]; ok {
					tc.deltas.WriteString(delta.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			tc, ok := pending[variant.Index]
			if !ok {
				continue
			}
			delete(pending, variant.Index)
			part := tc.part()
			calls = append(calls, part)
			if !send(ctx, out, model.Response{
				Partial: true,
				Content: core.Content{Role: core.RoleModel, Parts: []core.Part{part}},
			}) {
				errCh <- ctx.Err()
				return
			}
		case anthropic.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				finishReason = string(variant.Delta.StopReason)
			}
			if variant.Usage.OutputTokens > 0 {
				usage = &model.TokenUsage{
					PromptTokens:     int(variant.Usage.InputTokens),
					CompletionTokens: int(variant.Usage.OutputTokens),
					TotalTokens:      int(variant.Usage.InputTokens + variant.Usage.OutputTokens),
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	parts := make([]core.Part, 0, len(calls)+1)
	if text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: text.String()})
	}
	parts = append(parts, calls...)
	send(ctx, out, model.Response{
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: finishReason,
		Usage:        usage,
	})
}

func (m *Model) handleNonStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("anthropic api error: %w", err)
		return
	}

	var parts []core.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if textBlock := block.AsText(); textBlock.Text != "" {
				parts = append(parts, core.TextPart{Text: textBlock.Text})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			parts = append(parts, core.FunctionCallPart{
				ID:   toolBlock.ID,
				Name: toolBlock.Name,
				Args: model.ParseArgs(rawInput(toolBlock.Input)),
			})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	send(ctx, out, model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: finishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	})
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

func rawInput(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case json.RawMessage:
		return string(v)
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// buildMessages converts contents to Anthropic messages. System contents are
// folded into the system prompt; tool results travel in user messages.
func buildMessages(req model.Request) (string, []anthropic.MessageParam) {
	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	var messages []anthropic.MessageParam
	for i := range req.Contents {
		c := &req.Contents[i]
		switch c.Role {
		case core.RoleSystem:
			if t := c.Text(); t != "" {
				systemParts = append(systemParts, t)
			}
		case core.RoleModel:
			if blocks := assistantBlocks(c); len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, fr := range c.FunctionResponses() {
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, model.ResponseText(fr.Response), fr.IsError()))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if blocks := userBlocks(c); len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), messages
}

func userBlocks(c *core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.InlineDataPart:
			if !strings.HasPrefix(part.MIMEType, "image/") {
				blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[attachment %s, %d bytes]", part.MIMEType, len(part.Data))))
				continue
			}
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							Data:      base64.StdEncoding.EncodeToString(part.Data),
							MediaType: anthropic.Base64ImageSourceMediaType(part.MIMEType),
						},
					},
				},
			})
		case core.FileDataPart:
			blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[file %s %s]", part.Name, part.URI)))
		}
	}
	return blocks
}

func assistantBlocks(c *core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			args := part.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.ID, args, part.Name))
		}
	}
	return blocks
}

// buildTools converts tool definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, def := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if params := def.Function.Parameters; params != nil {
			inputSchema.Properties = params["properties"]
			inputSchema.Required = requiredFields(params["required"])
		}

		tool := anthropic.ToolUnionParamOfTool(inputSchema, def.Function.Name)
		if def.Function.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Function.Description)
		}
		anthropicTools = append(anthropicTools, tool)
	}

	return anthropicTools
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
		Streaming:     true,
	}
}
