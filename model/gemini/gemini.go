// Package gemini implements model.Model on top of the Google Gen AI SDK
// (GenerateContentStream for streaming rounds, GenerateContent otherwise).
package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = "gemini-2.5-flash"

// Options configure the Gemini adapter.
type Options struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int32
	APIKey          string
}

// Model wraps a genai client behind model.Model.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini model. Without an explicit APIKey the key is read
// from GEMINI_API_KEY.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:           DefaultModel,
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
		Streaming:     true,
	}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		name := m.opts.Model
		if req.Model != "" {
			name = req.Model
		}
		system, contents := buildContents(req)
		if len(contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		config := m.buildConfig(req, system)

		if !req.Stream {
			resp, err := m.client.Models.GenerateContent(ctx, name, contents, config)
			if err != nil {
				errCh <- fmt.Errorf("gemini api error: %w", err)
				return
			}
			parts, finish := candidateParts(resp)
			send(ctx, out, model.Response{
				ID:           resp.ResponseID,
				Content:      core.Content{Role: core.RoleModel, Parts: parts},
				FinishReason: finish,
				Usage:        usage(resp),
			})
			return
		}

		var text strings.Builder
		var rest []core.Part
		var last *genai.GenerateContentResponse
		finish := "stop"
		for resp, err := range m.client.Models.GenerateContentStream(ctx, name, contents, config) {
			if err != nil {
				errCh <- fmt.Errorf("gemini streaming error: %w", err)
				return
			}
			last = resp
			parts, reason := candidateParts(resp)
			if reason != "" {
				finish = reason
			}
			if len(parts) == 0 {
				continue
			}
			for _, p := range parts {
				if tp, ok := p.(core.TextPart); ok {
					text.WriteString(tp.Text)
					continue
				}
				rest = append(rest, p)
			}
			if !send(ctx, out, model.Response{
				Partial: true,
				Content: core.Content{Role: core.RoleModel, Parts: parts},
			}) {
				errCh <- ctx.Err()
				return
			}
		}

		final := make([]core.Part, 0, len(rest)+1)
		if text.Len() > 0 {
			final = append(final, core.TextPart{Text: text.String()})
		}
		final = append(final, rest...)
		send(ctx, out, model.Response{
			Content:      core.Content{Role: core.RoleModel, Parts: final},
			FinishReason: finish,
			Usage:        usage(last),
		})
	}()

	return out, errCh
}

func (m *Model) buildConfig(req model.Request, system string) *genai.GenerateContentConfig {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = buildTools(req.Tools)
	}
	return config
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

func usage(resp *genai.GenerateContentResponse) *model.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// candidateParts converts the first candidate into core parts. Thought parts
// are internal to the model and skipped.
func candidateParts(resp *genai.GenerateContentResponse) ([]core.Part, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ""
	}
	cand := resp.Candidates[0]
	finish := strings.ToLower(string(cand.FinishReason))
	if cand.Content == nil {
		return nil, finish
	}

	var parts []core.Part
	for _, p := range cand.Content.Parts {
		switch {
		case p.Thought:
			continue
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			parts = append(parts, core.FunctionCallPart{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: args})
		case p.ExecutableCode != nil:
			parts = append(parts, core.ExecutableCodePart{Code: p.ExecutableCode.Code, Language: string(p.ExecutableCode.Language)})
		case p.CodeExecutionResult != nil:
			parts = append(parts, core.CodeExecutionResultPart{
				Outcome: string(p.CodeExecutionResult.Outcome),
				Output:  p.CodeExecutionResult.Output,
			})
		case p.InlineData != nil:
			parts = append(parts, core.InlineDataPart{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
		case p.Text != "":
			parts = append(parts, core.TextPart{Text: p.Text})
		}
	}
	return parts, finish
}

// buildContents converts the request into genai contents. System contents are
// folded into the system instruction; tool results travel as user content.
func buildContents(req model.Request) (string, []*genai.Content) {
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	contents := make([]*genai.Content, 0, len(req.Contents))
	for i := range req.Contents {
		c := &req.Contents[i]
		if c.Role == core.RoleSystem {
			if t := c.Text(); t != "" {
				system = append(system, t)
			}
			continue
		}
		role := genai.RoleUser
		if c.Role == core.RoleModel {
			role = genai.RoleModel
		}
		gc := &genai.Content{Role: role}
		for _, p := range c.Parts {
			if gp := toGenaiPart(p); gp != nil {
				gc.Parts = append(gc.Parts, gp)
			}
		}
		if len(gc.Parts) > 0 {
			contents = append(contents, gc)
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func toGenaiPart(p core.Part) *genai.Part {
	switch v := p.(type) {
	case core.TextPart:
		if v.Text == "" {
			return nil
		}
		return &genai.Part{Text: v.Text}
	case core.FunctionCallPart:
		return &genai.Part{FunctionCall: &genai.FunctionCall{ID: v.ID, Name: v.Name, Args: v.Args}}
	case core.FunctionResponsePart:
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: v.ID, Name: v.Name, Response: v.Response}}
	case core.ExecutableCodePart:
		return &genai.Part{ExecutableCode: &genai.ExecutableCode{Code: v.Code, Language: genai.Language(v.Language)}}
	case core.CodeExecutionResultPart:
		return &genai.Part{CodeExecutionResult: &genai.CodeExecutionResult{Outcome: genai.Outcome(v.Outcome), Output: v.Output}}
	case core.InlineDataPart:
		return &genai.Part{InlineData: &genai.Blob{MIMEType: v.MIMEType, Data: v.Data}}
	case core.FileDataPart:
		if v.URI != "" {
			return &genai.Part{FileData: &genai.FileData{FileURI: v.URI, MIMEType: v.MIMEType, DisplayName: v.Name}}
		}
		if len(v.Data) > 0 {
			return &genai.Part{InlineData: &genai.Blob{MIMEType: v.MIMEType, Data: v.Data}}
		}
	}
	return nil
}

func buildTools(defs []model.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decl := &genai.FunctionDeclaration{Name: d.Function.Name, Description: d.Function.Description}
		if d.Function.Parameters != nil {
			decl.Parameters = toSchema(d.Function.Parameters)
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
