package service

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/tool"
)

// TurnInput describes one submitted turn.
type TurnInput struct {
	// SessionID selects the session; empty creates a fresh one.
	SessionID string
	// Input is the user's text.
	Input string
	// ModelID selects a registered model; empty uses the default.
	ModelID string
	// SystemPrompt overrides the service default. It may reference session
	// state with Go template syntax ({{.key}}).
	SystemPrompt string
	// Tools offered to the model for this turn.
	Tools []tool.Tool
	// Temperature overrides the provider default when set.
	Temperature *float64
	// FileDataURI is an optional data:<mime>[;base64],<payload> attachment.
	FileDataURI string
	// Listeners observe tool invocations of this turn.
	Listeners []tool.Listener
}

// userContent builds the user Content: a text part followed by the inline
// data of FileDataURI, if any.
func (in TurnInput) userContent() (*core.Content, error) {
	content := &core.Content{Role: core.RoleUser}
	if in.Input != "" {
		content.Parts = append(content.Parts, core.TextPart{Text: in.Input})
	}
	if in.FileDataURI != "" {
		part, err := ParseDataURI(in.FileDataURI)
		if err != nil {
			return nil, err
		}
		content.Parts = append(content.Parts, part)
	}
	if len(content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty input", core.ErrInvalidInput)
	}
	return content, nil
}

// ParseDataURI splits a data URI into its MIME type and decoded payload.
// A missing MIME type defaults to text/plain as in RFC 2397.
func ParseDataURI(uri string) (core.InlineDataPart, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return core.InlineDataPart{}, fmt.Errorf("%w: file data uri must start with data:", core.ErrInvalidInput)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return core.InlineDataPart{}, fmt.Errorf("%w: file data uri has no payload separator", core.ErrInvalidInput)
	}

	params := strings.Split(meta, ";")
	mimeType := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// tolerate unpadded payloads
			if decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err != nil {
				return core.InlineDataPart{}, fmt.Errorf("%w: decode file data: %v", core.ErrInvalidInput, err)
			}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return core.InlineDataPart{}, fmt.Errorf("%w: unescape file data: %v", core.ErrInvalidInput, err)
		}
		data = []byte(unescaped)
	}
	return core.InlineDataPart{Data: data, MIMEType: mimeType}, nil
}
