// Package anthropic implements the Messages API streaming codec (Claude).
package anthropic

import (
	"encoding/json"
	"net/http"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

const (
	DefaultEndpoint    = "https://api.anthropic.com"
	DefaultModel       = "claude-3-haiku-20240307"
	DefaultVersion     = "2023-06-01"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7

	// SystemPrompt is sent with every request.
	SystemPrompt = "You are a helpful assistant integrated into a rich text editor. Provide clear, concise responses suitable for text editing contexts."
)

// Codec speaks the Messages API event stream.
type Codec struct{}

var _ adapter.Codec = Codec{}

// New returns the codec.
func New() Codec { return Codec{} }

func (Codec) DefaultEndpoint() string { return DefaultEndpoint }

func (Codec) Path(adapter.Config) (string, error) { return "/v1/messages", nil }

func (Codec) Headers(cfg adapter.Config, h http.Header) {
	h.Set("Accept", "text/event-stream")
	version := cfg.APIVersion
	if version == "" {
		version = DefaultVersion
	}
	h.Set("anthropic-version", version)
	if cfg.APIKey != "" {
		h.Set("x-api-key", cfg.APIKey)
	}
}

type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (Codec) Body(cfg adapter.Config, prompt string) ([]byte, error) {
	return json.Marshal(messagesRequest{
		Model:       cfg.ModelOr(DefaultModel),
		MaxTokens:   cfg.MaxTokensOr(DefaultMaxTokens),
		Temperature: cfg.TemperatureOr(adapter.Float(DefaultTemperature)),
		System:      SystemPrompt,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContentBlock{{Type: "text", Text: prompt}},
		}},
		Stream: true,
	})
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Usage   *anthropicUsage `json:"usage,omitempty"`
	Message *struct {
		Usage *anthropicUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (Codec) Decode(frame []byte, out adapter.Emitter) (bool, error) {
	var evt anthropicStreamEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return false, err
	}

	// Input tokens are counted from message_start and output tokens from
	// the cumulative message_delta count.
	switch {
	case evt.Usage != nil && evt.Usage.TotalTokens > 0:
		out.ReportUsage(evt.Usage.TotalTokens)
	case evt.Type == "message_start" && evt.Message != nil && evt.Message.Usage != nil:
		if n := evt.Message.Usage.InputTokens; n > 0 {
			out.ReportUsage(n)
		}
	case evt.Type == "message_delta" && evt.Usage != nil:
		if n := evt.Usage.OutputTokens; n > 0 {
			out.ReportUsage(n)
		}
	}

	switch evt.Type {
	case "content_block_delta":
		if evt.Delta.Text != "" {
			out.Emit(adapter.Continuing(evt.Delta.Text, 0))
		}
	case "message_stop":
		out.Emit(adapter.Finished(0))
		return true, nil
	case "error":
		if evt.Error != nil {
			return false, &adapter.VendorError{Type: evt.Error.Type, Message: evt.Error.Message}
		}
	}
	return false, nil
}
