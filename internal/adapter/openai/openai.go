// Package openai implements the codec shared by every OpenAI compatible
// chat completions vendor.
package openai

import (
	"encoding/json"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

const completionsPath = "/v1/chat/completions"

// Variant holds the per vendor defaults of an OpenAI compatible API.
type Variant struct {
	Name               string
	DefaultEndpoint    string
	DefaultModel       string
	DefaultTemperature *float64
	DefaultMaxTokens   int
	// IncludeUsage asks the vendor for a trailing usage frame.
	IncludeUsage bool
}

var (
	OpenAI = Variant{
		Name:               "openai",
		DefaultEndpoint:    "https://api.openai.com",
		DefaultModel:       "gpt-3.5-turbo",
		DefaultTemperature: adapter.Float(0.7),
		IncludeUsage:       true,
	}
	OpenRouter = Variant{
		Name:            "openrouter",
		DefaultEndpoint: "https://openrouter.ai/api",
	}
	DeepSeek = Variant{
		Name:               "deepseek",
		DefaultEndpoint:    "https://api.deepseek.com",
		DefaultModel:       "deepseek-chat",
		DefaultTemperature: adapter.Float(0.7),
		DefaultMaxTokens:   4096,
		IncludeUsage:       true,
	}
	Grok = Variant{
		Name:               "grok",
		DefaultEndpoint:    "https://api.x.ai",
		DefaultTemperature: adapter.Float(0.7),
		DefaultMaxTokens:   4096,
	}
	Gitee = Variant{
		Name:               "gitee",
		DefaultEndpoint:    "https://ai.gitee.com",
		DefaultTemperature: adapter.Float(0.7),
		DefaultMaxTokens:   2048,
	}
	// Custom has no default endpoint; one must be configured.
	Custom = Variant{Name: "custom"}
)

var variants = map[string]Variant{
	OpenAI.Name:     OpenAI,
	OpenRouter.Name: OpenRouter,
	DeepSeek.Name:   DeepSeek,
	Grok.Name:       Grok,
	Gitee.Name:      Gitee,
	Custom.Name:     Custom,
}

// Lookup returns the variant registered under name.
func Lookup(name string) (Variant, bool) {
	v, ok := variants[name]
	return v, ok
}

// Codec speaks the chat completions streaming protocol.
type Codec struct {
	variant Variant
}

var _ adapter.Codec = (*Codec)(nil)

// New returns a codec for v.
func New(v Variant) *Codec {
	return &Codec{variant: v}
}

// Variant returns the vendor defaults the codec was built with.
func (c *Codec) Variant() Variant { return c.variant }

func (c *Codec) DefaultEndpoint() string { return c.variant.DefaultEndpoint }

func (c *Codec) Path(adapter.Config) (string, error) { return completionsPath, nil }

func (c *Codec) Headers(cfg adapter.Config, h http.Header) {
	h.Set("Accept", "text/event-stream")
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}

type chatRequest struct {
	Model         string                           `json:"model,omitempty"`
	Messages      []goopenai.ChatCompletionMessage `json:"messages"`
	Temperature   *float64                         `json:"temperature,omitempty"`
	MaxTokens     int                              `json:"max_tokens,omitempty"`
	Stream        bool                             `json:"stream"`
	StreamOptions *goopenai.StreamOptions          `json:"stream_options,omitempty"`
}

func (c *Codec) Body(cfg adapter.Config, prompt string) ([]byte, error) {
	req := chatRequest{
		Model: cfg.ModelOr(c.variant.DefaultModel),
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: cfg.TemperatureOr(c.variant.DefaultTemperature),
		MaxTokens:   cfg.MaxTokensOr(c.variant.DefaultMaxTokens),
		Stream:      true,
	}
	if c.variant.IncludeUsage {
		req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	return json.Marshal(req)
}

type errorFrame struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Codec) Decode(frame []byte, out adapter.Emitter) (bool, error) {
	var chunk goopenai.ChatCompletionStreamResponse
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return false, err
	}
	if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
		out.ReportUsage(chunk.Usage.TotalTokens)
	}
	if len(chunk.Choices) == 0 {
		var ef errorFrame
		if err := json.Unmarshal(frame, &ef); err == nil && ef.Error != nil {
			return false, &adapter.VendorError{Type: ef.Error.Type, Message: ef.Error.Message}
		}
		return false, nil
	}

	choice := chunk.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonStop {
		if choice.Delta.Content != "" {
			out.Emit(adapter.Continuing(choice.Delta.Content, choice.Index))
		}
		out.Emit(adapter.Finished(choice.Index))
		return true, nil
	}
	out.Emit(adapter.Continuing(choice.Delta.Content, choice.Index))
	return false, nil
}
