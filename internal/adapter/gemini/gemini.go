// Package gemini implements the streamGenerateContent codec.
package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

const (
	DefaultEndpoint    = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-pro"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultTopP        = 0.8
	DefaultTopK        = 10
)

// Codec speaks the Gemini SSE stream. The API key travels in the query string.
type Codec struct{}

var _ adapter.Codec = Codec{}

// New returns the codec.
func New() Codec { return Codec{} }

func (Codec) DefaultEndpoint() string { return DefaultEndpoint }

func (Codec) Path(cfg adapter.Config) (string, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return "", &adapter.ConfigError{Field: "api_key", Reason: "api key is required"}
	}
	model := cfg.ModelOr(DefaultModel)
	return fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		url.PathEscape(model), url.QueryEscape(key)), nil
}

func (Codec) Headers(_ adapter.Config, h http.Header) {
	h.Set("Accept", "text/event-stream")
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	TopP            float64  `json:"topP"`
	TopK            int      `json:"topK"`
}

func (Codec) Body(cfg adapter.Config, prompt string) ([]byte, error) {
	return json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     cfg.TemperatureOr(adapter.Float(DefaultTemperature)),
			MaxOutputTokens: cfg.MaxTokensOr(DefaultMaxTokens),
			TopP:            DefaultTopP,
			TopK:            DefaultTopK,
		},
	})
}

type streamResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
		Index        int    `json:"index"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (Codec) Decode(frame []byte, out adapter.Emitter) (bool, error) {
	var resp streamResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, &adapter.VendorError{Type: resp.Error.Status, Message: resp.Error.Message}
	}
	if len(resp.Candidates) == 0 {
		return false, nil
	}

	cand := resp.Candidates[0]
	var text string
	hasText := cand.Content != nil && len(cand.Content.Parts) > 0
	if hasText {
		text = cand.Content.Parts[0].Text
	}

	// Usage metadata is cumulative; only the closing frame is counted.
	if cand.FinishReason != "" && resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		out.ReportUsage(resp.UsageMetadata.TotalTokenCount)
	}

	if cand.FinishReason == "STOP" {
		if text != "" {
			out.Emit(adapter.Continuing(text, cand.Index))
		}
		out.Emit(adapter.Finished(cand.Index))
		return true, nil
	}
	if !hasText {
		return false, nil
	}
	out.Emit(adapter.Continuing(text, cand.Index))
	return false, nil
}
