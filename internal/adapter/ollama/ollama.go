// Package ollama implements the local /api/generate NDJSON codec.
package ollama

import (
	"encoding/json"
	"net/http"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

const (
	DefaultEndpoint    = "http://localhost:11434"
	DefaultModel       = "llama2"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Codec speaks the Ollama generate stream.
type Codec struct{}

var _ adapter.Codec = Codec{}

// New returns the codec.
func New() Codec { return Codec{} }

func (Codec) DefaultEndpoint() string { return DefaultEndpoint }

func (Codec) Path(adapter.Config) (string, error) { return "/api/generate", nil }

func (Codec) Headers(_ adapter.Config, h http.Header) {
	h.Set("Accept", "application/x-ndjson")
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

func (Codec) Body(cfg adapter.Config, prompt string) ([]byte, error) {
	return json.Marshal(generateRequest{
		Model:  cfg.ModelOr(DefaultModel),
		Prompt: prompt,
		Stream: true,
		Options: options{
			Temperature: cfg.TemperatureOr(adapter.Float(DefaultTemperature)),
			NumPredict:  cfg.MaxTokensOr(DefaultMaxTokens),
		},
	})
}

type generateChunk struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error"`
}

func (Codec) Decode(frame []byte, out adapter.Emitter) (bool, error) {
	var chunk generateChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return false, err
	}
	if chunk.Error != "" {
		return false, &adapter.VendorError{Message: chunk.Error}
	}
	if !chunk.Done {
		out.Emit(adapter.Continuing(chunk.Response, 0))
		return false, nil
	}
	if chunk.EvalCount > 0 {
		out.ReportUsage(chunk.EvalCount)
	}
	if chunk.Response != "" {
		out.Emit(adapter.Continuing(chunk.Response, 0))
	}
	out.Emit(adapter.Finished(0))
	return true, nil
}
