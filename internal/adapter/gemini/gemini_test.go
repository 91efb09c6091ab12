package gemini

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/adapter/adaptertest"
)

func TestPath(t *testing.T) {
	tests := []struct {
		name    string
		cfg     adapter.Config
		want    string
		wantErr bool
	}{
		{name: "default model", cfg: adapter.Config{APIKey: "k1"}, want: "/v1beta/models/gemini-pro:streamGenerateContent?alt=sse&key=k1"},
		{name: "configured model", cfg: adapter.Config{APIKey: "k1", Model: "gemini-1.5-flash"}, want: "/v1beta/models/gemini-1.5-flash:streamGenerateContent?alt=sse&key=k1"},
		{name: "missing key", cfg: adapter.Config{Model: "gemini-pro"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New().Path(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, adapter.ErrConfig) {
					t.Fatalf("Path() error = %v, want config error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Path() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMissingKeyThroughAdapter(t *testing.T) {
	a, err := adapter.New("gemini", New(), adapter.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.BuildRequest("hi")
	var cfgErr *adapter.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("BuildRequest() error = %v, want *ConfigError", err)
	}
	if cfgErr.Provider != "gemini" || cfgErr.Field != "api_key" {
		t.Errorf("config error = %+v", cfgErr)
	}
}

func TestBody(t *testing.T) {
	raw, err := New().Body(adapter.Config{}, "summarize")
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	var body generateRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Contents) != 1 || body.Contents[0].Parts[0].Text != "summarize" {
		t.Errorf("contents = %+v", body.Contents)
	}
	gc := body.GenerationConfig
	if gc.Temperature == nil || *gc.Temperature != DefaultTemperature || gc.MaxOutputTokens != DefaultMaxTokens || gc.TopP != DefaultTopP || gc.TopK != DefaultTopK {
		t.Errorf("generationConfig = %+v", gc)
	}
	if strings.Contains(string(raw), `"stream"`) {
		t.Errorf("body carries a stream flag: %s", raw)
	}
}

func TestDecode(t *testing.T) {
	rec, errs := adaptertest.Decode(New(),
		`{"candidates":[{"content":{"parts":[{"text":"One"}],"role":"model"},"index":0}],"usageMetadata":{"promptTokenCount":4,"totalTokenCount":5}}`,
		`{"candidates":[{"content":{"parts":[{"text":" two"}],"role":"model"},"index":0}],"usageMetadata":{"promptTokenCount":4,"totalTokenCount":7}}`,
		`{"candidates":[{"content":{"parts":[{"text":" three"}],"role":"model"},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":4,"totalTokenCount":9}}`,
	)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if rec.Text() != "One two three" {
		t.Errorf("text = %q", rec.Text())
	}
	if len(rec.Messages) != 4 || rec.Messages[3].Status != adapter.StatusFinished || rec.Messages[3].Content != "" {
		t.Errorf("messages = %+v", rec.Messages)
	}
	if len(rec.Usage) != 1 || rec.Usage[0] != 9 {
		t.Errorf("usage = %v, want [9]", rec.Usage)
	}
}

func TestDecodeSkipsEmptyCandidates(t *testing.T) {
	rec, errs := adaptertest.Decode(New(), `{"candidates":[]}`, `{"promptFeedback":{}}`)
	if len(errs) != 0 || len(rec.Messages) != 0 {
		t.Errorf("messages = %+v errs = %v, want nothing", rec.Messages, errs)
	}
}
