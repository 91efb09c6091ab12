package adapter_test

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/adapter/adaptertest"
	"github.com/ILYESS24/AiEditor/internal/adapter/anthropic"
	"github.com/ILYESS24/AiEditor/internal/adapter/gemini"
	"github.com/ILYESS24/AiEditor/internal/adapter/ollama"
	"github.com/ILYESS24/AiEditor/internal/adapter/openai"
)

func mustNew(t *testing.T, name string, codec adapter.Codec, cfg adapter.Config) *adapter.Adapter {
	t.Helper()
	a, err := adapter.New(name, codec, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNewValidation(t *testing.T) {
	if _, err := adapter.New("  ", openai.New(openai.OpenAI), adapter.Config{}); err == nil {
		t.Error("New() with empty name succeeded")
	}
	if _, err := adapter.New("x", nil, adapter.Config{}); err == nil {
		t.Error("New() with nil codec succeeded")
	}
}

func TestBuildRequestURL(t *testing.T) {
	tests := []struct {
		name    string
		codec   adapter.Codec
		cfg     adapter.Config
		want    string
		wantErr bool
	}{
		{name: "default endpoint", codec: openai.New(openai.OpenAI), want: "https://api.openai.com/v1/chat/completions"},
		{name: "trailing slash trimmed", codec: openai.New(openai.OpenRouter), cfg: adapter.Config{Endpoint: "https://router.test/api/"}, want: "https://router.test/api/v1/chat/completions"},
		{name: "literal override", codec: anthropic.New(), cfg: adapter.Config{URL: "https://proxy.test/claude"}, want: "https://proxy.test/claude"},
		{name: "producer override", codec: ollama.New(), cfg: adapter.Config{URLFunc: func() (string, error) { return "http://gpu-box:11434/api/generate", nil }}, want: "http://gpu-box:11434/api/generate"},
		{name: "producer wins over literal", codec: ollama.New(), cfg: adapter.Config{URL: "http://a.test", URLFunc: func() (string, error) { return "http://b.test", nil }}, want: "http://b.test"},
		{name: "producer failure", codec: ollama.New(), cfg: adapter.Config{URLFunc: func() (string, error) { return "", errors.New("no host") }}, wantErr: true},
		{name: "producer returns empty", codec: ollama.New(), cfg: adapter.Config{URLFunc: func() (string, error) { return "", nil }}, wantErr: true},
		{name: "malformed override", codec: ollama.New(), cfg: adapter.Config{URL: "not a url"}, wantErr: true},
		{name: "custom requires endpoint", codec: openai.New(openai.Custom), wantErr: true},
		{name: "custom endpoint", codec: openai.New(openai.Custom), cfg: adapter.Config{Endpoint: "http://127.0.0.1:9000"}, want: "http://127.0.0.1:9000/v1/chat/completions"},
		{name: "gemini key in query", codec: gemini.New(), cfg: adapter.Config{APIKey: "abc"}, want: "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:streamGenerateContent?alt=sse&key=abc"},
		{name: "gemini without key", codec: gemini.New(), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustNew(t, "p", tt.codec, tt.cfg)
			got, err := a.BuildRequestURL()
			if tt.wantErr {
				if !errors.Is(err, adapter.ErrConfig) {
					t.Fatalf("BuildRequestURL() error = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildRequestURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildRequestURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRequestHeaders(t *testing.T) {
	a := mustNew(t, "custom", openai.New(openai.Custom), adapter.Config{
		Endpoint: "http://127.0.0.1:9000",
		Headers:  map[string]string{"X-Tenant": "docs"},
	})
	h := a.BuildRequestHeaders()
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("Authorization") != "" {
		t.Errorf("Authorization = %q, want none", h.Get("Authorization"))
	}
	if h.Get("X-Tenant") != "docs" {
		t.Errorf("X-Tenant = %q", h.Get("X-Tenant"))
	}
}

func TestSnapshotIsolation(t *testing.T) {
	a := mustNew(t, "openrouter", openai.New(openai.OpenRouter), adapter.Config{
		Endpoint: "https://one.test",
		Model:    "m1",
		Headers:  map[string]string{"X-A": "1"},
	})
	req, err := a.BuildRequest("hi")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	a.UpdateConfig(func(c *adapter.Config) {
		c.Endpoint = "https://two.test"
		c.Model = "m2"
		c.Headers["X-A"] = "2"
	})

	if req.URL != "https://one.test/v1/chat/completions" {
		t.Errorf("request URL changed to %q", req.URL)
	}
	if req.Config.Model != "m1" || req.Config.Headers["X-A"] != "1" {
		t.Errorf("request snapshot mutated: %+v", req.Config)
	}
	if !strings.Contains(string(req.Body), `"model":"m1"`) {
		t.Errorf("body = %s", req.Body)
	}

	next, err := a.BuildRequest("hi")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if next.URL != "https://two.test/v1/chat/completions" || next.Config.Model != "m2" {
		t.Errorf("next request = %q %q", next.URL, next.Config.Model)
	}
}

func TestConcurrentUpdateAndBuild(t *testing.T) {
	a := mustNew(t, "openai", openai.New(openai.OpenAI), adapter.Config{Model: "m"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.UpdateConfig(func(c *adapter.Config) { c.Temperature = adapter.Float(0.1) })
		}()
		go func() {
			defer wg.Done()
			req, err := a.BuildRequest("x")
			if err != nil {
				t.Errorf("BuildRequest() error = %v", err)
				return
			}
			var body map[string]any
			if err := json.Unmarshal(req.Body, &body); err != nil {
				t.Errorf("body not json: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestDecodeStreamChunk(t *testing.T) {
	a := mustNew(t, "openai", openai.New(openai.OpenAI), adapter.Config{})
	chunk := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n" +
		"data: {not json}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"late\"}}]}\n\n" +
		"data: [DONE]\n\n"

	rec := &adaptertest.Recorder{}
	err := a.DecodeStreamChunk([]byte(chunk), rec)
	var decodeErr *adapter.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("DecodeStreamChunk() error = %v, want *DecodeError", err)
	}
	if decodeErr.Provider != "openai" || decodeErr.Frame != "{not json}" {
		t.Errorf("decode error = %+v", decodeErr)
	}
	if rec.Text() != "ab" {
		t.Errorf("text = %q, want ab", rec.Text())
	}
	if rec.Finished() != 1 || rec.Messages[len(rec.Messages)-1].Status != adapter.StatusFinished {
		t.Errorf("messages = %+v", rec.Messages)
	}
}

func TestDecodeStreamChunkUsageAfterFinished(t *testing.T) {
	a := mustNew(t, "openai", openai.New(openai.OpenAI), adapter.Config{})
	chunk := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"late\"}}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":30,\"completion_tokens\":12,\"total_tokens\":42}}\n\n" +
		"data: [DONE]\n\n"

	rec := &adaptertest.Recorder{}
	if err := a.DecodeStreamChunk([]byte(chunk), rec); err != nil {
		t.Fatalf("DecodeStreamChunk() error = %v", err)
	}
	if len(rec.Messages) != 2 || rec.Text() != "Hi" || rec.Finished() != 1 {
		t.Errorf("messages = %+v, want Hi then finished", rec.Messages)
	}
	if len(rec.Usage) != 1 || rec.Usage[0] != 42 {
		t.Errorf("usage = %v, want [42]", rec.Usage)
	}
}

func TestDecodeStreamChunkVendorError(t *testing.T) {
	a := mustNew(t, "claude", anthropic.New(), adapter.Config{})
	rec := &adaptertest.Recorder{}
	err := a.DecodeStreamChunk([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`), rec)
	var vendorErr *adapter.VendorError
	if !errors.As(err, &vendorErr) || vendorErr.Provider != "claude" {
		t.Fatalf("DecodeStreamChunk() error = %v, want vendor error from claude", err)
	}
}

func TestFinishedFramePerVendor(t *testing.T) {
	tests := []struct {
		name  string
		codec adapter.Codec
		frame string
	}{
		{name: "openai", codec: openai.New(openai.OpenAI), frame: `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`},
		{name: "claude", codec: anthropic.New(), frame: `{"type":"message_stop"}`},
		{name: "gemini", codec: gemini.New(), frame: `{"candidates":[{"content":{"parts":[{"text":""}]},"finishReason":"STOP"}]}`},
		{name: "ollama", codec: ollama.New(), frame: `{"response":"","done":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &adaptertest.Recorder{}
			if err := mustNew(t, tt.name, tt.codec, adapter.Config{}).DecodeStreamChunk([]byte(tt.frame), rec); err != nil {
				t.Fatalf("DecodeStreamChunk() error = %v", err)
			}
			if len(rec.Messages) != 1 {
				t.Fatalf("messages = %+v, want one", rec.Messages)
			}
			want := adapter.Finished(0)
			if rec.Messages[0] != want {
				t.Errorf("message = %+v, want %+v", rec.Messages[0], want)
			}
		})
	}
}

func TestContinuingFramesInOrder(t *testing.T) {
	a := mustNew(t, "ollama", ollama.New(), adapter.Config{})
	var lines []string
	for _, w := range []string{"a", "b", "c", "d", "e"} {
		lines = append(lines, `{"response":"`+w+`","done":false}`)
	}
	rec := &adaptertest.Recorder{}
	if err := a.DecodeStreamChunk([]byte(strings.Join(lines, "\n")), rec); err != nil {
		t.Fatalf("DecodeStreamChunk() error = %v", err)
	}
	if len(rec.Messages) != 5 || rec.Text() != "abcde" {
		t.Errorf("messages = %+v", rec.Messages)
	}
	for _, m := range rec.Messages {
		if m.Status != adapter.StatusContinuing {
			t.Errorf("status = %v, want continuing", m.Status)
		}
	}
}

func TestConfigClone(t *testing.T) {
	orig := adapter.Config{Temperature: adapter.Float(0.5), Headers: map[string]string{"a": "1"}}
	c := orig.Clone()
	*c.Temperature = 1
	c.Headers["a"] = "2"
	if *orig.Temperature != 0.5 || orig.Headers["a"] != "1" {
		t.Errorf("Clone shares state with original: %+v", orig)
	}
}
