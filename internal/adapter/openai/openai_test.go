package openai

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/adapter/adaptertest"
)

func TestBodyDefaults(t *testing.T) {
	tests := []struct {
		name        string
		variant     Variant
		cfg         adapter.Config
		wantModel   string
		wantTemp    *float64
		wantMax     float64
		wantUsage   bool
		wantNoModel bool
	}{
		{name: "openai", variant: OpenAI, wantModel: "gpt-3.5-turbo", wantTemp: adapter.Float(0.7), wantUsage: true},
		{name: "openrouter omits tuning", variant: OpenRouter, cfg: adapter.Config{Model: "m1"}, wantModel: "m1"},
		{name: "deepseek", variant: DeepSeek, wantModel: "deepseek-chat", wantTemp: adapter.Float(0.7), wantMax: 4096, wantUsage: true},
		{name: "grok", variant: Grok, cfg: adapter.Config{Model: "grok-beta"}, wantModel: "grok-beta", wantTemp: adapter.Float(0.7), wantMax: 4096},
		{name: "gitee", variant: Gitee, cfg: adapter.Config{Model: "qwen"}, wantModel: "qwen", wantTemp: adapter.Float(0.7), wantMax: 2048},
		{name: "custom without model", variant: Custom, wantNoModel: true},
		{name: "explicit zero temperature", variant: OpenAI, cfg: adapter.Config{Temperature: adapter.Float(0)}, wantModel: "gpt-3.5-turbo", wantTemp: adapter.Float(0), wantUsage: true},
		{name: "configured max tokens", variant: Gitee, cfg: adapter.Config{Model: "qwen", MaxTokens: 100}, wantModel: "qwen", wantTemp: adapter.Float(0.7), wantMax: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := New(tt.variant).Body(tt.cfg, "hello world")
			if err != nil {
				t.Fatalf("Body() error = %v", err)
			}
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if body["stream"] != true {
				t.Errorf("stream = %v, want true", body["stream"])
			}
			if tt.wantNoModel {
				if _, ok := body["model"]; ok {
					t.Errorf("model present: %v", body["model"])
				}
			} else if body["model"] != tt.wantModel {
				t.Errorf("model = %v, want %s", body["model"], tt.wantModel)
			}
			temp, hasTemp := body["temperature"]
			switch {
			case tt.wantTemp == nil && hasTemp:
				t.Errorf("temperature = %v, want omitted", temp)
			case tt.wantTemp != nil && *tt.wantTemp != 0 && temp != *tt.wantTemp:
				t.Errorf("temperature = %v, want %v", temp, *tt.wantTemp)
			}
			if tt.wantTemp != nil && *tt.wantTemp == 0 && (!hasTemp || temp != float64(0)) {
				t.Errorf("temperature = %v (present %v), want explicit 0", temp, hasTemp)
			}
			if tt.wantMax == 0 {
				if v, ok := body["max_tokens"]; ok {
					t.Errorf("max_tokens = %v, want omitted", v)
				}
			} else if body["max_tokens"] != tt.wantMax {
				t.Errorf("max_tokens = %v, want %v", body["max_tokens"], tt.wantMax)
			}
			_, hasOpts := body["stream_options"]
			if hasOpts != tt.wantUsage {
				t.Errorf("stream_options present = %v, want %v", hasOpts, tt.wantUsage)
			}
			msgs, _ := body["messages"].([]any)
			if len(msgs) != 1 {
				t.Fatalf("messages = %v, want one", body["messages"])
			}
			msg := msgs[0].(map[string]any)
			if msg["role"] != "user" || msg["content"] != "hello world" {
				t.Errorf("message = %v", msg)
			}
		})
	}
}

func TestHeaders(t *testing.T) {
	h := make(http.Header)
	New(OpenAI).Headers(adapter.Config{APIKey: "k"}, h)
	if got := h.Get("Authorization"); got != "Bearer k" {
		t.Errorf("Authorization = %q", got)
	}

	h = make(http.Header)
	New(OpenAI).Headers(adapter.Config{}, h)
	if got := h.Get("Authorization"); got != "" {
		t.Errorf("Authorization without key = %q, want empty", got)
	}
}

func TestDecode(t *testing.T) {
	codec := New(OpenRouter)

	rec, errs := adaptertest.Decode(codec,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[{"index":0,"delta":{"content":"ignored"},"finish_reason":null}]}`,
	)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rec.Messages) != 4 {
		t.Fatalf("messages = %d, want 4: %+v", len(rec.Messages), rec.Messages)
	}
	if rec.Text() != "Hello" {
		t.Errorf("text = %q, want Hello", rec.Text())
	}
	last := rec.Messages[3]
	if last.Status != adapter.StatusFinished || last.Content != "" || last.Role != adapter.RoleAssistant {
		t.Errorf("last = %+v, want empty finished", last)
	}
}

func TestDecodeFinishedWithContent(t *testing.T) {
	rec, errs := adaptertest.Decode(New(OpenAI),
		`{"choices":[{"index":0,"delta":{"content":"tail"},"finish_reason":"stop"}]}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("messages = %+v, want continuing then finished", rec.Messages)
	}
	if rec.Messages[0].Content != "tail" || rec.Messages[1].Status != adapter.StatusFinished || rec.Messages[1].Content != "" {
		t.Errorf("messages = %+v", rec.Messages)
	}
}

func TestDecodeUsage(t *testing.T) {
	rec, errs := adaptertest.Decode(New(DeepSeek),
		`{"choices":[{"index":0,"delta":{"content":"a"},"finish_reason":null}]}`,
		`{"choices":[],"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":0}}`,
	)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rec.Usage) != 1 || rec.Usage[0] != 42 {
		t.Errorf("usage = %v, want [42]", rec.Usage)
	}
	if rec.Finished() != 1 {
		t.Errorf("finished = %d, want 1", rec.Finished())
	}
}

func TestDecodeMalformed(t *testing.T) {
	rec, errs := adaptertest.Decode(New(OpenAI),
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"choices":[{"index":0,`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
	)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	if rec.Text() != "ab" {
		t.Errorf("text = %q, want ab", rec.Text())
	}
}

func TestDecodeVendorError(t *testing.T) {
	_, errs := adaptertest.Decode(New(OpenRouter), `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	var vendorErr *adapter.VendorError
	if !errors.As(errs[0], &vendorErr) {
		t.Fatalf("error = %T, want *adapter.VendorError", errs[0])
	}
	if !strings.Contains(vendorErr.Error(), "rate limited") {
		t.Errorf("error = %v", vendorErr)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"openai", "openrouter", "deepseek", "grok", "gitee", "custom"} {
		v, ok := Lookup(name)
		if !ok || v.Name != name {
			t.Errorf("Lookup(%q) = %+v, %v", name, v, ok)
		}
	}
	if _, ok := Lookup("claude"); ok {
		t.Error("Lookup(claude) succeeded")
	}
}
