// Package loopback serves every vendor streaming API locally. Each endpoint
// echoes the last user prompt back word by word in that vendor's wire format
// and reports a deterministic token usage.
package loopback

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ReplyPrefix starts every echoed reply.
const ReplyPrefix = "[loopback] "

// Options tunes the server.
type Options struct {
	Logger *zap.Logger
	// Delay is slept between frames.
	Delay time.Duration
}

// Server is an http.Handler.
type Server struct {
	router chi.Router
	logger *zap.Logger
	delay  time.Duration
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger.Named("loopback"), delay: opts.Delay}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/chat/completions", s.handleOpenAI)
	r.Post("/v1/messages", s.handleAnthropic)
	r.Post("/v1beta/models/{target}", s.handleGemini)
	r.Post("/api/generate", s.handleOllama)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Reply returns what the server answers to prompt.
func Reply(prompt string) string {
	return ReplyPrefix + strings.TrimSpace(prompt)
}

// Words splits reply into the streamed pieces. Joining them yields reply.
func Words(reply string) []string {
	fields := strings.Fields(reply)
	for i := 1; i < len(fields); i++ {
		fields[i] = " " + fields[i]
	}
	return fields
}

// Usage is the token total reported for one exchange.
func Usage(prompt, reply string) int {
	return len(strings.Fields(prompt)) + len(strings.Fields(reply))
}

func (s *Server) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	var req goopenai.ChatCompletionRequest
	if !s.decode(w, r, &req) {
		return
	}
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, goopenai.ChatMessageRoleUser) {
			prompt = req.Messages[i].Content
			break
		}
	}
	if !s.checkPrompt(w, prompt) {
		return
	}
	reply := Reply(prompt)
	frames := make([]any, 0, len(Words(reply))+1)
	for _, word := range Words(reply) {
		frames = append(frames, goopenai.ChatCompletionStreamResponse{
			ID:     "loopback",
			Object: "chat.completion.chunk",
			Model:  req.Model,
			Choices: []goopenai.ChatCompletionStreamChoice{{
				Delta: goopenai.ChatCompletionStreamChoiceDelta{Role: goopenai.ChatMessageRoleAssistant, Content: word},
			}},
		})
	}
	in, out := len(strings.Fields(prompt)), len(strings.Fields(reply))
	usage := &goopenai.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	stop := goopenai.ChatCompletionStreamResponse{
		ID:      "loopback",
		Object:  "chat.completion.chunk",
		Model:   req.Model,
		Choices: []goopenai.ChatCompletionStreamChoice{{FinishReason: goopenai.FinishReasonStop}},
	}
	// With include_usage the totals follow the stop chunk in a chunk of
	// their own, as OpenAI sends them; otherwise they ride on the stop chunk.
	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		frames = append(frames, stop, goopenai.ChatCompletionStreamResponse{
			ID:      "loopback",
			Object:  "chat.completion.chunk",
			Model:   req.Model,
			Choices: []goopenai.ChatCompletionStreamChoice{},
			Usage:   usage,
		})
	} else {
		stop.Usage = usage
		frames = append(frames, stop)
	}
	s.streamSSE(w, r, frames, true)
}

type anthropicRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func (s *Server) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	var req anthropicRequest
	if !s.decode(w, r, &req) {
		return
	}
	var prompt string
	for i := len(req.Messages) - 1; i >= 0 && prompt == ""; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		var parts []string
		for _, block := range req.Messages[i].Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		prompt = strings.Join(parts, "\n")
	}
	if !s.checkPrompt(w, prompt) {
		return
	}
	reply := Reply(prompt)
	in, out := len(strings.Fields(prompt)), len(strings.Fields(reply))
	frames := []any{
		map[string]any{"type": "message_start", "message": map[string]any{
			"model": req.Model,
			"role":  "assistant",
			"usage": map[string]any{"input_tokens": in, "output_tokens": 1},
		}},
		map[string]any{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "text", "text": ""}},
	}
	for _, word := range Words(reply) {
		frames = append(frames, map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": word},
		})
	}
	frames = append(frames,
		map[string]any{"type": "content_block_stop", "index": 0},
		map[string]any{"type": "message_delta", "delta": map[string]any{"stop_reason": "end_turn"}, "usage": map[string]any{"output_tokens": out}},
		map[string]any{"type": "message_stop"},
	)
	s.streamSSE(w, r, frames, false)
}

type geminiRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if !strings.HasSuffix(target, ":streamGenerateContent") {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("key") == "" {
		writeError(w, http.StatusUnauthorized, "API key not valid", "UNAUTHENTICATED")
		return
	}
	var req geminiRequest
	if !s.decode(w, r, &req) {
		return
	}
	var parts []string
	if n := len(req.Contents); n > 0 {
		for _, p := range req.Contents[n-1].Parts {
			parts = append(parts, p.Text)
		}
	}
	prompt := strings.Join(parts, "\n")
	if !s.checkPrompt(w, prompt) {
		return
	}
	reply := Reply(prompt)
	words := Words(reply)
	frames := make([]any, 0, len(words))
	for i, word := range words {
		cand := map[string]any{
			"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": word}}},
			"index":   0,
		}
		frame := map[string]any{"candidates": []any{cand}}
		if i == len(words)-1 {
			cand["finishReason"] = "STOP"
			frame["usageMetadata"] = map[string]any{"totalTokenCount": Usage(prompt, reply)}
		}
		frames = append(frames, frame)
	}
	s.streamSSE(w, r, frames, false)
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleOllama(w http.ResponseWriter, r *http.Request) {
	var req ollamaRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkPrompt(w, req.Prompt) {
		return
	}
	reply := Reply(req.Prompt)
	words := Words(reply)
	frames := make([]any, 0, len(words)+1)
	for _, word := range words {
		frames = append(frames, map[string]any{"model": req.Model, "response": word, "done": false})
	}
	frames = append(frames, map[string]any{
		"model":             req.Model,
		"response":          "",
		"done":              true,
		"prompt_eval_count": len(strings.Fields(req.Prompt)),
		"eval_count":        Usage(req.Prompt, reply),
	})

	w.Header().Set("Content-Type", "application/x-ndjson")
	s.write(w, r, frames, func(b []byte) string { return string(b) + "\n" })
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, frames []any, done bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	s.write(w, r, frames, func(b []byte) string { return "data: " + string(b) + "\n\n" })
	if done && r.Context().Err() == nil {
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flush(w)
	}
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, frames []any, format func([]byte) string) {
	w.WriteHeader(http.StatusOK)
	flush(w)
	for i, frame := range frames {
		if i > 0 && s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}
		if r.Context().Err() != nil {
			return
		}
		b, err := json.Marshal(frame)
		if err != nil {
			s.logger.Error("marshal frame", zap.Error(err))
			return
		}
		if _, err := fmt.Fprint(w, format(b)); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
			return
		}
		flush(w)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error(), "invalid_request_error")
		return false
	}
	return true
}

func (s *Server) checkPrompt(w http.ResponseWriter, prompt string) bool {
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is empty", "invalid_request_error")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": message, "type": typ}})
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
