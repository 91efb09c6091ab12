package registry

import (
	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/adapter/anthropic"
	"github.com/ILYESS24/AiEditor/internal/adapter/gemini"
	"github.com/ILYESS24/AiEditor/internal/adapter/ollama"
	"github.com/ILYESS24/AiEditor/internal/adapter/openai"
)

// KnownProviders lists the names with a built-in codec.
var KnownProviders = []string{
	"openai", "openrouter", "deepseek", "grok", "gitee", "custom",
	"claude", "anthropic", "gemini", "ollama",
}

// CodecFor returns the built-in codec for a provider name.
func CodecFor(name string) (adapter.Codec, bool) {
	switch name {
	case "claude", "anthropic":
		return anthropic.New(), true
	case "gemini":
		return gemini.New(), true
	case "ollama":
		return ollama.New(), true
	}
	if v, ok := openai.Lookup(name); ok {
		return openai.New(v), true
	}
	return nil, false
}
