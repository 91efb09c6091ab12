package loopback

import (
	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/config"
	"github.com/ILYESS24/AiEditor/internal/registry"
)

// APIKey is the key handed to providers pointed at the server.
const APIKey = "loopback-key"

// Providers returns one provider per built-in codec, all reaching baseURL.
func Providers(baseURL string) []config.Provider {
	out := make([]config.Provider, 0, len(registry.KnownProviders))
	for _, name := range registry.KnownProviders {
		out = append(out, config.Provider{
			Name: name,
			Config: adapter.Config{
				Endpoint: baseURL,
				APIKey:   APIKey,
				Model:    "loopback-" + name,
			},
		})
	}
	return out
}
