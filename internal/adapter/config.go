package adapter

// Config describes how to reach one provider.
type Config struct {
	// Endpoint is the base URL; the vendor path is appended to it.
	Endpoint string
	// URL overrides the composed URL when set.
	URL string
	// URLFunc overrides the composed URL and is evaluated on every build.
	// It takes precedence over URL.
	URLFunc func() (string, error)

	APIKey string
	Model  string
	// Temperature is nil when the vendor default applies. An explicit zero
	// is sent as zero.
	Temperature *float64
	// MaxTokens of zero selects the vendor default.
	MaxTokens  int
	APIVersion string
	// Headers are added to every request after the vendor headers.
	Headers map[string]string
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// TemperatureOr returns the configured temperature or def.
func (c Config) TemperatureOr(def *float64) *float64 {
	if c.Temperature != nil {
		t := *c.Temperature
		return &t
	}
	return def
}

// ModelOr returns the configured model or def.
func (c Config) ModelOr(def string) string {
	if c.Model != "" {
		return c.Model
	}
	return def
}

// MaxTokensOr returns the configured max tokens or def.
func (c Config) MaxTokensOr(def int) int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return def
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// TokenConsumer receives every positive usage report a provider streams
// back. It is shared by all sessions and must be safe for concurrent use.
type TokenConsumer func(provider string, cfg Config, tokens int)
