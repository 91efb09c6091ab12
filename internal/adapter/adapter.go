package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Codec holds the vendor specific half of an adapter: where requests go,
// which headers authenticate them, how the body is shaped and how streamed
// frames are read back into normalized messages.
type Codec interface {
	// DefaultEndpoint is used when the config carries no endpoint.
	DefaultEndpoint() string
	// Path returns the part of the URL below the endpoint. Vendors that put
	// the model or the key in the URL read them from cfg.
	Path(cfg Config) (string, error)
	// Headers adds authentication and version headers to h.
	Headers(cfg Config, h http.Header)
	// Body renders the JSON request body for a single user prompt.
	Body(cfg Config, prompt string) ([]byte, error)
	// Decode reads one frame. finished reports that the frame ended the
	// stream and that nothing after it should be decoded.
	Decode(frame []byte, out Emitter) (finished bool, err error)
}

// Request is a fully built vendor request.
type Request struct {
	Provider string
	URL      string
	Header   http.Header
	Body     []byte
	// Config is the snapshot the request was built from.
	Config Config
}

// Adapter binds a provider name and its Codec to a mutable Config.
type Adapter struct {
	name  string
	codec Codec

	mu  sync.RWMutex
	cfg Config
}

// New creates an adapter for the named provider.
func New(name string, codec Codec, cfg Config) (*Adapter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("adapter: provider name cannot be empty")
	}
	if codec == nil {
		return nil, fmt.Errorf("adapter: %s: codec cannot be nil", name)
	}
	return &Adapter{name: name, codec: codec, cfg: cfg.Clone()}, nil
}

// Name returns the provider name the adapter was registered under.
func (a *Adapter) Name() string { return a.name }

// Codec returns the vendor codec.
func (a *Adapter) Codec() Codec { return a.codec }

// Config returns a copy of the current configuration.
func (a *Adapter) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// UpdateConfig applies fn to a copy of the configuration and swaps it in.
// Requests already built keep the snapshot they were built from.
func (a *Adapter) UpdateConfig(fn func(*Config)) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.cfg.Clone()
	fn(&next)
	a.cfg = next
}

// BuildRequestURL resolves the request URL from the current configuration.
func (a *Adapter) BuildRequestURL() (string, error) {
	return a.requestURL(a.Config())
}

// BuildRequestHeaders returns the request headers for the current configuration.
func (a *Adapter) BuildRequestHeaders() http.Header {
	return a.requestHeaders(a.Config())
}

// BuildRequestBody renders the request body for prompt.
func (a *Adapter) BuildRequestBody(prompt string) ([]byte, error) {
	return a.requestBody(a.Config(), prompt)
}

// BuildRequest builds URL, headers and body from one configuration snapshot.
func (a *Adapter) BuildRequest(prompt string) (*Request, error) {
	cfg := a.Config()
	u, err := a.requestURL(cfg)
	if err != nil {
		return nil, err
	}
	body, err := a.requestBody(cfg, prompt)
	if err != nil {
		return nil, err
	}
	return &Request{
		Provider: a.name,
		URL:      u,
		Header:   a.requestHeaders(cfg),
		Body:     body,
		Config:   cfg,
	}, nil
}

// DecodeStreamChunk decodes every frame in chunk and forwards the results to
// out. A malformed frame does not stop the remaining frames; the failures are
// returned as *DecodeError once the chunk is done. Frames after a finished
// frame only contribute usage reports; their messages and errors are
// dropped. A vendor error frame stops decoding and is returned as
// *VendorError.
func (a *Adapter) DecodeStreamChunk(chunk []byte, out Emitter) error {
	var errs []error
	finished := false
	for _, frame := range SplitFrames(chunk) {
		if finished {
			_, _ = a.codec.Decode(frame, UsageOnly(out))
			continue
		}
		done, err := a.codec.Decode(frame, out)
		if err != nil {
			var vendorErr *VendorError
			if errors.As(err, &vendorErr) {
				if vendorErr.Provider == "" {
					vendorErr.Provider = a.name
				}
				return vendorErr
			}
			errs = append(errs, &DecodeError{Provider: a.name, Frame: Truncate(string(frame), maxFrameInError), Err: err})
			continue
		}
		finished = done
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func (a *Adapter) requestURL(cfg Config) (string, error) {
	if cfg.URLFunc != nil {
		raw, err := cfg.URLFunc()
		if err != nil {
			return "", &ConfigError{Provider: a.name, Field: "url", Reason: "url producer failed", Err: err}
		}
		return a.checkURL("url", raw)
	}
	if strings.TrimSpace(cfg.URL) != "" {
		return a.checkURL("url", cfg.URL)
	}

	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = strings.TrimSuffix(a.codec.DefaultEndpoint(), "/")
	}
	if endpoint == "" {
		return "", &ConfigError{Provider: a.name, Field: "endpoint", Reason: "endpoint is required"}
	}
	path, err := a.codec.Path(cfg)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Provider == "" {
			cfgErr.Provider = a.name
		}
		return "", err
	}
	return a.checkURL("endpoint", endpoint+path)
}

func (a *Adapter) checkURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ConfigError{Provider: a.name, Field: field, Reason: "url is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ConfigError{Provider: a.name, Field: field, Reason: "malformed url", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &ConfigError{Provider: a.name, Field: field, Reason: fmt.Sprintf("url %q must be absolute http(s)", raw)}
	}
	return raw, nil
}

func (a *Adapter) requestHeaders(cfg Config) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	a.codec.Headers(cfg, h)
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}
	return h
}

func (a *Adapter) requestBody(cfg Config, prompt string) ([]byte, error) {
	body, err := a.codec.Body(cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}
	return body, nil
}
