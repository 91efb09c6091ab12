// Package transport performs the streaming HTTP call behind a chat session
// and hands the response body back frame by frame.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

const (
	defaultResponseHeaderTimeout = 60 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxFrameBytes         = 1 << 20
	maxErrorBody                 = 64 << 10
)

// Config tunes the HTTP client. Streams have no overall deadline; only the
// wait for response headers is bounded.
type Config struct {
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
	// MaxFrameBytes bounds a single line, SSE event or whole body.
	MaxFrameBytes int
	// HTTPClient replaces the client built from the settings above.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Hooks receive the stream lifecycle. All hooks run on the goroutine that
// called Stream.
type Hooks struct {
	// OnStart runs once the vendor answered with a 2xx status.
	OnStart func(h *Handle)
	// OnMessage receives each raw frame in arrival order.
	OnMessage func(frame string)
	// OnStop runs exactly once when the stream ends for any reason other
	// than cancellation.
	OnStop func()
}

// Client issues streaming POST requests.
type Client struct {
	httpClient *http.Client
	maxFrame   int
	logger     *zap.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameBytes
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		if tr.ResponseHeaderTimeout <= 0 {
			tr.ResponseHeaderTimeout = defaultResponseHeaderTimeout
		}
		tr.IdleConnTimeout = cfg.IdleConnTimeout
		if tr.IdleConnTimeout <= 0 {
			tr.IdleConnTimeout = defaultIdleConnTimeout
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			tr.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		httpClient = &http.Client{Transport: tr}
	}
	return &Client{httpClient: httpClient, maxFrame: maxFrame, logger: logger.Named("transport")}
}

// Stream sends req and blocks until the response body is exhausted, the
// stream fails or it is cancelled. A cancelled stream returns an error
// matching ErrCancelled and skips OnStop.
func (c *Client) Stream(ctx context.Context, req *adapter.Request, hooks Hooks) error {
	if req == nil {
		return errors.New("transport: request is nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := newHandle(cancel)
	log := c.logger.With(zap.String("stream_id", handle.ID()), zap.String("provider", req.Provider))

	err := c.stream(ctx, handle, req, hooks, log)
	if ctx.Err() != nil {
		log.Debug("stream cancelled", zap.Bool("by_handle", handle.Cancelled()))
		return &cancelledError{cause: ctx.Err()}
	}
	if err != nil {
		log.Warn("stream failed", zap.Error(err))
	}
	if hooks.OnStop != nil {
		hooks.OnStop()
	}
	return err
}

func (c *Client) stream(ctx context.Context, handle *Handle, req *adapter.Request, hooks Hooks, log *zap.Logger) error {
	target := RedactURL(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return &Error{Op: "create request", URL: target, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Op: "send request", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newStatusError(resp.StatusCode, resp.Status, body)
	}

	contentType := resp.Header.Get("Content-Type")
	log.Debug("stream opened",
		zap.String("url", target),
		zap.String("content_type", contentType),
		zap.Duration("latency", time.Since(start)))

	if hooks.OnStart != nil {
		hooks.OnStart(handle)
	}

	deliver := func(frame string) {
		if ctx.Err() != nil || hooks.OnMessage == nil {
			return
		}
		hooks.OnMessage(frame)
	}

	switch framingFor(contentType) {
	case framingSSE:
		err = c.readSSE(ctx, resp.Body, deliver)
	case framingWhole:
		err = c.readWhole(resp.Body, deliver)
	default:
		err = c.readLines(ctx, resp.Body, deliver)
	}
	if err != nil {
		return &Error{Op: "read stream", URL: target, Err: err}
	}
	return nil
}

type framing int

const (
	framingLines framing = iota
	framingSSE
	framingWhole
)

func framingFor(contentType string) framing {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return framingLines
	}
	switch mediaType {
	case "text/event-stream":
		return framingSSE
	case "application/json":
		return framingWhole
	default:
		return framingLines
	}
}

func (c *Client) scanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	initial := 64 << 10
	if initial > c.maxFrame {
		initial = c.maxFrame
	}
	s.Buffer(make([]byte, 0, initial), c.maxFrame)
	return s
}

// readSSE delivers the joined data lines of each event.
func (c *Client) readSSE(ctx context.Context, r io.Reader, deliver func(string)) error {
	s := c.scanner(r)
	var data []string
	flush := func() {
		if len(data) > 0 {
			deliver(strings.Join(data, "\n"))
			data = data[:0]
		}
	}
	for s.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// readLines delivers every non-blank line; a body without newlines arrives
// as a single frame at EOF.
func (c *Client) readLines(ctx context.Context, r io.Reader, deliver func(string)) error {
	s := c.scanner(r)
	for s.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(s.Text())
		if line != "" {
			deliver(line)
		}
	}
	return s.Err()
}

func (c *Client) readWhole(r io.Reader, deliver func(string)) error {
	body, err := io.ReadAll(io.LimitReader(r, int64(c.maxFrame)+1))
	if err != nil {
		return err
	}
	if len(body) > c.maxFrame {
		return fmt.Errorf("response body exceeds %d bytes", c.maxFrame)
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		deliver(trimmed)
	}
	return nil
}

// RedactURL hides credentials carried in the query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	redacted := false
	for _, k := range []string{"key", "api_key", "apikey"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			redacted = true
		}
	}
	if redacted {
		u.RawQuery = q.Encode()
	}
	if u.User != nil {
		u.User = url.User("REDACTED")
	}
	return u.String()
}
