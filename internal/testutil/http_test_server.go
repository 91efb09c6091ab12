package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts an HTTP server bound to the IPv4 loopback interface.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the server. Streams still open after a short grace
// period are closed forcibly.
func (s *IPv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
	}
	s.transport.CloseIdleConnections()
}

// StreamHandler writes frames one by one with the given content type,
// flushing after each. Every frame is written verbatim followed by sep.
func StreamHandler(contentType, sep string, frames ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f, sep)
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
}

// SSEHandler streams frames as "data:" events.
func SSEHandler(frames ...string) http.Handler {
	events := make([]string, len(frames))
	for i, f := range frames {
		events[i] = "data: " + f
	}
	return StreamHandler("text/event-stream", "\n\n", events...)
}
