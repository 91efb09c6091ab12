package transport

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle identifies one open stream and cancels it.
type Handle struct {
	id        string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{id: uuid.NewString(), cancel: cancel}
}

// ID returns the stream identifier.
func (h *Handle) ID() string { return h.id }

// Cancel aborts the stream. No hook runs after Cancel returns, apart from
// one already in progress. Safe to call more than once.
func (h *Handle) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }
