// Package adaptertest provides helpers for testing codecs.
package adaptertest

import (
	"sync"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

// Recorder is an adapter.Emitter that keeps everything it receives.
type Recorder struct {
	mu       sync.Mutex
	Messages []adapter.Message
	Usage    []int
}

func (r *Recorder) Emit(msg adapter.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

func (r *Recorder) ReportUsage(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Usage = append(r.Usage, tokens)
}

// Text concatenates the content of every continuing message.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, m := range r.Messages {
		if m.Status == adapter.StatusContinuing {
			out += m.Content
		}
	}
	return out
}

// Finished counts finished messages.
func (r *Recorder) Finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.Messages {
		if m.Status == adapter.StatusFinished {
			n++
		}
	}
	return n
}

// Decode runs every frame through codec in order and stops after the first
// finished frame, returning the per-frame errors.
func Decode(codec adapter.Codec, frames ...string) (*Recorder, []error) {
	rec := &Recorder{}
	var errs []error
	for _, f := range frames {
		finished, err := codec.Decode([]byte(f), rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if finished {
			break
		}
	}
	return rec, errs
}
