// Package registry keeps the ordered set of configured provider adapters and
// resolves model names to them.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/config"
)

// AutoModel resolves to the first registered provider, as does "".
const AutoModel = "auto"

var (
	ErrNotFound        = errors.New("registry: provider not found")
	ErrEmpty           = errors.New("registry: no providers registered")
	ErrUnknownProvider = errors.New("registry: unknown provider")
)

// Factory builds adapters for names the registry does not know. Returning a
// nil adapter and nil error leaves the name unregistered.
type Factory func(name string, cfg adapter.Config) (*adapter.Adapter, error)

// Registry maps provider names to adapters in insertion order.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*adapter.Adapter
	order    []string
	factory  Factory
}

// New creates an empty registry. factory may be nil.
func New(factory Factory) *Registry {
	return &Registry{
		adapters: make(map[string]*adapter.Adapter),
		factory:  factory,
	}
}

// Register builds the adapter for name and stores it. Known vendor names use
// their built-in codec; anything else goes through the factory.
func (r *Registry) Register(name string, cfg adapter.Config) (*adapter.Adapter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("registry: provider name cannot be empty")
	}

	var (
		a   *adapter.Adapter
		err error
	)
	if codec, ok := CodecFor(name); ok {
		a, err = adapter.New(name, codec, cfg)
	} else if r.factory != nil {
		a, err = r.factory(name, cfg)
	} else {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: build %q: %w", name, err)
	}
	if a == nil {
		return nil, nil
	}
	r.store(name, a)
	return a, nil
}

// RegisterAdapter stores a prebuilt adapter under its own name.
func (r *Registry) RegisterAdapter(a *adapter.Adapter) error {
	if a == nil {
		return errors.New("registry: adapter cannot be nil")
	}
	r.store(a.Name(), a)
	return nil
}

// Init registers providers in the declared order.
func (r *Registry) Init(providers []config.Provider) error {
	for _, p := range providers {
		if _, err := r.Register(p.Name, p.Config); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) store(name string, a *adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// Resolve returns the adapter for name. "" and "auto" select the first
// registered provider.
func (r *Registry) Resolve(name string) (*adapter.Adapter, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, ErrEmpty
	}
	if name == "" || name == AutoModel {
		return r.adapters[r.order[0]], nil
	}
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Reset removes every provider.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]*adapter.Adapter)
	r.order = nil
}
