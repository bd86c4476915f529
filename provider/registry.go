package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klejdi94/relay/core"
)

// Registry is the catalog of known providers, kept in registration order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Descriptor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Descriptor)}
}

// NewDefaultRegistry creates a registry holding DefaultDescriptors.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range DefaultDescriptors() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a descriptor. Registering an id twice returns *core.DuplicateProviderError.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("provider registry: descriptor id is required")
	}
	d.BaseURL = strings.TrimSuffix(d.BaseURL, "/")
	if d.Kind == "" {
		d.Kind = KindSSEChat
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; ok {
		return &core.DuplicateProviderError{ID: d.ID}
	}
	r.byID[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// DefaultDescriptors is the built-in provider catalog.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{ID: "ollama", DisplayName: "Ollama Local", BaseURL: "http://localhost:11434", Enabled: true, Kind: KindLocal},
		{ID: "anthropic", DisplayName: "Anthropic", BaseURL: "https://api.anthropic.com", RequiresKey: true, Enabled: true, Kind: KindSSEChat, Dialect: DialectAnthropic},
		{ID: "openrouter", DisplayName: "OpenRouter", BaseURL: "https://openrouter.ai/api", RequiresKey: true, Enabled: true, Kind: KindSSEChat, Dialect: DialectOpenAI},
		{ID: "deepseek", DisplayName: "DeepSeek", BaseURL: "https://api.deepseek.com", RequiresKey: true, Enabled: true, Kind: KindSSEChat, Dialect: DialectOpenAI},
		{ID: "abacus", DisplayName: "Abacus AI", BaseURL: "https://api.abacus.ai", RequiresKey: true, Enabled: false, Kind: KindSSEChat, Dialect: DialectOpenAI},
	}
}
