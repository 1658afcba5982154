package llm

import (
	"context"
	"sort"
	"strings"
	"sync"

	"legalmind/internal/domain"
)

// Registry holds the named providers and routes chat calls between them. An
// agent pins a provider with a model of the form "<provider>/<model>"; any
// other model goes to the default provider unchanged.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
	def       string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider)}
}

// Register adds a provider. The first provider registered becomes the
// default until SetDefault is called.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, name)
	}
	r.providers[name] = provider
	if r.def == "" {
		r.def = name
	}
	return nil
}

// SetDefault selects the provider used for unpinned models.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return domain.NewDomainError("Registry.SetDefault", domain.ErrProviderNotFound, name)
	}
	r.def = name
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns the provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route returns the provider for model and the model name to send to it.
func (r *Registry) Route(model string) (domain.LLMProvider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, rest, ok := strings.Cut(model, "/"); ok {
		if p, found := r.providers[name]; found {
			return p, rest, nil
		}
	}
	p, ok := r.providers[r.def]
	if !ok {
		return nil, "", domain.NewDomainError("Registry.Route", domain.ErrProviderNotFound, "no default provider")
	}
	return p, model, nil
}

// Chat implements domain.LLMProvider by routing on req.Model.
func (r *Registry) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p, model, err := r.Route(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model
	return p.Chat(ctx, req)
}

// Name implements domain.LLMProvider. It reports the default provider.
func (r *Registry) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

var _ domain.LLMProvider = (*Registry)(nil)
