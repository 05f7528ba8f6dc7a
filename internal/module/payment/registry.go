package payment

import (
	"sync"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/provider"
	"github.com/flowpay/server/internal/shared/errors"
)

// ProviderRegistry manages the configured payment providers.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[domain.Provider]provider.Provider
}

// NewProviderRegistry creates a new provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[domain.Provider]provider.Provider),
	}
}

// Register registers a provider.
func (r *ProviderRegistry) Register(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name. Unknown or unconfigured providers yield
// ErrUnsupportedProvider.
func (r *ProviderRegistry) Get(name domain.Provider) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.ErrUnsupportedProvider.WithMessage("unsupported provider: " + string(name))
	}
	return p, nil
}

// List returns all registered provider names.
func (r *ProviderRegistry) List() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]domain.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
