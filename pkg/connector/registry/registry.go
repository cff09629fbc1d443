// Package registry maps provider kinds to factories. Provider packages
// self-register in init(); cmd imports them blank.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
	"github.com/glucosync/glucosync/pkg/errors"
)

// Provider bundles the capabilities a provider package implements.
type Provider struct {
	Authenticator core.Authenticator
	Fetcher       core.Fetcher
}

// Factory builds a provider instance from its resolved configuration.
type Factory func(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error)

// Registry manages provider registration and instantiation
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a provider factory under a kind
func (r *Registry) Register(kind string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("provider kind %s already registered", kind))
	}

	r.factories[kind] = factory
	return nil
}

// Create builds a provider instance of the given kind
func (r *Registry) Create(kind string, cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	r.mu.RLock()
	factory, exists := r.factories[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("provider kind %s not found", kind))
	}

	p, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create provider %s", cfg.Name))
	}

	return p, nil
}

// List returns the registered provider kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterProvider registers a factory in the global registry. Called
// from provider package init functions.
func RegisterProvider(kind string, factory Factory) error {
	return globalRegistry.Register(kind, factory)
}

// Create builds a provider from the global registry.
func Create(kind string, cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	return globalRegistry.Create(kind, cfg, logger)
}

// ListProviders returns provider kinds registered globally.
func ListProviders() []string {
	return globalRegistry.List()
}
