// Package registry provides a generic, thread-safe registry of named
// factories. Storage backends and brokers each keep one so the
// application can pick an implementation from configuration.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"task-router/internal/common/errors"
)

// Factory is implemented by every registered factory
type Factory interface {
	// GetType returns the name the factory is registered under
	GetType() string
}

// Registry maps type names to factories of type T
type Registry[T Factory] struct {
	factories map[string]T
	mu        sync.RWMutex
}

// New creates an empty registry
func New[T Factory]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]T),
	}
}

// Register adds factory under factoryType, replacing any previous one
func (r *Registry[T]) Register(factoryType string, factory T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factoryType] = factory
}

// RegisterFactory adds factory under its own type name
func (r *Registry[T]) RegisterFactory(factory T) {
	r.Register(factory.GetType(), factory)
}

// Get returns the factory registered under factoryType
func (r *Registry[T]) Get(factoryType string) (T, error) {
	r.mu.RLock()
	factory, exists := r.factories[factoryType]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("factory type %s", factoryType))
	}
	return factory, nil
}

// GetAvailableTypes returns the registered type names, sorted
func (r *Registry[T]) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for factoryType := range r.factories {
		types = append(types, factoryType)
	}
	sort.Strings(types)
	return types
}

// IsRegistered reports whether factoryType is known
func (r *Registry[T]) IsRegistered(factoryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[factoryType]
	return exists
}

// Count returns the number of registered factories
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
