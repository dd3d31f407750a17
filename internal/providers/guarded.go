// Package providers holds the guard shared by the concrete data providers.
// Each provider lives in its own subpackage.
package providers

import (
	"context"

	"task-router/internal/circuitbreaker"
	"task-router/internal/tasks"
)

// Guarded runs every lookup of a provider through a circuit breaker so an
// unhealthy backend fails fast instead of eating the lookup timeout of
// every task.
type Guarded struct {
	provider tasks.DataProvider
	breaker  *circuitbreaker.GoBreakerAdapter
}

// Guard wraps provider with the breaker named "provider:<name>" from manager
func Guard(provider tasks.DataProvider, manager *circuitbreaker.GoBreakerManager) *Guarded {
	return &Guarded{
		provider: provider,
		breaker:  manager.GetOrCreate("provider:"+provider.Name(), circuitbreaker.ProviderConfig),
	}
}

func (g *Guarded) Name() string {
	return g.provider.Name()
}

func (g *Guarded) Supports(objectType string) bool {
	return g.provider.Supports(objectType)
}

func (g *Guarded) Lookup(ctx context.Context, objectType string, fields map[string]string) (tasks.FieldAccessor, error) {
	var obj tasks.FieldAccessor
	err := g.breaker.Execute(ctx, func() error {
		var err error
		obj, err = g.provider.Lookup(ctx, objectType, fields)
		return err
	})
	return obj, err
}

// Describe forwards to the wrapped provider when it can describe itself
func (g *Guarded) Describe() tasks.ProviderInfo {
	if d, ok := g.provider.(tasks.Describer); ok {
		return d.Describe()
	}
	return tasks.ProviderInfo{Name: g.provider.Name()}
}

// Unwrap returns the guarded provider
func (g *Guarded) Unwrap() tasks.DataProvider {
	return g.provider
}

var (
	_ tasks.DataProvider = (*Guarded)(nil)
	_ tasks.Describer    = (*Guarded)(nil)
)
