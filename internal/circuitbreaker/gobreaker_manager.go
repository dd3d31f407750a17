package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"task-router/internal/common/logging"
)

// GoBreakerManager keeps one breaker per guarded dependency
type GoBreakerManager struct {
	breakers map[string]*GoBreakerAdapter
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewGoBreakerManager creates an empty manager
func NewGoBreakerManager(logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &GoBreakerManager{
		breakers: make(map[string]*GoBreakerAdapter),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker named name, creating it with config on first use
func (m *GoBreakerManager) GetOrCreate(name string, config Config) *GoBreakerAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker := NewGoBreaker(name, config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Get returns the breaker named name
func (m *GoBreakerManager) Get(name string) (*GoBreakerAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, exists := m.breakers[name]
	return breaker, exists
}

// Execute runs fn through the breaker named name
func (m *GoBreakerManager) Execute(ctx context.Context, name string, config Config, fn func() error) error {
	return m.GetOrCreate(name, config).Execute(ctx, fn)
}

// AllStats returns the stats of every breaker sorted by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// IsOpen reports whether the breaker named name is open
func (m *GoBreakerManager) IsOpen(name string) bool {
	if breaker, ok := m.Get(name); ok {
		return breaker.IsOpen()
	}
	return false
}
