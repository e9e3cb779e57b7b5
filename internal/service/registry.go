package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"batchgate/internal/config"
	"batchgate/internal/model"
	"batchgate/internal/operation"
	"batchgate/internal/plugin"
)

// Registry holds the methods served by the service
type Registry struct {
	methods map[string]*Method
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		methods: make(map[string]*Method),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Build creates a method for every configured entry.
// plugins may be nil when no method uses the plugin backend.
func Build(cfg *config.Config, predictor *model.Predictor, plugins plugin.Manager, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for name, mc := range cfg.Methods {
		var backend operation.Func
		switch mc.Backend {
		case config.BackendModel:
			if predictor == nil {
				return nil, fmt.Errorf("method '%s': model backend is not available", name)
			}
			backend = predictor.Operation()
		case config.BackendPlugin:
			if plugins == nil {
				return nil, fmt.Errorf("method '%s': plugins are not enabled", name)
			}
			op, err := plugins.Operation(name)
			if err != nil {
				return nil, fmt.Errorf("method '%s': %w", name, err)
			}
			backend = op
		default:
			return nil, fmt.Errorf("method '%s': unknown backend '%s'", name, mc.Backend)
		}

		m, err := NewMethod(name, backend, mc, logger)
		if err != nil {
			return nil, fmt.Errorf("method '%s': %w", name, err)
		}
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds m to the registry
func (r *Registry) Register(m *Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[m.Name()]; exists {
		return fmt.Errorf("duplicate method: %s", m.Name())
	}
	r.methods[m.Name()] = m

	r.logger.Info().
		Str("method", m.Name()).
		Interface("config", m.coalescer.Config()).
		Msg("method registered")
	return nil
}

// Get returns the method registered under name
func (r *Registry) Get(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Names returns the registered method names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flush dispatches the open batch of every method and waits for them
func (r *Registry) Flush(ctx context.Context) {
	for _, name := range r.Names() {
		if m, ok := r.Get(name); ok {
			m.Flush(ctx)
		}
	}
}

// Stats returns a snapshot per method
func (r *Registry) Stats() map[string]MethodStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]MethodStats, len(r.methods))
	for name, m := range r.methods {
		stats[name] = m.Stats()
	}
	return stats
}
