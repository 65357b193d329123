package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

// Registry holds generation strategies by name.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]domain.Generator
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]domain.Generator),
	}
}

// Register adds a generator. Returns error if the name is already registered.
func (r *Registry) Register(g domain.Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if _, exists := r.generators[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.generators[name] = g
	return nil
}

// Get retrieves a generator by strategy name.
func (r *Registry) Get(name string) (domain.Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.generators[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrStrategyNotFound, name)
	}
	return g, nil
}

// List returns the registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultRegistry registers every strategy the configuration supports on
// top of the shared clients. The knowledge base strategy is only registered
// when a knowledge base id is configured. With the breaker enabled each
// strategy gets its own breaker.
func NewDefaultRegistry(cfg *config.Config, clients *Clients, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	buffer := cfg.Generation.StreamBuffer

	gens := []domain.Generator{NewConverseGenerator(clients, buffer, logger)}
	if cfg.Generation.KnowledgeBaseID != "" {
		gens = append(gens, NewKnowledgeBaseGenerator(clients, cfg.Generation.KnowledgeBaseID, cfg.ModelARNPrefix(), buffer, logger))
	}

	for _, g := range gens {
		if cfg.Generation.CircuitBreaker.Enabled {
			g = NewCircuitBreakerGenerator(g, cfg.Generation.CircuitBreaker, logger)
		}
		if err := reg.Register(g); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
