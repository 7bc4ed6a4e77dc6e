package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// Registry holds the broker capability table: one immutable Config and one
// constructed adapter per broker id. Adapters are registered at startup;
// there is no runtime discovery.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	brokers map[string]Broker
}

// NewRegistry creates an empty broker registry.
func NewRegistry() *Registry {
	return &Registry{
		configs: make(map[string]Config),
		brokers: make(map[string]Broker),
	}
}

// Register adds a broker and its config to the registry. Duplicate ids and
// configs without asset classes are configuration errors.
func (r *Registry) Register(cfg Config, b Broker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return routererrors.NewConfigurationError("registry", "register", "broker id is required")
	}
	if _, exists := r.configs[id]; exists {
		return routererrors.NewConfigurationError("registry", "register",
			fmt.Sprintf("duplicate broker id %q", id))
	}
	if len(cfg.AssetClasses) == 0 {
		return routererrors.NewConfigurationError("registry", "register",
			fmt.Sprintf("broker %q declares no asset classes", id))
	}
	if b.ID() != id {
		return routererrors.NewConfigurationError("registry", "register",
			fmt.Sprintf("adapter id %q does not match config id %q", b.ID(), id))
	}

	r.configs[id] = cfg
	r.brokers[id] = b
	return nil
}

// Get returns the adapter and config for a broker id.
func (r *Registry) Get(id string) (Broker, Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.brokers[id]
	if !ok {
		return nil, Config{}, routererrors.NewConfigurationError("registry", "get",
			fmt.Sprintf("unknown broker %q", id))
	}
	return b, r.configs[id], nil
}

// ConfigFor returns the config for a broker id.
func (r *Registry) ConfigFor(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[id]
	return cfg, ok
}

// Configs returns all registered configs sorted by broker id, so callers
// that derive routing from the registry see a stable order.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered broker ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.configs))
	for id := range r.configs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
