package router

import (
	"fmt"

	"github.com/tradewerk/broker-router/internal/broker"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// ErrNoRouteConfigured is returned when an asset class has no enabled
// broker left in its route. Routing fails closed: the order is rejected,
// never silently sent to a broker outside the configured route.
var ErrNoRouteConfigured = routererrors.New(routererrors.CategoryConfiguration,
	"router", "route", "no route configured")

// Router maps an asset class to a deterministic ordered broker preference
// list, primary first. The table is immutable; a reconfiguration builds a
// new Router with a new generation.
type Router struct {
	registry   *broker.Registry
	routes     map[broker.AssetClass][]string
	generation uint64
}

// New validates the routing table against the registry and returns a
// router for it. Unknown brokers and class mismatches are configuration
// errors that abort startup.
func New(registry *broker.Registry, routes map[broker.AssetClass][]string, generation uint64) (*Router, error) {
	for class, ids := range routes {
		if len(ids) == 0 {
			return nil, routererrors.NewConfigurationError("router", "new",
				fmt.Sprintf("asset class %q has an empty route", class))
		}
		for _, id := range ids {
			cfg, ok := registry.ConfigFor(id)
			if !ok {
				return nil, routererrors.NewConfigurationError("router", "new",
					fmt.Sprintf("route for %q names unknown broker %q", class, id))
			}
			if !cfg.Supports(class) {
				return nil, routererrors.NewConfigurationError("router", "new",
					fmt.Sprintf("broker %q does not support asset class %q", id, class))
			}
		}
	}

	// Defensive copy so the caller cannot mutate the table afterwards.
	copied := make(map[broker.AssetClass][]string, len(routes))
	for class, ids := range routes {
		copied[class] = append([]string(nil), ids...)
	}

	return &Router{registry: registry, routes: copied, generation: generation}, nil
}

// Generation returns the configuration generation this router was built
// from. Equal generations guarantee identical route orderings.
func (r *Router) Generation() uint64 {
	return r.generation
}

// Route returns the ordered broker ids for an asset class, excluding
// disabled brokers. An unconfigured class or a route emptied by disabling
// brokers fails with ErrNoRouteConfigured.
func (r *Router) Route(class broker.AssetClass) ([]string, error) {
	ids, ok := r.routes[class]
	if !ok {
		return nil, ErrNoRouteConfigured
	}

	enabled := make([]string, 0, len(ids))
	for _, id := range ids {
		cfg, ok := r.registry.ConfigFor(id)
		if !ok || !cfg.Enabled {
			continue
		}
		enabled = append(enabled, id)
	}

	if len(enabled) == 0 {
		return nil, ErrNoRouteConfigured
	}
	return enabled, nil
}

// RoutesFromRegistry derives a routing table from registry configs:
// the primary-for broker leads each class, remaining supporting brokers
// follow in id order. Used when the config file omits an explicit table.
func RoutesFromRegistry(registry *broker.Registry) map[broker.AssetClass][]string {
	routes := make(map[broker.AssetClass][]string)

	for _, cfg := range registry.Configs() {
		for _, class := range cfg.AssetClasses {
			if cfg.IsPrimaryFor(class) {
				routes[class] = append([]string{cfg.ID}, routes[class]...)
			} else {
				routes[class] = append(routes[class], cfg.ID)
			}
		}
	}
	return routes
}
