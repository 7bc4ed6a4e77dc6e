package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewerk/broker-router/internal/broker"
)

func buildRegistry(t *testing.T, configs ...broker.Config) *broker.Registry {
	t.Helper()

	registry := broker.NewRegistry()
	for _, cfg := range configs {
		adapter := broker.NewPaperBroker(cfg.ID, cfg.AssetClasses, 100_000)
		require.NoError(t, registry.Register(cfg, adapter))
	}
	return registry
}

// TestRoute_Deterministic tests that the same class yields the same ordering
func TestRoute_Deterministic(t *testing.T) {
	registry := buildRegistry(t,
		broker.Config{ID: "alpaca", Enabled: true, AssetClasses: []broker.AssetClass{broker.AssetClassStock}},
		broker.Config{ID: "tradier", Enabled: true, AssetClasses: []broker.AssetClass{broker.AssetClassStock, broker.AssetClassOption}},
	)

	r, err := New(registry, map[broker.AssetClass][]string{
		broker.AssetClassStock:  {"alpaca", "tradier"},
		broker.AssetClassOption: {"tradier"},
	}, 1)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		route, err := r.Route(broker.AssetClassStock)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpaca", "tradier"}, route)
	}
}

// TestRoute_ExcludesDisabledBrokers tests that disabled brokers drop out
func TestRoute_ExcludesDisabledBrokers(t *testing.T) {
	registry := buildRegistry(t,
		broker.Config{ID: "alpaca", Enabled: false, AssetClasses: []broker.AssetClass{broker.AssetClassStock}},
		broker.Config{ID: "tradier", Enabled: true, AssetClasses: []broker.AssetClass{broker.AssetClassStock}},
	)

	r, err := New(registry, map[broker.AssetClass][]string{
		broker.AssetClassStock: {"alpaca", "tradier"},
	}, 1)
	require.NoError(t, err)

	route, err := r.Route(broker.AssetClassStock)
	require.NoError(t, err)
	assert.Equal(t, []string{"tradier"}, route)
}

// TestRoute_FailsClosedWhenEmpty tests the fail-closed invariant
func TestRoute_FailsClosedWhenEmpty(t *testing.T) {
	registry := buildRegistry(t,
		broker.Config{ID: "alpaca", Enabled: false, AssetClasses: []broker.AssetClass{broker.AssetClassStock}},
	)

	r, err := New(registry, map[broker.AssetClass][]string{
		broker.AssetClassStock: {"alpaca"},
	}, 1)
	require.NoError(t, err)

	_, err = r.Route(broker.AssetClassStock)
	assert.True(t, errors.Is(err, ErrNoRouteConfigured))

	// Unconfigured classes fail the same way.
	_, err = r.Route(broker.AssetClassFuture)
	assert.True(t, errors.Is(err, ErrNoRouteConfigured))
}

// TestNew_RejectsClassMismatch tests startup validation of the table
func TestNew_RejectsClassMismatch(t *testing.T) {
	registry := buildRegistry(t,
		broker.Config{ID: "alpaca", Enabled: true, AssetClasses: []broker.AssetClass{broker.AssetClassStock}},
	)

	// Routing options orders to an equities-only broker must fail at load.
	_, err := New(registry, map[broker.AssetClass][]string{
		broker.AssetClassOption: {"alpaca"},
	}, 1)
	require.Error(t, err)

	_, err = New(registry, map[broker.AssetClass][]string{
		broker.AssetClassStock: {"unknown"},
	}, 1)
	require.Error(t, err)
}

// TestRoutesFromRegistry tests primary-first derivation
func TestRoutesFromRegistry(t *testing.T) {
	registry := buildRegistry(t,
		broker.Config{
			ID: "alpaca", Enabled: true,
			AssetClasses: []broker.AssetClass{broker.AssetClassStock},
			PrimaryFor:   []broker.AssetClass{broker.AssetClassStock},
		},
		broker.Config{
			ID: "tradier", Enabled: true,
			AssetClasses: []broker.AssetClass{broker.AssetClassStock, broker.AssetClassOption},
			PrimaryFor:   []broker.AssetClass{broker.AssetClassOption},
		},
	)

	routes := RoutesFromRegistry(registry)
	assert.Equal(t, []string{"alpaca", "tradier"}, routes[broker.AssetClassStock])
	assert.Equal(t, []string{"tradier"}, routes[broker.AssetClassOption])
}
