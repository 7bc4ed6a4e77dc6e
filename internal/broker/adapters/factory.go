package adapters

import (
	"fmt"
	"strings"

	"github.com/tradewerk/broker-router/internal/broker"
	"github.com/tradewerk/broker-router/internal/broker/bybit"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// Factory creates broker adapters from configuration.
type Factory struct {
	creds broker.CredentialSource
}

// NewFactory creates a broker adapter factory backed by a credential source.
func NewFactory(creds broker.CredentialSource) *Factory {
	return &Factory{creds: creds}
}

// SupportedAdapters returns the adapter kinds this factory can build.
func (f *Factory) SupportedAdapters() []string {
	return []string{"paper", "rest", "bybit"}
}

// Create builds the adapter named by cfg.Adapter.
func (f *Factory) Create(cfg broker.Config) (broker.Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Adapter)) {
	case "paper":
		return broker.NewPaperBroker(cfg.ID, cfg.AssetClasses, 1_000_000), nil
	case "rest":
		if cfg.BaseURL == "" {
			return nil, routererrors.NewConfigurationError("factory", "create",
				fmt.Sprintf("broker %q: rest adapter requires base_url", cfg.ID))
		}
		return broker.NewRESTBroker(cfg, f.creds), nil
	case "bybit":
		return bybit.New(cfg, f.creds), nil
	default:
		return nil, routererrors.NewConfigurationError("factory", "create",
			fmt.Sprintf("broker %q: unsupported adapter %q (supported: %v)",
				cfg.ID, cfg.Adapter, f.SupportedAdapters()))
	}
}

// BuildRegistry constructs adapters for every config and registers them.
func (f *Factory) BuildRegistry(configs []broker.Config) (*broker.Registry, error) {
	registry := broker.NewRegistry()
	for _, cfg := range configs {
		adapter, err := f.Create(cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(cfg, adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
