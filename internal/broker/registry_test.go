package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

func stockConfig(id string) Config {
	return Config{
		ID:           id,
		Adapter:      "paper",
		Enabled:      true,
		AssetClasses: []AssetClass{AssetClassStock},
	}
}

// TestRegister_Validation tests the registration error cases
func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Config{AssetClasses: []AssetClass{AssetClassStock}}, NewPaperBroker("", nil, 0))
	assert.Error(t, err, "empty id")

	err = r.Register(Config{ID: "alpaca"}, NewPaperBroker("alpaca", nil, 0))
	assert.Error(t, err, "no asset classes")

	err = r.Register(stockConfig("alpaca"), NewPaperBroker("tradier", nil, 0))
	assert.Error(t, err, "adapter id mismatch")
	assert.Equal(t, routererrors.CategoryConfiguration, routererrors.CategoryOf(err))
}

// TestRegister_DuplicateID tests duplicate rejection
func TestRegister_DuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stockConfig("alpaca"), NewPaperBroker("alpaca", []AssetClass{AssetClassStock}, 0)))

	err := r.Register(stockConfig("alpaca"), NewPaperBroker("alpaca", []AssetClass{AssetClassStock}, 0))
	assert.Error(t, err)
}

// TestConfigs_SortedByID tests the stable ordering guarantee
func TestConfigs_SortedByID(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"tradier", "alpaca", "ibkr"} {
		require.NoError(t, r.Register(stockConfig(id), NewPaperBroker(id, []AssetClass{AssetClassStock}, 0)))
	}

	configs := r.Configs()
	require.Len(t, configs, 3)
	assert.Equal(t, "alpaca", configs[0].ID)
	assert.Equal(t, "ibkr", configs[1].ID)
	assert.Equal(t, "tradier", configs[2].ID)
	assert.Equal(t, []string{"alpaca", "ibkr", "tradier"}, r.IDs())
}

// TestGet_Unknown tests lookups of unregistered brokers
func TestGet_Unknown(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Get("ghost")
	assert.Error(t, err)

	_, ok := r.ConfigFor("ghost")
	assert.False(t, ok)
}

// TestConfig_Supports tests the asset class capability check
func TestConfig_Supports(t *testing.T) {
	cfg := Config{
		AssetClasses: []AssetClass{AssetClassStock, AssetClassOption},
		PrimaryFor:   []AssetClass{AssetClassStock},
	}

	assert.True(t, cfg.Supports(AssetClassStock))
	assert.True(t, cfg.Supports(AssetClassOption))
	assert.False(t, cfg.Supports(AssetClassFuture))
	assert.True(t, cfg.IsPrimaryFor(AssetClassStock))
	assert.False(t, cfg.IsPrimaryFor(AssetClassOption))
}
