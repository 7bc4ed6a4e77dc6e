package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewerk/broker-router/internal/broker"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validJSON = `{
  "environment": "test",
  "brokers": [
    {
      "id": "alpaca",
      "adapter": "paper",
      "enabled": true,
      "mode": "sandbox",
      "asset_classes": ["stock"],
      "primary_for": ["stock"],
      "max_retries": 3,
      "retry_delay": "250ms",
      "timeout": "5s"
    }
  ],
  "routes": {"stock": ["alpaca"]},
  "executor": {"auto_failover": true}
}`

// TestLoad_JSON tests JSON loading with duration strings
func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "router.json", validJSON))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.True(t, cfg.Executor.AutoFailover)

	configs := cfg.BrokerConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, 250*time.Millisecond, configs[0].RetryDelay)
	assert.Equal(t, 5*time.Second, configs[0].Timeout)
	assert.True(t, configs[0].IsPrimaryFor(broker.AssetClassStock))
}

// TestLoad_YAML tests the YAML variant of the same config
func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "router.yaml", `
environment: test
brokers:
  - id: alpaca
    adapter: paper
    enabled: true
    mode: sandbox
    asset_classes: [stock]
    primary_for: [stock]
    max_retries: 3
    retry_delay: 250ms
    timeout: 5s
routes:
  stock: [alpaca]
executor:
  auto_failover: true
`))
	require.NoError(t, err)

	configs := cfg.BrokerConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, 250*time.Millisecond, configs[0].RetryDelay)
}

// TestLoad_DefaultsApplied tests zero-value fallbacks
func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, "router.json", validJSON))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Monitoring.PrometheusPort)
	assert.Equal(t, 8081, cfg.Monitoring.HealthPort)
	assert.Equal(t, "ROUTER_MASTER_KEY", cfg.Vault.MasterKeyEnv)
	assert.Equal(t, 1_000_000.0, cfg.StartingEquity)
}

// TestValidate_RouteToUnsupportedClass tests startup failing closed
func TestValidate_RouteToUnsupportedClass(t *testing.T) {
	_, err := Load(writeConfig(t, "router.json", `{
  "brokers": [
    {"id": "alpaca", "adapter": "paper", "enabled": true, "asset_classes": ["stock"]}
  ],
  "routes": {"option": ["alpaca"]}
}`))
	require.Error(t, err)
	assert.Equal(t, routererrors.CategoryConfiguration, routererrors.CategoryOf(err))
}

// TestValidate_UnknownRouteBroker tests route referencing a missing broker
func TestValidate_UnknownRouteBroker(t *testing.T) {
	_, err := Load(writeConfig(t, "router.json", `{
  "brokers": [
    {"id": "alpaca", "adapter": "paper", "enabled": true, "asset_classes": ["stock"]}
  ],
  "routes": {"stock": ["tradier"]}
}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tradier")
}

// TestValidate_RESTRequiresVault tests non-paper adapters demanding a vault
func TestValidate_RESTRequiresVault(t *testing.T) {
	_, err := Load(writeConfig(t, "router.json", `{
  "brokers": [
    {"id": "tradier", "adapter": "rest", "enabled": true, "asset_classes": ["option"], "base_url": "https://sandbox.tradier.com"}
  ],
  "routes": {"option": ["tradier"]}
}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault")
}

// TestLoad_EnvOverrides tests environment variables beating the file
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROMETHEUS_PORT", "9100")
	t.Setenv("ENV", "production")

	cfg, err := Load(writeConfig(t, "router.json", validJSON))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Monitoring.PrometheusPort)
	assert.Equal(t, "production", cfg.Environment)
}
