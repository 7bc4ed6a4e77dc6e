// Package config loads and validates the router's startup configuration
// from a JSON or YAML file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradewerk/broker-router/internal/anomaly"
	"github.com/tradewerk/broker-router/internal/broker"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/stress"
)

// Duration wraps time.Duration so config files can say "5s" or "250ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// Bare numbers are taken as nanoseconds, matching time.Duration.
		var n int64
		if numErr := json.Unmarshal(data, &n); numErr == nil {
			*d = Duration(n)
			return nil
		}
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// BrokerEntry is one broker definition in the config file.
type BrokerEntry struct {
	ID           string   `json:"id" yaml:"id"`
	Adapter      string   `json:"adapter" yaml:"adapter"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Mode         string   `json:"mode" yaml:"mode"`
	AssetClasses []string `json:"asset_classes" yaml:"asset_classes"`
	PrimaryFor   []string `json:"primary_for" yaml:"primary_for"`
	BaseURL      string   `json:"base_url" yaml:"base_url"`
	MaxRetries   int      `json:"max_retries" yaml:"max_retries"`
	RetryDelay   Duration `json:"retry_delay" yaml:"retry_delay"`
	Timeout      Duration `json:"timeout" yaml:"timeout"`
}

// Config is the full router configuration. Immutable after load; a changed
// file takes effect only through an explicit restart.
type Config struct {
	Environment string `json:"environment" yaml:"environment"`
	LogLevel    string `json:"log_level" yaml:"log_level"`

	Vault struct {
		Path         string `json:"path" yaml:"path"`
		MasterKeyEnv string `json:"master_key_env" yaml:"master_key_env"`
	} `json:"vault" yaml:"vault"`

	Brokers []BrokerEntry       `json:"brokers" yaml:"brokers"`
	Routes  map[string][]string `json:"routes" yaml:"routes"`

	Executor struct {
		AutoFailover     bool `json:"auto_failover" yaml:"auto_failover"`
		FailoverOnReject bool `json:"failover_on_reject" yaml:"failover_on_reject"`
	} `json:"executor" yaml:"executor"`

	Risk    risk.Config    `json:"risk" yaml:"risk"`
	Anomaly anomaly.Config `json:"anomaly" yaml:"anomaly"`

	Stress struct {
		Scenarios       []stress.Scenario `json:"scenarios" yaml:"scenarios"`
		Interval        Duration          `json:"interval" yaml:"interval"`
		CriticalLossPct float64           `json:"critical_loss_pct" yaml:"critical_loss_pct"`
	} `json:"stress" yaml:"stress"`

	StartingEquity float64 `json:"starting_equity" yaml:"starting_equity"`

	Audit struct {
		Dir     string `json:"dir" yaml:"dir"`
		MaxKeep int    `json:"max_keep" yaml:"max_keep"`
	} `json:"audit" yaml:"audit"`

	State struct {
		Dir string `json:"dir" yaml:"dir"`
	} `json:"state" yaml:"state"`

	Monitoring struct {
		PrometheusPort int `json:"prometheus_port" yaml:"prometheus_port"`
		HealthPort     int `json:"health_port" yaml:"health_port"`
	} `json:"monitoring" yaml:"monitoring"`

	Notifications struct {
		TelegramToken  string `json:"telegram_token" yaml:"telegram_token"`
		TelegramChatID string `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	} `json:"notifications" yaml:"notifications"`
}

// Load reads the config file (JSON or YAML by extension), applies
// environment overrides, and validates. Validation failures are
// ConfigurationErrors and abort startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, routererrors.Wrap(err, routererrors.CategoryConfiguration, "config", "load", "read config file")
	}

	cfg := &Config{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, routererrors.Wrap(err, routererrors.CategoryConfiguration, "config", "load", "parse config file")
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Environment = getEnv("ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Vault.Path = getEnv("VAULT_PATH", c.Vault.Path)
	c.Vault.MasterKeyEnv = getEnv("VAULT_MASTER_KEY_ENV", c.Vault.MasterKeyEnv)
	c.Audit.Dir = getEnv("AUDIT_DIR", c.Audit.Dir)
	c.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", c.Monitoring.PrometheusPort)
	c.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", c.Monitoring.HealthPort)
	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Vault.MasterKeyEnv == "" {
		c.Vault.MasterKeyEnv = "ROUTER_MASTER_KEY"
	}
	if c.StartingEquity <= 0 {
		c.StartingEquity = 1_000_000
	}
	if c.Audit.MaxKeep <= 0 {
		c.Audit.MaxKeep = 4096
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 8080
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8081
	}
}

// Validate checks the broker list and routing table for internal
// consistency. Every named route broker must exist, be well formed, and
// support the asset class it is routed for.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return routererrors.NewConfigurationError("config", "validate", "no brokers configured")
	}

	byID := make(map[string]BrokerEntry, len(c.Brokers))
	for _, b := range c.Brokers {
		if b.ID == "" {
			return routererrors.NewConfigurationError("config", "validate", "broker with empty id")
		}
		if _, dup := byID[b.ID]; dup {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("duplicate broker id %q", b.ID))
		}
		if b.Adapter == "" {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("broker %s: missing adapter", b.ID))
		}
		if len(b.AssetClasses) == 0 {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("broker %s: no asset classes", b.ID))
		}
		if b.Adapter == "rest" && b.BaseURL == "" {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("broker %s: rest adapter requires base_url", b.ID))
		}
		if b.Adapter != "paper" && c.Vault.Path == "" {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("broker %s: adapter %s requires a vault path", b.ID, b.Adapter))
		}
		byID[b.ID] = b
	}

	if len(c.Routes) == 0 {
		return routererrors.NewConfigurationError("config", "validate", "no routes configured")
	}
	for class, ids := range c.Routes {
		if len(ids) == 0 {
			return routererrors.NewConfigurationError("config", "validate",
				fmt.Sprintf("route for %s is empty", class))
		}
		for _, id := range ids {
			entry, ok := byID[id]
			if !ok {
				return routererrors.NewConfigurationError("config", "validate",
					fmt.Sprintf("route for %s names unknown broker %q", class, id))
			}
			if !contains(entry.AssetClasses, class) {
				return routererrors.NewConfigurationError("config", "validate",
					fmt.Sprintf("route for %s names broker %s which does not support it", class, id))
			}
		}
	}
	return nil
}

// StressConfig converts the stress section into engine input.
func (c *Config) StressConfig() stress.Config {
	return stress.Config{
		Scenarios:       c.Stress.Scenarios,
		Interval:        c.Stress.Interval.Std(),
		CriticalLossPct: c.Stress.CriticalLossPct,
	}
}

// StateDir returns the risk checkpoint directory, defaulting next to the
// audit directory.
func (c *Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}
	return "state"
}

// BrokerConfigs converts the file entries into registry configs.
func (c *Config) BrokerConfigs() []broker.Config {
	out := make([]broker.Config, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		classes := make([]broker.AssetClass, 0, len(b.AssetClasses))
		for _, cl := range b.AssetClasses {
			classes = append(classes, broker.AssetClass(cl))
		}
		primary := make([]broker.AssetClass, 0, len(b.PrimaryFor))
		for _, cl := range b.PrimaryFor {
			primary = append(primary, broker.AssetClass(cl))
		}
		mode := broker.ModeSandbox
		if b.Mode == string(broker.ModeLive) {
			mode = broker.ModeLive
		}
		out = append(out, broker.Config{
			ID:           b.ID,
			Adapter:      b.Adapter,
			Enabled:      b.Enabled,
			Mode:         mode,
			AssetClasses: classes,
			PrimaryFor:   primary,
			BaseURL:      b.BaseURL,
			MaxRetries:   b.MaxRetries,
			RetryDelay:   b.RetryDelay.Std(),
			Timeout:      b.Timeout.Std(),
		})
	}
	return out
}

// RouteTable converts the file routing table into router input.
func (c *Config) RouteTable() map[broker.AssetClass][]string {
	out := make(map[broker.AssetClass][]string, len(c.Routes))
	for class, ids := range c.Routes {
		out[broker.AssetClass(class)] = append([]string(nil), ids...)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
