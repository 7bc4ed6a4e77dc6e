package broker

import (
	"context"
	"time"
)

// AssetClass identifies the kind of instrument an order trades.
type AssetClass string

const (
	AssetClassStock  AssetClass = "stock"
	AssetClassOption AssetClass = "option"
	AssetClassFuture AssetClass = "future"
	AssetClassCrypto AssetClass = "crypto"
)

// Mode distinguishes paper/sandbox environments from live trading.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Side represents buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType represents market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce represents how long an order remains active.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
)

// OrderRequest is the broker-agnostic order payload handed to an adapter.
type OrderRequest struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	AssetClass  AssetClass  `json:"asset_class"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	Notional    float64     `json:"notional"`
	OrderType   OrderType   `json:"order_type"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force"`
	StrategyID  string      `json:"strategy_id"`
}

// SubmitStatus is the tagged outcome of a submit call.
type SubmitStatus int

const (
	// SubmitAccepted means the broker accepted the order.
	SubmitAccepted SubmitStatus = iota
	// SubmitRejected is an explicit business rejection; never retried on
	// the same broker.
	SubmitRejected
	// SubmitUnavailable means the broker could not take the order right
	// now; retried and failed over per policy.
	SubmitUnavailable
)

// String returns the string representation of the submit status.
func (s SubmitStatus) String() string {
	switch s {
	case SubmitAccepted:
		return "accepted"
	case SubmitRejected:
		return "rejected"
	case SubmitUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// SubmitResult reports the outcome of a submit call. Ordinary business
// rejections come back as SubmitRejected, not as an error; only transport
// or auth faults surface through the error return, and callers treat those
// identically to SubmitUnavailable.
type SubmitResult struct {
	Status        SubmitStatus
	BrokerOrderID string
	Reason        string
}

// Position is one open position reported by a broker.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountState is a snapshot of a broker account.
type AccountState struct {
	Equity    float64    `json:"equity"`
	Cash      float64    `json:"cash"`
	Positions []Position `json:"positions"`
	AsOf      time.Time  `json:"as_of"`
}

// Broker is the capability-uniform adapter interface. Concrete variants
// exist per brokerage back-end and hide all transport details.
type Broker interface {
	ID() string
	Mode() Mode
	AssetClasses() []AssetClass

	SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetAccountState(ctx context.Context) (*AccountState, error)
}

// Config describes one broker to the registry. Immutable after load.
type Config struct {
	ID           string        `json:"id" yaml:"id"`
	Adapter      string        `json:"adapter" yaml:"adapter"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Mode         Mode          `json:"mode" yaml:"mode"`
	AssetClasses []AssetClass  `json:"asset_classes" yaml:"asset_classes"`
	PrimaryFor   []AssetClass  `json:"primary_for" yaml:"primary_for"`
	BaseURL      string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// Supports reports whether the broker config covers an asset class.
func (c Config) Supports(class AssetClass) bool {
	for _, ac := range c.AssetClasses {
		if ac == class {
			return true
		}
	}
	return false
}

// IsPrimaryFor reports whether the broker is the configured primary for an
// asset class.
func (c Config) IsPrimaryFor(class AssetClass) bool {
	for _, ac := range c.PrimaryFor {
		if ac == class {
			return true
		}
	}
	return false
}
