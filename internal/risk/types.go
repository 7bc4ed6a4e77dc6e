package risk

import (
	"time"
)

// Mode is the global risk posture governing position sizing and whether
// new trades are allowed at all.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeCautious  Mode = "cautious"
	ModeDefensive Mode = "defensive"
	ModeLockdown  Mode = "lockdown"
)

// Severity orders modes from least to most restrictive.
func (m Mode) Severity() int {
	switch m {
	case ModeNormal:
		return 0
	case ModeCautious:
		return 1
	case ModeDefensive:
		return 2
	case ModeLockdown:
		return 3
	default:
		return 0
	}
}

// Regime labels the detected market regime.
type Regime string

const (
	RegimeBullish  Regime = "bullish"
	RegimeNeutral  Regime = "neutral"
	RegimeBearish  Regime = "bearish"
	RegimeVolatile Regime = "volatile"
)

// BreakerScope identifies which trailing window a circuit breaker watches.
type BreakerScope string

const (
	ScopeDaily    BreakerScope = "daily"
	ScopeWeekly   BreakerScope = "weekly"
	ScopeMonthly  BreakerScope = "monthly"
	ScopeDrawdown BreakerScope = "drawdown"
)

// BreakerConfig configures one scoped circuit breaker. Threshold is the
// maximum tolerated loss for trailing scopes, or the maximum drawdown
// fraction from peak equity for the drawdown scope.
type BreakerConfig struct {
	Scope             BreakerScope `json:"scope" yaml:"scope"`
	Threshold         float64      `json:"threshold" yaml:"threshold"`
	CooldownDays      int          `json:"cooldown_days" yaml:"cooldown_days"`
	ReduceExposurePct float64      `json:"reduce_exposure_pct" yaml:"reduce_exposure_pct"`
}

// Breaker is an active (triggered) circuit breaker.
type Breaker struct {
	Scope         BreakerScope `json:"scope"`
	TriggeredAt   time.Time    `json:"triggered_at"`
	CooldownUntil time.Time    `json:"cooldown_until"`
}

// Active reports whether the breaker's cooldown is still running.
func (b Breaker) Active(now time.Time) bool {
	return now.Before(b.CooldownUntil)
}

// ForceUnwindRequest is emitted outward when a breaker triggers. The actual
// unwind is delegated back through the normal order path by the
// orchestrator; the risk engine only emits the request.
type ForceUnwindRequest struct {
	Scope     BreakerScope `json:"scope"`
	ReducePct float64      `json:"reduce_pct"`
	// Policy is the deterministic unwind ordering the orchestrator must
	// apply. Always "largest_loss_first".
	Policy string `json:"policy"`
}

// UnwindPolicyLargestLossFirst unwinds the most losing exposure first, so
// the figure that tripped the breaker falls fastest.
const UnwindPolicyLargestLossFirst = "largest_loss_first"

// Proposal is a strategy's order intent before risk gating.
type Proposal struct {
	StrategyID        string  `json:"strategy_id"`
	Symbol            string  `json:"symbol"`
	RequestedNotional float64 `json:"requested_notional"`
	RequestedQuantity float64 `json:"requested_quantity"`
}

// SizingResult is the outcome of position sizing for an accepted proposal.
type SizingResult struct {
	SizeModifier     float64 `json:"size_modifier"`
	ApprovedNotional float64 `json:"approved_notional"`
	ApprovedQuantity float64 `json:"approved_quantity"`
}

// Config holds risk thresholds and sizing tables. Immutable after load.
type Config struct {
	Breakers          []BreakerConfig    `json:"breakers" yaml:"breakers"`
	ModeModifiers     map[Mode]float64   `json:"mode_modifiers" yaml:"mode_modifiers"`
	RegimeFactors     map[Regime]float64 `json:"regime_factors" yaml:"regime_factors"`
	MaxAllocation     map[string]float64 `json:"max_allocation" yaml:"max_allocation"`
	DefaultAllocation float64            `json:"default_allocation" yaml:"default_allocation"`
}

// DefaultConfig returns conservative defaults for sizing tables; breaker
// thresholds always come from operator configuration.
func DefaultConfig() Config {
	return Config{
		ModeModifiers: map[Mode]float64{
			ModeNormal:    1.0,
			ModeCautious:  0.75,
			ModeDefensive: 0.5,
			ModeLockdown:  0.0,
		},
		RegimeFactors: map[Regime]float64{
			RegimeBullish:  1.0,
			RegimeNeutral:  1.0,
			RegimeBearish:  0.6,
			RegimeVolatile: 0.5,
		},
		DefaultAllocation: 100_000,
	}
}

// Snapshot is a copy-on-read view of the risk state for dashboards and
// telemetry. Mutating a snapshot has no effect on the engine.
type Snapshot struct {
	Mode             Mode                     `json:"mode"`
	Regime           Regime                   `json:"regime"`
	NewTradesAllowed bool                     `json:"new_trades_allowed"`
	Breakers         []Breaker                `json:"breakers"`
	TrailingLosses   map[BreakerScope]float64 `json:"trailing_losses"`
	Equity           float64                  `json:"equity"`
	PeakEquity       float64                  `json:"peak_equity"`
	Allocations      map[string]float64       `json:"allocations"`
	AsOf             time.Time                `json:"as_of"`
}
