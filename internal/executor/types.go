package executor

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradewerk/broker-router/internal/broker"
)

// State is one node of the execution state machine.
type State string

const (
	StatePending     State = "pending"
	StateSubmitting  State = "submitting"
	StateFilled      State = "filled"
	StateRejected    State = "rejected"
	StateRetrying    State = "retrying"
	StateFailingOver State = "failing_over"
	StateExhausted   State = "exhausted"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether the state ends the order's lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateRejected, StateExhausted, StateCancelled:
		return true
	default:
		return false
	}
}

// Order is an immutable trading instruction. A retry produces a new
// ExecutionAttempt, never a new Order.
type Order struct {
	ID          string             `json:"id"`
	AssetClass  broker.AssetClass  `json:"asset_class"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"side"`
	Quantity    float64            `json:"quantity"`
	Notional    float64            `json:"notional"`
	OrderType   broker.OrderType   `json:"order_type"`
	LimitPrice  float64            `json:"limit_price,omitempty"`
	TimeInForce broker.TimeInForce `json:"time_in_force"`
	StrategyID  string             `json:"strategy_id"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewOrder builds an order with a fresh id and creation timestamp.
func NewOrder(strategyID, symbol string, class broker.AssetClass, side broker.Side, quantity, notional float64) Order {
	return Order{
		ID:          uuid.NewString(),
		AssetClass:  class,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Notional:    notional,
		OrderType:   broker.OrderTypeMarket,
		TimeInForce: broker.TimeInForceDay,
		StrategyID:  strategyID,
		CreatedAt:   time.Now().UTC(),
	}
}

// AttemptOutcome classifies a single broker attempt.
type AttemptOutcome string

const (
	OutcomePending     AttemptOutcome = "pending"
	OutcomeFilled      AttemptOutcome = "filled"
	OutcomeRejected    AttemptOutcome = "rejected"
	OutcomeUnavailable AttemptOutcome = "broker_unavailable"
	OutcomeTimeout     AttemptOutcome = "timeout"
)

// ExecutionAttempt records one submit call to one broker. Attempts are
// owned exclusively by the coordinator and written to the audit log on
// every transition.
type ExecutionAttempt struct {
	OrderID       string         `json:"order_id"`
	BrokerID      string         `json:"broker_id"`
	AttemptNumber int            `json:"attempt_number"`
	StartedAt     time.Time      `json:"started_at"`
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
}

// Result is the terminal outcome of an order's execution.
type Result struct {
	OrderID       string             `json:"order_id"`
	State         State              `json:"state"`
	BrokerID      string             `json:"broker_id,omitempty"`
	BrokerOrderID string             `json:"broker_order_id,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Attempts      []ExecutionAttempt `json:"attempts"`
}

// Policy is the multi-broker execution policy. Failover is an explicit,
// auditable risk decision: with AutoFailover false, exhausting retries on
// the primary broker is itself terminal.
type Policy struct {
	AutoFailover     bool `json:"auto_failover" yaml:"auto_failover"`
	FailoverOnReject bool `json:"failover_on_reject" yaml:"failover_on_reject"`
}
