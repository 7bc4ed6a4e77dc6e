package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/broker"
	"github.com/tradewerk/broker-router/internal/router"
)

// Coordinator owns the submit -> retry -> failover -> audit lifecycle.
// Orders are independent: each Execute call runs its own state machine and
// backoff for one order never blocks another. All per-order mutation is
// local to the call; shared maps are only touched under the mutex.
type Coordinator struct {
	registry *broker.Registry
	router   *router.Router
	auditLog audit.Logger
	policy   Policy

	// sleep is injectable so tests can run backoff without wall time.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	states map[string]State
}

// NewCoordinator creates an execution coordinator.
func NewCoordinator(registry *broker.Registry, r *router.Router, auditLog audit.Logger, policy Policy) *Coordinator {
	return &Coordinator{
		registry: registry,
		router:   r,
		auditLog: auditLog,
		policy:   policy,
		sleep:    sleepCtx,
		states:   make(map[string]State),
	}
}

// Status returns the current state of an order. Callers never see partial
// state: an order is either terminal or explicitly pending/retrying here.
func (c *Coordinator) Status(orderID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[orderID]
	return s, ok
}

func (c *Coordinator) setState(orderID string, s State) {
	c.mu.Lock()
	c.states[orderID] = s
	c.mu.Unlock()
}

// Execute runs the order through its route until a terminal state.
// Cancelling ctx between retries moves the order to Cancelled and
// suppresses further retries and failover.
func (c *Coordinator) Execute(ctx context.Context, order Order) Result {
	c.setState(order.ID, StatePending)

	route, err := c.router.Route(order.AssetClass)
	if err != nil {
		c.setState(order.ID, StateRejected)
		c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateRejected),
			fmt.Sprintf("no route for asset class %s", order.AssetClass))
		return Result{OrderID: order.ID, State: StateRejected, Reason: err.Error()}
	}

	var attempts []ExecutionAttempt
	rejectedEverywhere := true

routeLoop:
	for brokerIdx, brokerID := range route {
		adapter, cfg, err := c.registry.Get(brokerID)
		if err != nil {
			// Registry and router disagree only across a reconfiguration;
			// treat the broker as unavailable and move on.
			rejectedEverywhere = false
			continue
		}

		maxRetries := cfg.MaxRetries
		if maxRetries < 1 {
			maxRetries = 1
		}

		for attemptNo := 1; attemptNo <= maxRetries; attemptNo++ {
			if err := ctx.Err(); err != nil {
				return c.cancelled(order, attempts)
			}

			c.setState(order.ID, StateSubmitting)
			attempt := ExecutionAttempt{
				OrderID:       order.ID,
				BrokerID:      brokerID,
				AttemptNumber: attemptNo,
				StartedAt:     time.Now().UTC(),
				Outcome:       OutcomePending,
			}
			c.auditAttempt(attempt)

			outcome, result, detail := c.submitOnce(ctx, adapter, cfg, order)
			attempt.Outcome = outcome
			attempt.ErrorDetail = detail
			attempts = append(attempts, attempt)
			c.auditAttempt(attempt)

			switch outcome {
			case OutcomeFilled:
				c.setState(order.ID, StateFilled)
				c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateFilled),
					fmt.Sprintf("broker=%s broker_order=%s", brokerID, result.BrokerOrderID))
				return Result{
					OrderID:       order.ID,
					State:         StateFilled,
					BrokerID:      brokerID,
					BrokerOrderID: result.BrokerOrderID,
					Attempts:      attempts,
				}

			case OutcomeRejected:
				// Business rejection: retrying on the same broker is
				// meaningless. Fail over only if policy allows it.
				if c.policy.AutoFailover && c.policy.FailoverOnReject && brokerIdx < len(route)-1 {
					c.setState(order.ID, StateFailingOver)
					c.auditLog.Append("executor", audit.ActionOrderAttempt, order.ID, string(StateFailingOver),
						fmt.Sprintf("rejected by %s: %s", brokerID, result.Reason))
					continue routeLoop
				}
				c.setState(order.ID, StateRejected)
				c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateRejected),
					fmt.Sprintf("broker=%s reason=%s", brokerID, result.Reason))
				return Result{
					OrderID:  order.ID,
					State:    StateRejected,
					BrokerID: brokerID,
					Reason:   result.Reason,
					Attempts: attempts,
				}

			case OutcomeUnavailable, OutcomeTimeout:
				rejectedEverywhere = false
				if attemptNo < maxRetries {
					c.setState(order.ID, StateRetrying)
					// Linear backoff: retry_delay scales with the attempt
					// number just completed.
					delay := cfg.RetryDelay * time.Duration(attemptNo)
					c.auditLog.Append("executor", audit.ActionOrderAttempt, order.ID, string(StateRetrying),
						fmt.Sprintf("broker=%s attempt=%d backoff=%s", brokerID, attemptNo, delay))
					if err := c.sleep(ctx, delay); err != nil {
						return c.cancelled(order, attempts)
					}
					continue
				}
				// Retries on this broker exhausted.
				if c.policy.AutoFailover && brokerIdx < len(route)-1 {
					c.setState(order.ID, StateFailingOver)
					c.auditLog.Append("executor", audit.ActionOrderAttempt, order.ID, string(StateFailingOver),
						fmt.Sprintf("retries exhausted on %s", brokerID))
					continue routeLoop
				}
				c.setState(order.ID, StateExhausted)
				c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateExhausted),
					fmt.Sprintf("retries exhausted on %s, no failover", brokerID))
				return Result{
					OrderID:  order.ID,
					State:    StateExhausted,
					BrokerID: brokerID,
					Reason:   detail,
					Attempts: attempts,
				}
			}
		}
	}

	// Every broker in the route rejected the order.
	if rejectedEverywhere && len(attempts) > 0 {
		c.setState(order.ID, StateRejected)
		c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateRejected),
			"rejected by every broker in route")
		return Result{
			OrderID:  order.ID,
			State:    StateRejected,
			Reason:   "rejected by every broker in route",
			Attempts: attempts,
		}
	}

	c.setState(order.ID, StateExhausted)
	c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateExhausted), "route exhausted")
	return Result{
		OrderID:  order.ID,
		State:    StateExhausted,
		Reason:   "route exhausted",
		Attempts: attempts,
	}
}

// submitOnce performs a single adapter call under the per-broker timeout.
// Transport and vault faults are folded into broker_unavailable; a timeout
// is reported separately for the audit trail but handled identically.
func (c *Coordinator) submitOnce(ctx context.Context, adapter broker.Broker, cfg broker.Config, order Order) (AttemptOutcome, broker.SubmitResult, string) {
	callCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result, err := adapter.SubmitOrder(callCtx, broker.OrderRequest{
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		AssetClass:  order.AssetClass,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Notional:    order.Notional,
		OrderType:   order.OrderType,
		LimitPrice:  order.LimitPrice,
		TimeInForce: order.TimeInForce,
		StrategyID:  order.StrategyID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return OutcomeTimeout, broker.SubmitResult{}, fmt.Sprintf("timeout after %s", cfg.Timeout)
		}
		return OutcomeUnavailable, broker.SubmitResult{}, err.Error()
	}

	switch result.Status {
	case broker.SubmitAccepted:
		return OutcomeFilled, result, ""
	case broker.SubmitRejected:
		return OutcomeRejected, result, result.Reason
	default:
		return OutcomeUnavailable, result, result.Reason
	}
}

func (c *Coordinator) cancelled(order Order, attempts []ExecutionAttempt) Result {
	c.setState(order.ID, StateCancelled)
	c.auditLog.Append("executor", audit.ActionOrderResult, order.ID, string(StateCancelled), "cancelled by caller")
	return Result{OrderID: order.ID, State: StateCancelled, Reason: "cancelled by caller", Attempts: attempts}
}

func (c *Coordinator) auditAttempt(a ExecutionAttempt) {
	c.auditLog.Append("executor", audit.ActionOrderAttempt, a.OrderID, string(a.Outcome),
		fmt.Sprintf("broker=%s attempt=%d detail=%s", a.BrokerID, a.AttemptNumber, a.ErrorDetail))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
