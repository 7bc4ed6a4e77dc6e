// Package orchestrator ties the risk engine, router, and execution
// coordinator into the single surface the strategy layer talks to.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tradewerk/broker-router/internal/anomaly"
	"github.com/tradewerk/broker-router/internal/broker"
	"github.com/tradewerk/broker-router/internal/executor"
	"github.com/tradewerk/broker-router/internal/monitoring"
	"github.com/tradewerk/broker-router/internal/notifications"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/stress"
)

// Proposal is a strategy's order intent before risk gating.
type Proposal struct {
	StrategyID        string
	Symbol            string
	AssetClass        broker.AssetClass
	Side              broker.Side
	RequestedNotional float64
	RequestedQuantity float64
}

// Service is the strategy-facing orchestration layer. Proposals run
// through risk gating, then routing and execution; breaker breaches come
// back through the unwind path and re-enter execution here.
type Service struct {
	registry    *broker.Registry
	coordinator *executor.Coordinator
	riskEngine  *risk.Engine
	monitor     *anomaly.Monitor
	stressEng   *stress.Engine
	health      *monitoring.HealthChecker
	notifier    notifications.Notifier

	// evaluateEvery is the anomaly evaluation window length.
	evaluateEvery time.Duration

	mu      sync.RWMutex
	running bool
}

// NewService wires the orchestration layer. stressEng and health may be
// nil in tests.
func NewService(
	registry *broker.Registry,
	coordinator *executor.Coordinator,
	riskEngine *risk.Engine,
	monitor *anomaly.Monitor,
	stressEng *stress.Engine,
	health *monitoring.HealthChecker,
	evaluateEvery time.Duration,
) *Service {
	if evaluateEvery <= 0 {
		evaluateEvery = time.Minute
	}
	s := &Service{
		registry:      registry,
		coordinator:   coordinator,
		riskEngine:    riskEngine,
		monitor:       monitor,
		stressEng:     stressEng,
		health:        health,
		evaluateEvery: evaluateEvery,
	}
	riskEngine.SetUnwindHandler(s.handleUnwind)
	return s
}

// SetNotifier registers an optional alert channel for breaker breaches
// and exhausted routes.
func (s *Service) SetNotifier(n notifications.Notifier) {
	s.notifier = n
}

func (s *Service) alert(level notifications.Level, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendAlert(level, message); err != nil {
		log.Printf("Failed to send alert: %v", err)
	}
}

// SubmitProposal runs a strategy proposal through risk gating and, if
// approved, through routing and execution. Reserved allocation is
// released when the order ends anywhere but Filled.
func (s *Service) SubmitProposal(ctx context.Context, p Proposal) (executor.Result, error) {
	sizing, err := s.riskEngine.ProposeOrder(risk.Proposal{
		StrategyID:        p.StrategyID,
		Symbol:            p.Symbol,
		RequestedNotional: p.RequestedNotional,
		RequestedQuantity: p.RequestedQuantity,
	})
	if err != nil {
		monitoring.RecordOrder(string(p.AssetClass), "risk_rejected")
		return executor.Result{}, err
	}

	order := executor.NewOrder(p.StrategyID, p.Symbol, p.AssetClass, p.Side, sizing.ApprovedQuantity, sizing.ApprovedNotional)
	result := s.coordinator.Execute(ctx, order)

	if result.State != executor.StateFilled {
		s.riskEngine.ReleaseAllocation(p.StrategyID, sizing.ApprovedNotional)
	}

	monitoring.RecordOrder(string(p.AssetClass), string(result.State))
	for _, attempt := range result.Attempts {
		monitoring.RecordAttempt(attempt.BrokerID, string(attempt.Outcome))
	}
	if result.State == executor.StateExhausted {
		s.alert(notifications.LevelWarning, fmt.Sprintf("Order %s exhausted its route: %s", result.OrderID, result.Reason))
	}
	if s.health != nil {
		s.health.RecordOrder()
	}

	return result, nil
}

// RecordTrade settles realized PnL into the risk engine and triggers a
// stress run on the changed allocation.
func (s *Service) RecordTrade(strategyID string, pnl float64) {
	s.riskEngine.RecordTrade(strategyID, pnl)
	if s.stressEng != nil {
		s.stressEng.Run("allocation_change")
	}
}

// Start runs the telemetry and anomaly-evaluation loop until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.evaluateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.monitor.Evaluate()
			s.publishTelemetry()
		}
	}
}

func (s *Service) publishTelemetry() {
	snap := s.riskEngine.Snapshot()
	band := s.monitor.Band()

	monitoring.UpdateRiskMode(snap.Mode.Severity())
	monitoring.UpdateBreakers(len(snap.Breakers))
	monitoring.UpdateExposure(s.riskEngine.Exposure())
	monitoring.UpdateAnomaly(bandSeverity(band), len(s.monitor.LiveEvents()))

	if s.health != nil {
		s.health.SetRiskState(string(snap.Mode), string(band))
	}
}

// handleUnwind executes a forced partial unwind by selling the most
// losing positions first, delegated back through the normal execution
// path so every unwind order is routed, retried, and audited like any
// other.
func (s *Service) handleUnwind(req risk.ForceUnwindRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	positions := s.collectPositions(ctx)
	if len(positions) == 0 {
		log.Printf("unwind requested (scope=%s) but no open positions found", req.Scope)
		return
	}

	// Largest loss first: the figure that tripped the breaker falls fastest.
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].pos.UnrealizedPnL < positions[j].pos.UnrealizedPnL
	})

	var total float64
	for _, p := range positions {
		total += p.pos.MarketValue
	}
	target := total * req.ReducePct

	var unwound float64
	for _, p := range positions {
		if unwound >= target {
			break
		}
		order := executor.NewOrder("risk-unwind", p.pos.Symbol, p.class, broker.SideSell, p.pos.Quantity, p.pos.MarketValue)
		result := s.coordinator.Execute(ctx, order)
		if result.State == executor.StateFilled {
			unwound += p.pos.MarketValue
		} else {
			log.Printf("unwind order for %s ended %s: %s", p.pos.Symbol, result.State, result.Reason)
		}
	}

	if s.stressEng != nil {
		s.stressEng.Run("breaker_breach")
	}
	s.alert(notifications.LevelCritical, fmt.Sprintf("Circuit breaker (%s) breached: unwound %.2f of %.2f targeted", req.Scope, unwound, target))
	log.Printf("unwind (scope=%s) reduced %.2f of %.2f targeted", req.Scope, unwound, target)
}

type classedPosition struct {
	pos   broker.Position
	class broker.AssetClass
}

// collectPositions gathers open positions from every enabled broker,
// tagged with the first asset class each broker serves so unwind orders
// route back through the same class.
func (s *Service) collectPositions(ctx context.Context) []classedPosition {
	var out []classedPosition
	for _, cfg := range s.registry.Configs() {
		if !cfg.Enabled || len(cfg.AssetClasses) == 0 {
			continue
		}
		adapter, _, err := s.registry.Get(cfg.ID)
		if err != nil {
			continue
		}
		state, err := adapter.GetAccountState(ctx)
		if err != nil {
			log.Printf("unwind: account state from %s unavailable: %v", cfg.ID, err)
			continue
		}
		for _, pos := range state.Positions {
			if pos.Quantity <= 0 {
				continue
			}
			out = append(out, classedPosition{pos: pos, class: cfg.AssetClasses[0]})
		}
	}
	return out
}

func bandSeverity(b anomaly.Band) int {
	switch b {
	case anomaly.BandMinimal:
		return 0
	case anomaly.BandModerate:
		return 1
	case anomaly.BandHigh:
		return 2
	case anomaly.BandCritical:
		return 3
	default:
		return 0
	}
}

// String implements fmt.Stringer for proposals in logs.
func (p Proposal) String() string {
	return fmt.Sprintf("%s %s %s %.2f", p.StrategyID, p.Side, p.Symbol, p.RequestedNotional)
}
