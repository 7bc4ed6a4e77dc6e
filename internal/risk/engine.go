package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/tradewerk/broker-router/internal/audit"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// Engine is the process-wide risk state and its gatekeeper. All mutation
// runs under a single writer lock; readers get copy-on-read snapshots so a
// transition can never be observed half-applied.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	mode             Mode
	regime           Regime
	newTradesAllowed bool

	breakers    map[BreakerScope]Breaker
	losses      map[BreakerScope]float64
	windowStart map[BreakerScope]time.Time

	equity     float64
	peakEquity float64

	allocations map[string]float64

	auditLog      audit.Logger
	unwindHandler func(ForceUnwindRequest)
	now           func() time.Time
}

// NewEngine creates a risk engine in normal mode with the given starting
// equity.
func NewEngine(cfg Config, startingEquity float64, auditLog audit.Logger) *Engine {
	if cfg.ModeModifiers == nil {
		cfg.ModeModifiers = DefaultConfig().ModeModifiers
	}
	if cfg.RegimeFactors == nil {
		cfg.RegimeFactors = DefaultConfig().RegimeFactors
	}
	if cfg.DefaultAllocation <= 0 {
		cfg.DefaultAllocation = DefaultConfig().DefaultAllocation
	}

	return &Engine{
		cfg:              cfg,
		mode:             ModeNormal,
		regime:           RegimeNeutral,
		newTradesAllowed: true,
		breakers:         make(map[BreakerScope]Breaker),
		losses:           make(map[BreakerScope]float64),
		windowStart:      make(map[BreakerScope]time.Time),
		equity:           startingEquity,
		peakEquity:       startingEquity,
		allocations:      make(map[string]float64),
		auditLog:         auditLog,
		now:              time.Now,
	}
}

// SetUnwindHandler registers the outward channel for forced partial
// unwind requests. The engine never executes unwinds itself.
func (e *Engine) SetUnwindHandler(h func(ForceUnwindRequest)) {
	e.mu.Lock()
	e.unwindHandler = h
	e.mu.Unlock()
}

// ProposeOrder runs the pre-trade pipeline, short-circuiting on the first
// failure: lockdown, breaker cooldowns, allocation cap, then sizing. On
// success the approved notional is reserved against the strategy's
// allocation.
func (e *Engine) ProposeOrder(p Proposal) (SizingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	subject := fmt.Sprintf("%s/%s", p.StrategyID, p.Symbol)

	// 1. Lockdown: nothing trades.
	if e.mode == ModeLockdown || !e.newTradesAllowed {
		e.auditLog.Append("risk", audit.ActionOrderProposed, subject, "rejected", "risk mode lockdown")
		return SizingResult{}, routererrors.NewValidationError("risk", "propose_order",
			"new trades not allowed: risk mode is lockdown")
	}

	// 2. Any breaker still in cooldown blocks new trades.
	for scope, b := range e.breakers {
		if b.Active(now) {
			e.auditLog.Append("risk", audit.ActionOrderProposed, subject, "rejected",
				fmt.Sprintf("circuit breaker %s active until %s", scope, b.CooldownUntil.Format(time.RFC3339)))
			return SizingResult{}, routererrors.NewValidationError("risk", "propose_order",
				fmt.Sprintf("circuit breaker %s active", scope))
		}
	}

	// 3. Strategy allocation cap.
	maxAlloc := e.allocationCap(p.StrategyID)
	current := e.allocations[p.StrategyID]
	if current+p.RequestedNotional > maxAlloc {
		e.auditLog.Append("risk", audit.ActionOrderProposed, subject, "rejected",
			fmt.Sprintf("allocation cap: current %.2f + requested %.2f > max %.2f", current, p.RequestedNotional, maxAlloc))
		return SizingResult{}, routererrors.NewValidationError("risk", "propose_order",
			fmt.Sprintf("allocation cap exceeded for strategy %s", p.StrategyID))
	}

	// 4. Volatility-scaled position sizing. A zero result is a rejection,
	// never a zero-quantity accepted order.
	modifier := e.sizeModifier()
	approved := p.RequestedNotional * modifier
	if approved <= 0 {
		e.auditLog.Append("risk", audit.ActionOrderProposed, subject, "rejected",
			fmt.Sprintf("sized to zero: regime=%s mode=%s", e.regime, e.mode))
		return SizingResult{}, routererrors.NewValidationError("risk", "propose_order",
			"position sized to zero")
	}

	e.allocations[p.StrategyID] = current + approved
	e.auditLog.Append("risk", audit.ActionOrderProposed, subject, "approved",
		fmt.Sprintf("modifier=%.2f approved=%.2f", modifier, approved))

	return SizingResult{
		SizeModifier:     modifier,
		ApprovedNotional: approved,
		ApprovedQuantity: p.RequestedQuantity * modifier,
	}, nil
}

// ReleaseAllocation returns reserved notional after an order fails to
// execute or a position closes.
func (e *Engine) ReleaseAllocation(strategyID string, notional float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocations[strategyID] -= notional
	if e.allocations[strategyID] < 0 {
		e.allocations[strategyID] = 0
	}
}

// RecordTrade applies a settled trade's realized PnL to equity and the
// trailing loss windows, then evaluates circuit breakers.
func (e *Engine) RecordTrade(strategyID string, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.rollWindows(now)

	e.equity += pnl
	if e.equity > e.peakEquity {
		e.peakEquity = e.equity
	}
	if pnl < 0 {
		loss := -pnl
		e.losses[ScopeDaily] += loss
		e.losses[ScopeWeekly] += loss
		e.losses[ScopeMonthly] += loss
	}

	e.evaluateBreakers(now)
}

// MarkToMarket applies a mark-to-market equity figure and evaluates
// breakers, without touching trailing realized-loss windows.
func (e *Engine) MarkToMarket(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.equity = equity
	if e.equity > e.peakEquity {
		e.peakEquity = e.equity
	}
	e.evaluateBreakers(e.now())
}

// SetMode transitions the global risk mode. Serialized with every other
// state change; the transition is audited with its reason.
func (e *Engine) SetMode(mode Mode, allowNewTrades bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == mode && e.newTradesAllowed == allowNewTrades {
		return
	}

	from := e.mode
	e.mode = mode
	e.newTradesAllowed = allowNewTrades && mode != ModeLockdown

	e.auditLog.Append("risk", audit.ActionRiskTransition,
		fmt.Sprintf("%s->%s", from, mode), "applied", reason)
}

// SetRegime updates the detected market regime used for sizing.
func (e *Engine) SetRegime(regime Regime) {
	e.mu.Lock()
	e.regime = regime
	e.mu.Unlock()
}

// Mode returns the current risk mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Exposure returns the total reserved notional across strategies.
func (e *Engine) Exposure() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0.0
	for _, n := range e.allocations {
		total += n
	}
	return total
}

// Snapshot returns a consistent copy of the risk state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	snap := Snapshot{
		Mode:             e.mode,
		Regime:           e.regime,
		NewTradesAllowed: e.newTradesAllowed,
		TrailingLosses:   make(map[BreakerScope]float64, len(e.losses)),
		Equity:           e.equity,
		PeakEquity:       e.peakEquity,
		Allocations:      make(map[string]float64, len(e.allocations)),
		AsOf:             now,
	}
	for scope, loss := range e.losses {
		snap.TrailingLosses[scope] = loss
	}
	for id, n := range e.allocations {
		snap.Allocations[id] = n
	}
	for _, b := range e.breakers {
		if b.Active(now) {
			snap.Breakers = append(snap.Breakers, b)
		}
	}
	return snap
}

// sizeModifier combines the regime factor with the risk-mode modifier.
// Caller holds the lock.
func (e *Engine) sizeModifier() float64 {
	regimeFactor, ok := e.cfg.RegimeFactors[e.regime]
	if !ok {
		regimeFactor = 1.0
	}
	modeModifier, ok := e.cfg.ModeModifiers[e.mode]
	if !ok {
		modeModifier = 1.0
	}

	modifier := regimeFactor * modeModifier
	if modifier < 0 {
		modifier = 0
	}
	if modifier > 1 {
		modifier = 1
	}
	return modifier
}

func (e *Engine) allocationCap(strategyID string) float64 {
	if maxAlloc, ok := e.cfg.MaxAllocation[strategyID]; ok {
		return maxAlloc
	}
	return e.cfg.DefaultAllocation
}

// rollWindows resets trailing losses whose calendar window has turned
// over. Caller holds the lock.
func (e *Engine) rollWindows(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if start, ok := e.windowStart[ScopeDaily]; !ok || day.After(start) {
		e.windowStart[ScopeDaily] = day
		if ok {
			e.losses[ScopeDaily] = 0
		}
	}

	year, week := now.ISOWeek()
	weekKey := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (week-1)*7)
	if start, ok := e.windowStart[ScopeWeekly]; !ok || weekKey.After(start) {
		e.windowStart[ScopeWeekly] = weekKey
		if ok {
			e.losses[ScopeWeekly] = 0
		}
	}

	monthKey := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if start, ok := e.windowStart[ScopeMonthly]; !ok || monthKey.After(start) {
		e.windowStart[ScopeMonthly] = monthKey
		if ok {
			e.losses[ScopeMonthly] = 0
		}
	}
}

// evaluateBreakers compares each configured scope against its threshold
// and triggers breakers that crossed. Triggering is idempotent while a
// scope's cooldown is active; scopes are independent and multiple may be
// active at once. Caller holds the lock.
func (e *Engine) evaluateBreakers(now time.Time) {
	for _, cfg := range e.cfg.Breakers {
		if existing, ok := e.breakers[cfg.Scope]; ok && existing.Active(now) {
			continue
		}

		var metric float64
		switch cfg.Scope {
		case ScopeDrawdown:
			if e.peakEquity > 0 {
				metric = (e.peakEquity - e.equity) / e.peakEquity
			}
		default:
			metric = e.losses[cfg.Scope]
		}

		if metric < cfg.Threshold {
			continue
		}

		breaker := Breaker{
			Scope:         cfg.Scope,
			TriggeredAt:   now,
			CooldownUntil: now.AddDate(0, 0, cfg.CooldownDays),
		}
		e.breakers[cfg.Scope] = breaker

		e.auditLog.Append("risk", audit.ActionBreakerTrigger, string(cfg.Scope), "triggered",
			fmt.Sprintf("metric=%.4f threshold=%.4f cooldown_until=%s",
				metric, cfg.Threshold, breaker.CooldownUntil.Format(time.RFC3339)))

		if cfg.ReduceExposurePct > 0 && e.unwindHandler != nil {
			req := ForceUnwindRequest{
				Scope:     cfg.Scope,
				ReducePct: cfg.ReduceExposurePct,
				Policy:    UnwindPolicyLargestLossFirst,
			}
			e.auditLog.Append("risk", audit.ActionUnwindRequested, string(cfg.Scope), "emitted",
				fmt.Sprintf("reduce_pct=%.2f policy=%s", req.ReducePct, req.Policy))
			// Handler runs outside the lock path via goroutine so a slow
			// orchestrator cannot stall risk updates.
			go e.unwindHandler(req)
		}
	}
}
