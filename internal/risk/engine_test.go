package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewerk/broker-router/internal/audit"
)

func newTestEngine(cfg Config) (*Engine, *audit.Log) {
	log := audit.NewLog(128)
	e := NewEngine(cfg, 1_000_000, log)
	return e, log
}

// TestProposeOrder_NormalModeFullSize tests that normal mode with a 1.0
// regime factor approves the requested notional unchanged
func TestProposeOrder_NormalModeFullSize(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())

	result, err := e.ProposeOrder(Proposal{
		StrategyID:        "momentum-1",
		Symbol:            "AAPL",
		RequestedNotional: 10_000,
		RequestedQuantity: 50,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.SizeModifier)
	assert.Equal(t, 10_000.0, result.ApprovedNotional)
	assert.Equal(t, 50.0, result.ApprovedQuantity)
}

// TestProposeOrder_LockdownRejectsEverything tests the lockdown gate
func TestProposeOrder_LockdownRejectsEverything(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	e.SetMode(ModeLockdown, false, "flash crash detected")

	for _, notional := range []float64{1, 100, 1_000_000} {
		_, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: notional})
		assert.Error(t, err, "notional %.0f must be rejected in lockdown", notional)
	}

	// Stepping down re-opens trading.
	e.SetMode(ModeNormal, true, "recovered")
	_, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: 100})
	assert.NoError(t, err)
}

// TestProposeOrder_AllocationCap tests the per-strategy cap
func TestProposeOrder_AllocationCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAllocation = map[string]float64{"momentum-1": 15_000}
	e, _ := newTestEngine(cfg)

	_, err := e.ProposeOrder(Proposal{StrategyID: "momentum-1", Symbol: "AAPL", RequestedNotional: 10_000})
	require.NoError(t, err)

	// Current 10k + requested 10k exceeds the 15k cap.
	_, err = e.ProposeOrder(Proposal{StrategyID: "momentum-1", Symbol: "MSFT", RequestedNotional: 10_000})
	assert.Error(t, err)

	// Releasing the reservation restores headroom.
	e.ReleaseAllocation("momentum-1", 10_000)
	_, err = e.ProposeOrder(Proposal{StrategyID: "momentum-1", Symbol: "MSFT", RequestedNotional: 10_000})
	assert.NoError(t, err)
}

// TestProposeOrder_ZeroSizingRejects tests that sizing to zero is a reject
func TestProposeOrder_ZeroSizingRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegimeFactors[RegimeVolatile] = 0.0
	e, _ := newTestEngine(cfg)
	e.SetRegime(RegimeVolatile)

	_, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: 10_000})
	assert.Error(t, err, "zero-sized order must reject, not fill with zero quantity")
}

// TestProposeOrder_SizingCombinesRegimeAndMode tests the modifier product
func TestProposeOrder_SizingCombinesRegimeAndMode(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	e.SetRegime(RegimeBearish) // 0.6
	e.SetMode(ModeDefensive, true, "elevated volatility") // 0.5

	result, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: 10_000})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, result.SizeModifier, 1e-9)
	assert.InDelta(t, 3_000, result.ApprovedNotional, 1e-6)
}

// TestRecordTrade_DailyBreakerCooldown tests threshold crossing and the
// exact cooldown arithmetic
func TestRecordTrade_DailyBreakerCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breakers = []BreakerConfig{
		{Scope: ScopeDaily, Threshold: 5_000, CooldownDays: 2, ReduceExposurePct: 0.5},
	}
	e, log := newTestEngine(cfg)

	frozen := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return frozen }

	unwinds := make(chan ForceUnwindRequest, 1)
	e.SetUnwindHandler(func(req ForceUnwindRequest) { unwinds <- req })

	e.RecordTrade("s", -6_000)

	snap := e.Snapshot()
	require.Len(t, snap.Breakers, 1)
	assert.Equal(t, ScopeDaily, snap.Breakers[0].Scope)
	assert.Equal(t, frozen, snap.Breakers[0].TriggeredAt)
	assert.Equal(t, frozen.AddDate(0, 0, 2), snap.Breakers[0].CooldownUntil)

	select {
	case req := <-unwinds:
		assert.Equal(t, ScopeDaily, req.Scope)
		assert.Equal(t, 0.5, req.ReducePct)
		assert.Equal(t, UnwindPolicyLargestLossFirst, req.Policy)
	case <-time.After(time.Second):
		t.Fatal("expected an unwind request")
	}

	// New trades blocked while the cooldown runs.
	_, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: 100})
	assert.Error(t, err)

	// Further losses in the same scope do not re-trigger during cooldown.
	before := countBreakerTriggers(log)
	e.RecordTrade("s", -6_000)
	assert.Equal(t, before, countBreakerTriggers(log), "triggering must be idempotent during cooldown")
}

// TestRecordTrade_ScopesIndependent tests simultaneous breaker scopes
func TestRecordTrade_ScopesIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breakers = []BreakerConfig{
		{Scope: ScopeDaily, Threshold: 1_000, CooldownDays: 1},
		{Scope: ScopeWeekly, Threshold: 5_000, CooldownDays: 5},
	}
	e, _ := newTestEngine(cfg)

	e.RecordTrade("s", -2_000)
	snap := e.Snapshot()
	require.Len(t, snap.Breakers, 1)
	assert.Equal(t, ScopeDaily, snap.Breakers[0].Scope)

	e.RecordTrade("s", -4_000)
	snap = e.Snapshot()
	assert.Len(t, snap.Breakers, 2)
}

// TestMarkToMarket_DrawdownBreaker tests the drawdown-from-peak scope
func TestMarkToMarket_DrawdownBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breakers = []BreakerConfig{
		{Scope: ScopeDrawdown, Threshold: 0.10, CooldownDays: 3},
	}
	e, _ := newTestEngine(cfg)

	e.MarkToMarket(1_200_000) // new peak
	e.MarkToMarket(1_150_000) // ~4% drawdown, below threshold
	assert.Empty(t, e.Snapshot().Breakers)

	e.MarkToMarket(1_050_000) // 12.5% drawdown from peak
	snap := e.Snapshot()
	require.Len(t, snap.Breakers, 1)
	assert.Equal(t, ScopeDrawdown, snap.Breakers[0].Scope)
}

// TestSnapshot_CopyOnRead tests that snapshots do not alias engine state
func TestSnapshot_CopyOnRead(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	_, err := e.ProposeOrder(Proposal{StrategyID: "s", Symbol: "AAPL", RequestedNotional: 1_000})
	require.NoError(t, err)

	snap := e.Snapshot()
	snap.Allocations["s"] = 999_999
	snap.TrailingLosses[ScopeDaily] = 999_999

	fresh := e.Snapshot()
	assert.Equal(t, 1_000.0, fresh.Allocations["s"])
	assert.Zero(t, fresh.TrailingLosses[ScopeDaily])
}

// TestSetMode_Audited tests that risk transitions hit the audit log
func TestSetMode_Audited(t *testing.T) {
	e, log := newTestEngine(DefaultConfig())

	e.SetMode(ModeCautious, true, "moderate anomaly")
	e.SetMode(ModeCautious, true, "moderate anomaly") // no-op, not re-audited

	var transitions int
	for _, rec := range log.Recent() {
		if rec.Action == audit.ActionRiskTransition {
			transitions++
			assert.Equal(t, "normal->cautious", rec.Subject)
		}
	}
	assert.Equal(t, 1, transitions)
}

func countBreakerTriggers(log *audit.Log) int {
	n := 0
	for _, rec := range log.Recent() {
		if rec.Action == audit.ActionBreakerTrigger {
			n++
		}
	}
	return n
}
