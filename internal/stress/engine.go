// Package stress runs shock scenarios against the current risk exposure.
// Results are advisory, but a scenario breaching the critical threshold is
// fed back into the anomaly monitor so stress findings actually gate
// trading instead of sitting in a report.
package stress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tradewerk/broker-router/internal/anomaly"
	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/risk"
)

// Scenario is one market/volatility shock pair.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// MarketShockPct is the assumed adverse market move, e.g. -0.20 for a
	// 20% drop. Sign is ignored; shocks are always applied adversely.
	MarketShockPct float64 `json:"market_shock_pct" yaml:"market_shock_pct"`
	// VolShockPct scales the loss for the volatility regime the shock
	// would create, e.g. 0.5 for vol up 50%.
	VolShockPct float64 `json:"vol_shock_pct" yaml:"vol_shock_pct"`
}

// Result is the projected impact of one scenario at one point in time.
type Result struct {
	Scenario         Scenario  `json:"scenario"`
	Exposure         float64   `json:"exposure"`
	Equity           float64   `json:"equity"`
	ProjectedLoss    float64   `json:"projected_loss"`
	ProjectedLossPct float64   `json:"projected_loss_pct"`
	Critical         bool      `json:"critical"`
	Trigger          string    `json:"trigger"`
	RanAt            time.Time `json:"ran_at"`
}

// Config holds the scenario set and scheduling knobs.
type Config struct {
	Scenarios []Scenario    `json:"scenarios" yaml:"scenarios"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	// CriticalLossPct is the projected-loss fraction of equity above which
	// a scenario result is escalated into the anomaly monitor.
	CriticalLossPct float64 `json:"critical_loss_pct" yaml:"critical_loss_pct"`
}

// DefaultConfig returns a small standard scenario battery.
func DefaultConfig() Config {
	return Config{
		Scenarios: []Scenario{
			{Name: "correction", MarketShockPct: -0.10, VolShockPct: 0.3},
			{Name: "crash", MarketShockPct: -0.25, VolShockPct: 0.8},
			{Name: "vol_explosion", MarketShockPct: -0.05, VolShockPct: 2.0},
		},
		Interval:        30 * 24 * time.Hour,
		CriticalLossPct: 0.15,
	}
}

// StateSource is the read-only slice of the risk engine the stress engine
// consumes.
type StateSource interface {
	Snapshot() risk.Snapshot
	Exposure() float64
}

// AnomalySink receives synthetic anomalies for critical scenario results.
type AnomalySink interface {
	Observe(anomalyType anomaly.Type, score float64) string
}

// Engine evaluates the configured scenarios on a schedule and on demand.
type Engine struct {
	cfg      Config
	state    StateSource
	sink     AnomalySink
	auditLog audit.Logger
	now      func() time.Time

	mu   sync.Mutex
	last []Result
}

// NewEngine creates a stress engine. sink may be nil when escalation is
// not wanted (e.g. offline reporting runs).
func NewEngine(cfg Config, state StateSource, sink AnomalySink, auditLog audit.Logger) *Engine {
	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = DefaultConfig().Scenarios
	}
	if cfg.CriticalLossPct <= 0 {
		cfg.CriticalLossPct = DefaultConfig().CriticalLossPct
	}
	return &Engine{
		cfg:      cfg,
		state:    state,
		sink:     sink,
		auditLog: auditLog,
		now:      time.Now,
	}
}

// Run evaluates every scenario against the current exposure. trigger names
// what prompted the run ("scheduled", "breaker_breach", "allocation_change").
func (e *Engine) Run(trigger string) []Result {
	snap := e.state.Snapshot()
	exposure := e.state.Exposure()
	ranAt := e.now()

	results := make([]Result, 0, len(e.cfg.Scenarios))
	for _, sc := range e.cfg.Scenarios {
		loss := projectedLoss(exposure, sc)

		lossPct := 0.0
		if snap.Equity > 0 {
			lossPct = loss / snap.Equity
		}

		r := Result{
			Scenario:         sc,
			Exposure:         exposure,
			Equity:           snap.Equity,
			ProjectedLoss:    loss,
			ProjectedLossPct: lossPct,
			Critical:         lossPct >= e.cfg.CriticalLossPct,
			Trigger:          trigger,
			RanAt:            ranAt,
		}
		results = append(results, r)

		outcome := "ok"
		if r.Critical {
			outcome = "critical"
		}
		e.auditLog.Append("stress", audit.ActionStressResult, sc.Name, outcome,
			fmt.Sprintf("trigger=%s projected_loss=%.2f loss_pct=%.4f", trigger, loss, lossPct))

		if r.Critical && e.sink != nil {
			// Escalate as a synthetic high-severity anomaly so the monitor
			// de-risks on stress findings, not only on market telemetry.
			e.sink.Observe(anomaly.TypeStressProjected, escalationScore(lossPct, e.cfg.CriticalLossPct))
		}
	}

	e.mu.Lock()
	e.last = results
	e.mu.Unlock()

	return results
}

// Start runs the scenario battery on the configured interval until ctx is
// cancelled. Triggered runs via Run remain available concurrently.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Run("scheduled")
		}
	}
}

// LastResults returns a copy of the most recent scenario battery.
func (e *Engine) LastResults() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.last))
	copy(out, e.last)
	return out
}

// projectedLoss applies the market shock to the open exposure, amplified
// by the volatility shock.
func projectedLoss(exposure float64, sc Scenario) float64 {
	return exposure * math.Abs(sc.MarketShockPct) * (1 + math.Abs(sc.VolShockPct))
}

// escalationScore maps how far past the critical threshold a result landed
// onto an anomaly score in the high band, saturating below critical so a
// stress finding alone never fabricates a flash-crash-level lockdown.
func escalationScore(lossPct, criticalPct float64) float64 {
	score := 0.5 + 0.3*(lossPct-criticalPct)/criticalPct
	if score > 0.84 {
		score = 0.84
	}
	if score < 0.5 {
		score = 0.5
	}
	return score
}
