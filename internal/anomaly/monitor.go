// Package anomaly turns a stream of market anomaly events into severity
// bands and drives the risk engine's mode accordingly.
package anomaly

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/risk"
)

// Type labels the kind of anomaly the upstream detector observed.
type Type string

const (
	TypePriceSpike      Type = "price_spike"
	TypeSpreadWidening  Type = "spread_widening"
	TypeVolumeSpike     Type = "volume_spike"
	TypeFlashCrash      Type = "flash_crash"
	TypeStressProjected Type = "stress_projected"
	TypeOther           Type = "other"
)

// Band is the severity band the monitor currently sits in.
type Band string

const (
	BandMinimal  Band = "minimal"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// severityRank orders bands from least to most severe.
func severityRank(b Band) int {
	switch b {
	case BandMinimal:
		return 0
	case BandModerate:
		return 1
	case BandHigh:
		return 2
	case BandCritical:
		return 3
	default:
		return 0
	}
}

// BandOf maps a raw anomaly score onto a severity band. Scores between the
// high and critical cutoffs stay in the high band; only a score at or above
// the critical cutoff escalates to critical.
func BandOf(score float64) Band {
	switch {
	case score >= 0.85:
		return BandCritical
	case score >= 0.5:
		return BandHigh
	case score >= 0.3:
		return BandModerate
	default:
		return BandMinimal
	}
}

// Event is one live anomaly observation. Resolved events no longer
// contribute to the severity band.
type Event struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Score      float64    `json:"score"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// liveEvent tracks how the fire-and-forget telemetry stream keeps an
// event alive: a matching Observe marks it seen, and each Evaluate
// window without one brings it closer to auto-resolution.
type liveEvent struct {
	Event
	seenThisWindow bool
	unseenWindows  int
}

// BandPolicy is the response tuple a severity band maps to.
type BandPolicy struct {
	RiskMode         risk.Mode `json:"risk_mode" yaml:"risk_mode"`
	SizeModifier     float64   `json:"size_modifier" yaml:"size_modifier"`
	CooldownMinutes  int       `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	StopLossModifier float64   `json:"stop_loss_modifier" yaml:"stop_loss_modifier"`
	NewTradesAllowed bool      `json:"new_trades_allowed" yaml:"new_trades_allowed"`
}

// Config holds the monitor's band policies and recovery behavior.
type Config struct {
	Policies map[Band]BandPolicy `json:"policies" yaml:"policies"`
	// MonitorPeriods is how many consecutive clean evaluation windows must
	// pass before severity may step down.
	MonitorPeriods int `json:"monitor_periods" yaml:"monitor_periods"`
	// Gradual steps severity down one band per recovery instead of
	// returning directly to minimal.
	Gradual bool `json:"gradual" yaml:"gradual"`
}

// DefaultConfig maps bands onto progressively defensive policies.
func DefaultConfig() Config {
	return Config{
		Policies: map[Band]BandPolicy{
			BandMinimal:  {RiskMode: risk.ModeNormal, SizeModifier: 1.0, CooldownMinutes: 0, StopLossModifier: 1.0, NewTradesAllowed: true},
			BandModerate: {RiskMode: risk.ModeCautious, SizeModifier: 0.75, CooldownMinutes: 30, StopLossModifier: 0.9, NewTradesAllowed: true},
			BandHigh:     {RiskMode: risk.ModeDefensive, SizeModifier: 0.5, CooldownMinutes: 60, StopLossModifier: 0.75, NewTradesAllowed: true},
			BandCritical: {RiskMode: risk.ModeLockdown, SizeModifier: 0.0, CooldownMinutes: 240, StopLossModifier: 0.5, NewTradesAllowed: false},
		},
		MonitorPeriods: 3,
		Gradual:        true,
	}
}

// ModeController is the slice of the risk engine the monitor drives.
type ModeController interface {
	SetMode(mode risk.Mode, allowNewTrades bool, reason string)
	SetRegime(regime risk.Regime)
}

// Monitor tracks live anomaly events and holds the process in the most
// severe band any of them indicates. A live flash_crash event forces
// lockdown no matter what its numeric score says.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	live   map[string]*liveEvent
	byType map[Type]string
	band   Band

	cleanWindows int

	riskCtl  ModeController
	auditLog audit.Logger
	now      func() time.Time
}

// NewMonitor creates a monitor in the minimal band.
func NewMonitor(cfg Config, riskCtl ModeController, auditLog audit.Logger) *Monitor {
	if cfg.Policies == nil {
		cfg.Policies = DefaultConfig().Policies
	}
	if cfg.MonitorPeriods <= 0 {
		cfg.MonitorPeriods = DefaultConfig().MonitorPeriods
	}
	return &Monitor{
		cfg:      cfg,
		live:     make(map[string]*liveEvent),
		byType:   make(map[Type]string),
		band:     BandMinimal,
		riskCtl:  riskCtl,
		auditLog: auditLog,
		now:      time.Now,
	}
}

// Observe records or refreshes a live anomaly event and re-derives the
// severity band. A detector re-reporting an ongoing condition folds into
// the existing event of that type instead of accumulating duplicates.
// Returns the event id for explicit resolution.
func (m *Monitor) Observe(anomalyType Type, score float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanWindows = 0

	if id, ok := m.byType[anomalyType]; ok {
		evt := m.live[id]
		evt.Score = score
		evt.seenThisWindow = true
		evt.unseenWindows = 0

		m.auditLog.Append("anomaly", audit.ActionAnomalyEvent, id, "refreshed",
			fmt.Sprintf("type=%s score=%.2f", anomalyType, score))

		m.recomputeLocked(fmt.Sprintf("anomaly refreshed: %s score=%.2f", anomalyType, score))
		return id
	}

	evt := &liveEvent{
		Event: Event{
			ID:         uuid.New().String(),
			Type:       anomalyType,
			Score:      score,
			DetectedAt: m.now(),
		},
		seenThisWindow: true,
	}
	m.live[evt.ID] = evt
	m.byType[anomalyType] = evt.ID

	m.auditLog.Append("anomaly", audit.ActionAnomalyEvent, evt.ID, "observed",
		fmt.Sprintf("type=%s score=%.2f", anomalyType, score))

	m.recomputeLocked(fmt.Sprintf("anomaly observed: %s score=%.2f", anomalyType, score))
	return evt.ID
}

// Resolve marks a live event resolved and re-derives the band from the
// remaining live events. Resolving the only critical event while a
// moderate one stays live leaves the monitor at moderate, not minimal.
func (m *Monitor) Resolve(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.live[eventID]
	if !ok {
		return
	}
	resolvedAt := m.now()
	evt.ResolvedAt = &resolvedAt
	delete(m.live, eventID)
	delete(m.byType, evt.Type)

	m.auditLog.Append("anomaly", audit.ActionAnomalyEvent, eventID, "resolved",
		fmt.Sprintf("type=%s score=%.2f", evt.Type, evt.Score))

	m.recomputeLocked(fmt.Sprintf("anomaly resolved: %s", evt.Type))
}

// Evaluate closes one evaluation window. Live events the detectors have
// stopped reporting for MonitorPeriods consecutive windows resolve on
// their own; once no live events remain, MonitorPeriods clean windows
// step severity down, one band at a time when gradual or straight to
// minimal otherwise.
func (m *Monitor) Evaluate() Band {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.live) > 0 {
		m.cleanWindows = 0
		m.ageLocked()
		m.recomputeLocked("evaluation window")
		return m.band
	}

	if m.band == BandMinimal {
		return m.band
	}

	m.cleanWindows++
	if m.cleanWindows < m.cfg.MonitorPeriods {
		return m.band
	}
	m.cleanWindows = 0

	target := BandMinimal
	if m.cfg.Gradual {
		target = stepDown(m.band)
	}
	m.applyBandLocked(target, fmt.Sprintf("recovered after %d clean windows", m.cfg.MonitorPeriods))
	return m.band
}

// SetRegime forwards the detected market regime to the risk engine.
func (m *Monitor) SetRegime(regime risk.Regime) {
	m.riskCtl.SetRegime(regime)
}

// Band returns the current severity band.
func (m *Monitor) Band() Band {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.band
}

// LiveEvents returns copies of the currently live anomaly events.
func (m *Monitor) LiveEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.live))
	for _, evt := range m.live {
		out = append(out, evt.Event)
	}
	return out
}

// ageLocked closes one observation window for every live event and
// auto-resolves those unseen for MonitorPeriods consecutive windows.
// Caller holds the lock.
func (m *Monitor) ageLocked() {
	for id, evt := range m.live {
		if evt.seenThisWindow {
			evt.seenThisWindow = false
			evt.unseenWindows = 0
			continue
		}
		evt.unseenWindows++
		if evt.unseenWindows < m.cfg.MonitorPeriods {
			continue
		}
		resolvedAt := m.now()
		evt.ResolvedAt = &resolvedAt
		delete(m.live, id)
		delete(m.byType, evt.Type)

		m.auditLog.Append("anomaly", audit.ActionAnomalyEvent, id, "resolved",
			fmt.Sprintf("type=%s unobserved for %d windows", evt.Type, evt.unseenWindows))
	}
}

// Policy returns the response tuple for the current band.
func (m *Monitor) Policy() BandPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Policies[m.band]
}

// recomputeLocked derives the band from live events and applies it.
// Caller holds the lock.
func (m *Monitor) recomputeLocked(reason string) {
	// With no live events the band holds where it is; only the
	// clean-window recovery in Evaluate may step it down.
	if len(m.live) == 0 {
		return
	}

	derived := BandMinimal
	flashCrash := false
	for _, evt := range m.live {
		if evt.Type == TypeFlashCrash {
			flashCrash = true
		}
		if b := BandOf(evt.Score); severityRank(b) > severityRank(derived) {
			derived = b
		}
	}
	// Type override: a live flash crash locks down regardless of score.
	if flashCrash {
		derived = BandCritical
		reason = "flash_crash override: " + reason
	}

	if derived == m.band {
		return
	}
	m.applyBandLocked(derived, reason)
}

// applyBandLocked moves to the given band and pushes its policy into the
// risk engine. Caller holds the lock.
func (m *Monitor) applyBandLocked(band Band, reason string) {
	from := m.band
	m.band = band

	policy, ok := m.cfg.Policies[band]
	if !ok {
		policy = DefaultConfig().Policies[band]
	}

	m.auditLog.Append("anomaly", audit.ActionAnomalyEvent,
		fmt.Sprintf("%s->%s", from, band), "band_change", reason)

	m.riskCtl.SetMode(policy.RiskMode, policy.NewTradesAllowed, reason)
}

func stepDown(b Band) Band {
	switch b {
	case BandCritical:
		return BandHigh
	case BandHigh:
		return BandModerate
	default:
		return BandMinimal
	}
}
