package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu            sync.RWMutex
	lastOrder     time.Time
	vaultUnlocked bool
	riskMode      string
	anomalyBand   string
	errors        []string
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	LastOrder     time.Time `json:"last_order"`
	VaultUnlocked bool      `json:"vault_unlocked"`
	RiskMode      string    `json:"risk_mode"`
	AnomalyBand   string    `json:"anomaly_band"`
	Uptime        string    `json:"uptime"`
	Errors        []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		riskMode:    "normal",
		anomalyBand: "minimal",
		errors:      make([]string, 0),
	}
}

// SetVaultUnlocked marks the credential vault as usable.
func (h *HealthChecker) SetVaultUnlocked(unlocked bool) {
	h.mu.Lock()
	h.vaultUnlocked = unlocked
	h.mu.Unlock()
}

// RecordOrder notes that an order reached a terminal state.
func (h *HealthChecker) RecordOrder() {
	h.mu.Lock()
	h.lastOrder = time.Now()
	h.mu.Unlock()
}

// SetRiskState updates the risk mode and anomaly band surfaced on /health.
func (h *HealthChecker) SetRiskState(riskMode, anomalyBand string) {
	h.mu.Lock()
	h.riskMode = riskMode
	h.anomalyBand = anomalyBand
	h.mu.Unlock()
}

// RecordFault appends an operational fault surfaced on /health.
func (h *HealthChecker) RecordFault(detail string) {
	h.mu.Lock()
	h.errors = append(h.errors, detail)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.vaultUnlocked {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:        status,
		Timestamp:     time.Now(),
		LastOrder:     h.lastOrder,
		VaultUnlocked: h.vaultUnlocked,
		RiskMode:      h.riskMode,
		AnomalyBand:   h.anomalyBand,
		Uptime:        time.Since(startTime).String(),
		Errors:        h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
