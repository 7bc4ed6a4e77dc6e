package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_router_orders_total",
			Help: "Total number of orders by terminal state",
		},
		[]string{"asset_class", "state"},
	)

	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_router_attempts_total",
			Help: "Total number of execution attempts by broker and outcome",
		},
		[]string{"broker", "outcome"},
	)

	failoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_router_failovers_total",
			Help: "Total number of broker failovers",
		},
	)

	// Risk metrics
	riskModeSeverity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_router_risk_mode_severity",
			Help: "Current risk mode severity (0=normal, 3=lockdown)",
		},
	)

	activeBreakers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_router_active_breakers",
			Help: "Number of circuit breakers currently in cooldown",
		},
	)

	exposureNotional = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_router_exposure_notional",
			Help: "Total reserved notional across strategies",
		},
	)

	// Anomaly metrics
	anomalySeverity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_router_anomaly_severity",
			Help: "Current anomaly band severity (0=minimal, 3=critical)",
		},
	)

	liveAnomalies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_router_live_anomalies",
			Help: "Number of live anomaly events",
		},
	)

	// Vault metrics
	secretAccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_router_secret_access_total",
			Help: "Total credential vault accesses by outcome",
		},
		[]string{"outcome"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_router_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(failoversTotal)
	prometheus.MustRegister(riskModeSeverity)
	prometheus.MustRegister(activeBreakers)
	prometheus.MustRegister(exposureNotional)
	prometheus.MustRegister(anomalySeverity)
	prometheus.MustRegister(liveAnomalies)
	prometheus.MustRegister(secretAccessTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrder records a terminal order state
func RecordOrder(assetClass, state string) {
	ordersTotal.WithLabelValues(assetClass, state).Inc()
}

// RecordAttempt records one execution attempt outcome
func RecordAttempt(brokerID, outcome string) {
	attemptsTotal.WithLabelValues(brokerID, outcome).Inc()
}

// RecordFailover records a broker failover
func RecordFailover() {
	failoversTotal.Inc()
}

// UpdateRiskMode updates the risk mode severity gauge
func UpdateRiskMode(severity int) {
	riskModeSeverity.Set(float64(severity))
}

// UpdateBreakers updates the active breaker count
func UpdateBreakers(count int) {
	activeBreakers.Set(float64(count))
}

// UpdateExposure updates the reserved notional gauge
func UpdateExposure(notional float64) {
	exposureNotional.Set(notional)
}

// UpdateAnomaly updates the anomaly band severity and live event count
func UpdateAnomaly(severity, live int) {
	anomalySeverity.Set(float64(severity))
	liveAnomalies.Set(float64(live))
}

// RecordSecretAccess records a vault access outcome
func RecordSecretAccess(outcome string) {
	secretAccessTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
