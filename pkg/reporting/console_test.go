package reporting

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/stress"
)

func sampleResults() []stress.Result {
	return []stress.Result{
		{
			Scenario:         stress.Scenario{Name: "crash", MarketShockPct: -0.25, VolShockPct: 0.8},
			Exposure:         500_000,
			Equity:           1_000_000,
			ProjectedLoss:    225_000,
			ProjectedLossPct: 0.225,
			Critical:         true,
			Trigger:          "scheduled",
			RanAt:            time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

// TestPrintStressResults tests the console stress table rendering
func TestPrintStressResults(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporterTo(&buf)

	r.PrintStressResults(sampleResults())

	out := buf.String()
	assert.Contains(t, out, "STRESS TEST RESULTS")
	assert.Contains(t, out, "crash")
	assert.Contains(t, out, "YES")
}

// TestPrintRiskSnapshot tests breaker rows appearing in the risk table
func TestPrintRiskSnapshot(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporterTo(&buf)

	r.PrintRiskSnapshot(risk.Snapshot{
		Mode:   risk.ModeDefensive,
		Regime: risk.RegimeVolatile,
		Breakers: []risk.Breaker{
			{Scope: risk.ScopeDaily, CooldownUntil: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)},
		},
		Equity:     950_000,
		PeakEquity: 1_000_000,
	})

	out := buf.String()
	assert.Contains(t, out, "defensive")
	assert.Contains(t, out, "daily")
}

// TestWriteReport tests the Excel workbook round trip
func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "router.xlsx")

	records := []audit.Record{
		{Sequence: 1, Timestamp: time.Now(), Actor: "stress", Action: audit.ActionStressResult, Subject: "crash", Outcome: "critical"},
	}
	snap := risk.Snapshot{Mode: risk.ModeNormal, Regime: risk.RegimeNeutral, Equity: 1_000_000}

	err := NewExcelReporter().WriteReport(path, sampleResults(), snap, records)
	require.NoError(t, err)

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	name, err := fx.GetCellValue("Stress Tests", "A2")
	require.NoError(t, err)
	assert.Equal(t, "crash", name)

	actor, err := fx.GetCellValue("Audit Log", "C2")
	require.NoError(t, err)
	assert.Equal(t, "stress", actor)
}
