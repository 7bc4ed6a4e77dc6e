// Package reporting renders stress-test results, risk snapshots, and audit
// summaries for operators, to the console and to Excel workbooks.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/broker"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/stress"
)

// ConsoleReporter renders operator tables to a writer (stdout by default).
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter creates a console reporter writing to stdout.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

// NewConsoleReporterTo creates a console reporter writing to out.
func NewConsoleReporterTo(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// PrintBrokers renders the broker registry at startup.
func (r *ConsoleReporter) PrintBrokers(configs []broker.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("BROKER REGISTRY")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"ID", "Adapter", "Mode", "Enabled", "Asset Classes", "Max Retries", "Retry Delay"})
	for _, cfg := range configs {
		classes := ""
		for i, c := range cfg.AssetClasses {
			if i > 0 {
				classes += ", "
			}
			classes += string(c)
		}
		t.AppendRow(table.Row{cfg.ID, cfg.Adapter, cfg.Mode, cfg.Enabled, classes, cfg.MaxRetries, cfg.RetryDelay})
	}

	t.Render()
	fmt.Fprintln(r.out)
}

// PrintRiskSnapshot renders the current risk state.
func (r *ConsoleReporter) PrintRiskSnapshot(snap risk.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("RISK STATE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Mode", string(snap.Mode)},
		{"Regime", string(snap.Regime)},
		{"New Trades", snap.NewTradesAllowed},
		{"Equity", fmt.Sprintf("%.2f", snap.Equity)},
		{"Peak Equity", fmt.Sprintf("%.2f", snap.PeakEquity)},
		{"Active Breakers", len(snap.Breakers)},
	})
	for _, b := range snap.Breakers {
		t.AppendRow(table.Row{
			fmt.Sprintf("Breaker (%s)", b.Scope),
			fmt.Sprintf("until %s", b.CooldownUntil.Format("2006-01-02 15:04")),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Fprintln(r.out)
}

// PrintStressResults renders a stress scenario battery.
func (r *ConsoleReporter) PrintStressResults(results []stress.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("STRESS TEST RESULTS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Scenario", "Market Shock", "Vol Shock", "Exposure", "Projected Loss", "Loss %", "Critical"})
	for _, res := range results {
		critical := ""
		if res.Critical {
			critical = "YES"
		}
		t.AppendRow(table.Row{
			res.Scenario.Name,
			fmt.Sprintf("%.0f%%", res.Scenario.MarketShockPct*100),
			fmt.Sprintf("%.0f%%", res.Scenario.VolShockPct*100),
			fmt.Sprintf("%.2f", res.Exposure),
			fmt.Sprintf("%.2f", res.ProjectedLoss),
			fmt.Sprintf("%.2f%%", res.ProjectedLossPct*100),
			critical,
		})
	}

	t.Render()
	fmt.Fprintln(r.out)
}

// PrintAuditTail renders the most recent audit records.
func (r *ConsoleReporter) PrintAuditTail(records []audit.Record, limit int) {
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("AUDIT LOG (TAIL)")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Seq", "Time", "Actor", "Action", "Subject", "Outcome"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.Sequence,
			rec.Timestamp.Format("15:04:05"),
			rec.Actor,
			string(rec.Action),
			rec.Subject,
			rec.Outcome,
		})
	}

	t.Render()
	fmt.Fprintln(r.out)
}
