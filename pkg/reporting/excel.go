package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/stress"
)

// ExcelReporter writes stress results and audit history to a workbook for
// compliance review.
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter.
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

type excelStyles struct {
	header   int
	critical int
}

// WriteReport writes one workbook with stress, risk, and audit sheets.
func (r *ExcelReporter) WriteReport(path string, results []stress.Result, snap risk.Snapshot, records []audit.Record) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const stressSheet = "Stress Tests"
	const riskSheet = "Risk State"
	const auditSheet = "Audit Log"

	fx.SetSheetName(fx.GetSheetName(0), stressSheet)
	fx.NewSheet(riskSheet)
	fx.NewSheet(auditSheet)

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeStressSheet(fx, stressSheet, results, styles); err != nil {
		return err
	}
	if err := r.writeRiskSheet(fx, riskSheet, snap, styles); err != nil {
		return err
	}
	if err := r.writeAuditSheet(fx, auditSheet, records, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return styles, err
	}

	styles.critical, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
	})
	return styles, err
}

func (r *ExcelReporter) writeStressSheet(fx *excelize.File, sheet string, results []stress.Result, styles excelStyles) error {
	headers := []string{"Scenario", "Trigger", "Ran At", "Exposure", "Equity", "Projected Loss", "Loss %", "Critical"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	for row, res := range results {
		values := []interface{}{
			res.Scenario.Name,
			res.Trigger,
			res.RanAt.Format("2006-01-02 15:04:05"),
			res.Exposure,
			res.Equity,
			res.ProjectedLoss,
			res.ProjectedLossPct,
			res.Critical,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellValue(sheet, cell, v)
			if res.Critical {
				fx.SetCellStyle(sheet, cell, cell, styles.critical)
			}
		}
	}
	return nil
}

func (r *ExcelReporter) writeRiskSheet(fx *excelize.File, sheet string, snap risk.Snapshot, styles excelStyles) error {
	rows := [][]interface{}{
		{"Mode", string(snap.Mode)},
		{"Regime", string(snap.Regime)},
		{"New Trades Allowed", snap.NewTradesAllowed},
		{"Equity", snap.Equity},
		{"Peak Equity", snap.PeakEquity},
		{"As Of", snap.AsOf.Format("2006-01-02 15:04:05")},
	}
	for _, b := range snap.Breakers {
		rows = append(rows, []interface{}{
			fmt.Sprintf("Breaker %s", b.Scope),
			fmt.Sprintf("triggered %s, cooldown until %s",
				b.TriggeredAt.Format("2006-01-02"), b.CooldownUntil.Format("2006-01-02")),
		})
	}
	for scope, loss := range snap.TrailingLosses {
		rows = append(rows, []interface{}{fmt.Sprintf("Trailing loss (%s)", scope), loss})
	}

	for i, row := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		fx.SetCellValue(sheet, keyCell, row[0])
		fx.SetCellStyle(sheet, keyCell, keyCell, styles.header)
		fx.SetCellValue(sheet, valCell, row[1])
	}
	return nil
}

func (r *ExcelReporter) writeAuditSheet(fx *excelize.File, sheet string, records []audit.Record, styles excelStyles) error {
	headers := []string{"Sequence", "Timestamp", "Actor", "Action", "Subject", "Outcome", "Detail"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	for row, rec := range records {
		values := []interface{}{
			rec.Sequence,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Actor,
			string(rec.Action),
			rec.Subject,
			rec.Outcome,
			rec.Detail,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellValue(sheet, cell, v)
		}
	}
	return nil
}
