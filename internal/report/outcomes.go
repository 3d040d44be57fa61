// Package report renders patch outcomes and maintenance results to files
// operators open afterwards: one CSV per tenant and XLSX workbooks.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

const fileTimestamp = "2006-01-02-15-04-05"

// OutcomeHeader columns of the per-tenant outcome report.
var OutcomeHeader = []string{
	"schema",
	"slaveaddress",
	"slavedeviceid",
	"action",
	"reason",
	"detail",
	"old_config",
	"new_config",
	"controller_address",
	"controller_devid",
	"dryRun",
}

var outcomeWidths = []float64{20, 14, 14, 16, 20, 40, 18, 18, 18, 16, 8}

func outcomeRow(o domain.Outcome) []string {
	return []string{
		o.Tenant,
		strconv.Itoa(o.SlaveAddress),
		strconv.FormatInt(o.ModuleID, 10),
		string(o.Action),
		string(o.Reason),
		o.Detail,
		o.OldConfig,
		o.NewConfig,
		o.ControllerAddress,
		o.ControllerDeviceType,
		strconv.FormatBool(o.DryRun),
	}
}

// CSVSink writes icy4850_changes_<tenant>_<timestamp>.csv for each tenant batch.
type CSVSink struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewCSVSink creates a CSV sink writing into dir.
func NewCSVSink(dir string, logger *zap.Logger) *CSVSink {
	return &CSVSink{dir: dir, logger: logger, now: time.Now}
}

// ConsumeTenant implements patcher.Sink. Aborted tenants and schemas without
// a module table produce no file.
func (s *CSVSink) ConsumeTenant(ctx context.Context, r *patcher.TenantReport) error {
	if r.Err != nil || r.NoTable {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("icy4850_changes_%s_%s.csv", r.Tenant, s.now().Format(fileTimestamp)))

	rows := make([][]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		rows = append(rows, outcomeRow(o))
	}
	if err := WriteCSV(path, OutcomeHeader, rows); err != nil {
		return err
	}

	s.logger.Info("Wrote outcome report",
		zap.String("tenant", r.Tenant),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// WriteCSV writes a header and rows to path.
func WriteCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WorkbookSink collects a whole run into one workbook with an outcome sheet
// and a per-tenant summary sheet.
type WorkbookSink struct {
	dir    string
	logger *zap.Logger

	// Path of the last workbook written.
	Path string
}

// NewWorkbookSink creates a workbook sink writing into dir.
func NewWorkbookSink(dir string, logger *zap.Logger) *WorkbookSink {
	return &WorkbookSink{dir: dir, logger: logger}
}

// ConsumeTenant implements patcher.Sink; tenants are written at run end.
func (s *WorkbookSink) ConsumeTenant(ctx context.Context, r *patcher.TenantReport) error {
	return nil
}

// ConsumeRun implements patcher.RunSink.
func (s *WorkbookSink) ConsumeRun(ctx context.Context, run *patcher.RunReport) error {
	outcomes := Sheet{Name: "Outcomes", Headers: OutcomeHeader, Widths: outcomeWidths}
	summary := Sheet{
		Name:    "Samenvatting",
		Headers: []string{"schema", "modules", "enqueued", "dry_run_enqueued", "skipped", "errored", "failed", "error"},
		Widths:  []float64{24, 10, 10, 16, 10, 10, 10, 50},
	}

	for _, t := range run.Tenants {
		for _, o := range t.Outcomes {
			row := outcomeRow(o)
			cells := make([]any, len(row))
			for i, v := range row {
				cells[i] = v
			}
			outcomes.Rows = append(outcomes.Rows, cells)
		}
		if t.NoTable {
			continue
		}
		ts := t.Summary()
		errText := ""
		if t.Err != nil {
			errText = t.Err.Error()
		}
		summary.Rows = append(summary.Rows, []any{
			t.Tenant, ts.Modules, ts.Enqueued, ts.DryRunEnqueued, ts.TotalSkipped(), ts.TotalErrored(), len(t.Failed), errText,
		})
	}

	total := run.Summary()
	summary.Rows = append(summary.Rows, []any{
		"Totaal", total.Modules, total.Enqueued, total.DryRunEnqueued, total.TotalSkipped(), total.TotalErrored(), "", "",
	})

	path := filepath.Join(s.dir, fmt.Sprintf("icy4850_run_%s_%s.xlsx", run.StartedAt.Format(fileTimestamp), shortID(run.RunID)))
	if err := WriteWorkbook(path, outcomes, summary); err != nil {
		return err
	}
	s.Path = path
	s.logger.Info("Wrote run workbook", zap.String("path", path))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
