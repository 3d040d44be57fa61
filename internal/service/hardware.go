package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/configblob"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/report"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
)

// Hardware check timed task schedule.
const (
	hardwareCheckInterval = 1440 // minutes
	hardwareCheckDeadline = 60   // minutes
	hardwareCheckEpoch    = "1970-01-01 00:00:01"
	hardwareCheckFirstHr  = 3
	hardwareCheckHours    = 3
)

// Revision thresholds of the hardware check report.
const (
	minReportedRevision = 18
	currentRevision     = 20
)

// SeedResult outcome of a fleet-wide seed operation.
type SeedResult struct {
	DryRun   bool
	Seeded   []string
	Existing []string
	Failures []TenantError

	// ExecutionTimes chosen start time per seeded tenant (timed task seeding only).
	ExecutionTimes map[string]string
}

// SeedTimedTask schedules the hardware check timed task in every tenant that
// does not have it yet, at a random time between 03:00 and 05:59.
func (m *Maintenance) SeedTimedTask(ctx context.Context, dryRun bool) (*SeedResult, error) {
	res := &SeedResult{DryRun: dryRun, ExecutionTimes: map[string]string{}}
	failures, err := m.eachTenant(ctx, "seed-timedtask", func(ctx context.Context, tenant string) error {
		exists, err := m.tasks.Exists(ctx, tenant, repository.HardwareCheckCategory)
		if err != nil {
			return err
		}
		if exists {
			res.Existing = append(res.Existing, tenant)
			return nil
		}

		task := repository.TimedTask{
			TaskHandle:        repository.HardwareCheckCategory,
			Category:          0,
			ExecutionInterval: hardwareCheckInterval,
			LastExecuted:      hardwareCheckEpoch,
			ExecutionTime:     m.randomExecutionTime(),
			Deadline:          hardwareCheckDeadline,
		}
		if dryRun {
			m.logger.Info("[DRY RUN] Would insert timed task",
				zap.String("tenant", tenant),
				zap.String("executiontime", task.ExecutionTime),
			)
		} else if err := m.tasks.Insert(ctx, tenant, task); err != nil {
			return err
		}
		res.Seeded = append(res.Seeded, tenant)
		res.ExecutionTimes[tenant] = task.ExecutionTime
		return nil
	})
	res.Failures = failures
	return res, err
}

func (m *Maintenance) randomExecutionTime() string {
	hour := hardwareCheckFirstHr + m.intn(hardwareCheckHours)
	minute := m.intn(60)
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// SeedSettings inserts the hardware check settings in every tenant whose
// ENABLE setting is absent.
func (m *Maintenance) SeedSettings(ctx context.Context, dryRun bool) (*SeedResult, error) {
	res := &SeedResult{DryRun: dryRun}
	failures, err := m.eachTenant(ctx, "seed-settings", func(ctx context.Context, tenant string) error {
		_, err := m.settings.Get(ctx, tenant, repository.HardwareCheckCategory, "ENABLE")
		switch {
		case err == nil:
			res.Existing = append(res.Existing, tenant)
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if dryRun {
			m.logger.Info("[DRY RUN] Would insert hardware check settings",
				zap.String("tenant", tenant),
				zap.Int("rows", len(repository.HardwareCheckDefaults)),
			)
		} else if err := m.settings.InsertAll(ctx, tenant, repository.HardwareCheckDefaults); err != nil {
			return err
		}
		res.Seeded = append(res.Seeded, tenant)
		return nil
	})
	res.Failures = failures
	return res, err
}

// Hardware check states of a tenant.
const (
	CheckEnabled  = "enabled"
	CheckDisabled = "disabled"
	CheckMissing  = "missing"
)

// EnabledState hardware check state of one tenant.
type EnabledState struct {
	Tenant string
	State  string
}

// CheckEnabledResult hardware check states across the fleet.
type CheckEnabledResult struct {
	Tenants  []EnabledState
	Failures []TenantError
}

// CheckEnabled reports per tenant whether the hardware check is enabled.
func (m *Maintenance) CheckEnabled(ctx context.Context) (*CheckEnabledResult, error) {
	res := &CheckEnabledResult{}
	failures, err := m.eachTenant(ctx, "check-enabled", func(ctx context.Context, tenant string) error {
		value, err := m.settings.Get(ctx, tenant, repository.HardwareCheckCategory, "ENABLE")
		state := CheckDisabled
		switch {
		case errors.Is(err, repository.ErrNotFound):
			state = CheckMissing
		case err != nil:
			return err
		case value == "true":
			state = CheckEnabled
		}
		res.Tenants = append(res.Tenants, EnabledState{Tenant: tenant, State: state})
		m.logger.Info("Hardware check state",
			zap.String("tenant", tenant),
			zap.String("state", state),
		)
		return nil
	})
	res.Failures = failures
	return res, err
}

// HardwareFinding a module whose latest hardware check is not OK.
type HardwareFinding struct {
	Tenant       string
	SlaveAddress int
	Revision     int
	HasRevision  bool
	First        *repository.HardwareIssue
	Last         repository.HardwareIssue
	Guidance     string
}

// HardwareStatusResult current hardware findings across the fleet.
type HardwareStatusResult struct {
	Findings []HardwareFinding
	Failures []TenantError
	Path     string
}

// Guidance returns the replacement advice for a module revision and its
// latest check state. An empty state means the check has not concluded yet.
func Guidance(rev int, ok bool, state string) string {
	if !ok {
		return "Fout Onbekende status"
	}
	pending := state == repository.StatusUnreliable || state == ""
	switch {
	case rev < currentRevision && state == repository.StatusDefect:
		return "Wantrouwen, versie oud Mogelijk wel in KWH modus!"
	case rev >= currentRevision && state == repository.StatusDefect:
		return "VERVANGEN ZSM"
	case rev < currentRevision && pending:
		return "Wantrouwen, versie oud, wachten op timedtask. Mogelijk wel in KWH Modus!"
	case rev >= currentRevision && pending:
		return "VERDACHT, wachten op timedtask."
	default:
		return "Fout Onbekende status"
	}
}

// HardwareStatus lists the modules that are suspect or defect right now and
// have not been replaced. Replaced modules (no slavedevice row at the
// address), revisions below 18 and modules whose latest check is OK are left out.
func (m *Maintenance) HardwareStatus(ctx context.Context, export bool) (*HardwareStatusResult, error) {
	res := &HardwareStatusResult{}
	failures, err := m.eachTenant(ctx, "hardware-status", func(ctx context.Context, tenant string) error {
		findings, err := m.tenantHardwareStatus(ctx, tenant)
		if err != nil {
			return err
		}
		res.Findings = append(res.Findings, findings...)
		return nil
	})
	res.Failures = failures
	if err != nil {
		return res, err
	}

	if export && len(res.Findings) > 0 {
		res.Path = m.exportPath("icy4850_hrm_rapport", "xlsx")
		if err := writeHardwareReport(res.Path, m.now(), res.Findings); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (m *Maintenance) tenantHardwareStatus(ctx context.Context, tenant string) ([]HardwareFinding, error) {
	addresses, err := m.issues.AddressesWithIssues(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var findings []HardwareFinding
	for _, addr := range addresses {
		last, err := m.issues.LatestIssue(ctx, tenant, addr)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if last.State == repository.StatusOK {
			continue
		}

		mod, err := m.devices.ModuleByAddress(ctx, tenant, addr)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// replaced
				continue
			}
			return nil, err
		}
		rev, ok := configblob.SWRevision(mod.SWVersion)
		if ok && rev < minReportedRevision {
			continue
		}

		first, err := m.issues.FirstIssue(ctx, tenant, addr)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		f := HardwareFinding{
			Tenant:       tenant,
			SlaveAddress: addr,
			Revision:     rev,
			HasRevision:  ok,
			First:        first,
			Last:         *last,
			Guidance:     Guidance(rev, ok, last.State),
		}
		findings = append(findings, f)

		m.logger.Warn("Module hardware check not OK",
			zap.String("tenant", tenant),
			zap.Int("slave_address", addr),
			zap.String("state", stateLabel(last.State)),
			zap.Float64("current_rms", last.CurrentRMS),
			zap.Float64("active_power", last.ActivePower),
			zap.String("timestamp", last.Timestamp),
			zap.String("guidance", f.Guidance),
		)
	}
	return findings, nil
}

func stateLabel(state string) string {
	if state == "" {
		return "N/A"
	}
	return state
}

func writeHardwareReport(path string, at time.Time, findings []HardwareFinding) error {
	sheet := report.Sheet{
		Name: "Rapport",
		Headers: []string{
			"Rapportage tijd", "Schema", "Address", "State now",
			"First Timestamp", "First Current", "First Power", "First State",
			"Last Timestamp", "Last Current", "Last Power", "Last State",
			"SW_Revisie", "Vervang Status",
		},
		Widths: []float64{22, 25, 18, 20, 22, 15, 15, 20, 22, 15, 15, 20, 12, 60},
	}
	stamp := at.Format(fileTimestamp)
	for _, f := range findings {
		row := []any{
			stamp,
			f.Tenant,
			fmt.Sprintf("%d (%04X)", f.SlaveAddress, f.SlaveAddress),
			stateLabel(f.Last.State),
		}
		if f.First != nil {
			row = append(row, f.First.Timestamp, f.First.CurrentRMS, f.First.ActivePower, stateLabel(f.First.State))
		} else {
			row = append(row, "N/A", "N/A", "N/A", "N/A")
		}
		row = append(row, f.Last.Timestamp, f.Last.CurrentRMS, f.Last.ActivePower, stateLabel(f.Last.State))
		if f.HasRevision {
			row = append(row, f.Revision)
		} else {
			row = append(row, "N/A")
		}
		row = append(row, f.Guidance)
		sheet.Rows = append(sheet.Rows, row)
	}
	return report.WriteWorkbook(path, sheet)
}
