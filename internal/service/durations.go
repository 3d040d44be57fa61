package service

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/configblob"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/report"
)

// ShortModule a module whose switching duration is below target.
type ShortModule struct {
	SlaveAddress int
	ModuleID     int64
	Seconds      int
	SWVersion    string
}

// tenantDurations the eligible modules of one tenant split by duration.
type tenantDurations struct {
	scanned int
	short   []ShortModule
}

func (m *Maintenance) scanTenant(ctx context.Context, tenant string) (*tenantDurations, error) {
	modules, err := m.devices.ModulesOfType(ctx, tenant, m.patch.ModuleDeviceType)
	if err != nil {
		return nil, err
	}
	out := &tenantDurations{scanned: len(modules)}
	for _, mod := range modules {
		sec, err := configblob.ExtractDurationSeconds(mod.CurrentConfig)
		if err != nil {
			m.logger.Debug("Ignoring module with malformed curconfig",
				zap.String("tenant", tenant),
				zap.Int("slave_address", mod.SlaveAddress),
				zap.Error(err),
			)
			continue
		}
		if sec < m.patch.TargetSeconds {
			out.short = append(out.short, shortModule(mod, sec))
		}
	}
	return out, nil
}

func shortModule(mod domain.Module, sec int) ShortModule {
	return ShortModule{
		SlaveAddress: mod.SlaveAddress,
		ModuleID:     mod.ModuleID,
		Seconds:      sec,
		SWVersion:    strings.TrimSpace(mod.SWVersion),
	}
}

// TenantScan short modules of one tenant.
type TenantScan struct {
	Tenant  string
	Modules []ShortModule
}

// ScanResult tenants with at least one short module.
type ScanResult struct {
	Tenants  []TenantScan
	Failures []TenantError
	Path     string
}

// TenantNames returns the tenants in the result.
func (r *ScanResult) TenantNames() []string {
	names := make([]string, len(r.Tenants))
	for i, t := range r.Tenants {
		names[i] = t.Tenant
	}
	return names
}

// ScanShortDurations lists per tenant the eligible modules whose switching
// duration is below target. With export set the list is written to a workbook.
func (m *Maintenance) ScanShortDurations(ctx context.Context, export bool) (*ScanResult, error) {
	res := &ScanResult{}
	failures, err := m.eachTenant(ctx, "scan-durations", func(ctx context.Context, tenant string) error {
		d, err := m.scanTenant(ctx, tenant)
		if err != nil {
			return err
		}
		if len(d.short) == 0 {
			return nil
		}
		res.Tenants = append(res.Tenants, TenantScan{Tenant: tenant, Modules: d.short})
		m.logger.Info("Tenant has short switching durations",
			zap.String("tenant", tenant),
			zap.Int("modules", len(d.short)),
		)
		return nil
	})
	res.Failures = failures
	if err != nil {
		return res, err
	}

	if export && len(res.Tenants) > 0 {
		sheet := report.Sheet{
			Name:    "ScanResultaten",
			Headers: []string{"Schema", "SlaveAddress", "Seconds", "Slavedeviceid"},
			Widths:  []float64{30, 14, 10, 14},
		}
		for _, t := range res.Tenants {
			for _, mod := range t.Modules {
				sheet.Rows = append(sheet.Rows, []any{t.Tenant, mod.SlaveAddress, mod.Seconds, mod.ModuleID})
			}
		}
		res.Path = m.exportPath("icy4850_schakeltijden_scan", "xlsx")
		if err := report.WriteWorkbook(res.Path, sheet); err != nil {
			return res, err
		}
	}
	return res, nil
}

// TenantStats short module counts of one tenant per firmware revision.
type TenantStats struct {
	Tenant      string
	Short       int
	RawVersions []string
	Revisions   map[string]int
}

// StatsResult firmware statistics of short modules across the fleet.
type StatsResult struct {
	Tenants []TenantStats

	// Columns revision labels, sorted, sw_unknown last.
	Columns  []string
	Totals   TenantStats
	Failures []TenantError
	Path     string
}

// DurationStats counts short modules per tenant and firmware revision and
// writes the statistics workbook.
func (m *Maintenance) DurationStats(ctx context.Context, export bool) (*StatsResult, error) {
	res := &StatsResult{Totals: TenantStats{Tenant: "Totaal", Revisions: map[string]int{}}}
	labels := map[string]bool{}

	failures, err := m.eachTenant(ctx, "duration-stats", func(ctx context.Context, tenant string) error {
		d, err := m.scanTenant(ctx, tenant)
		if err != nil {
			return err
		}
		if len(d.short) == 0 {
			return nil
		}
		ts := TenantStats{Tenant: tenant, Short: len(d.short), Revisions: map[string]int{}}
		seen := map[string]bool{}
		for _, mod := range d.short {
			label := "sw_unknown"
			if mod.SWVersion != "" {
				if !seen[mod.SWVersion] {
					seen[mod.SWVersion] = true
					ts.RawVersions = append(ts.RawVersions, mod.SWVersion)
				}
				label = configblob.Label(configblob.SWRevision(mod.SWVersion))
			}
			ts.Revisions[label]++
			labels[label] = true
		}
		res.Tenants = append(res.Tenants, ts)
		return nil
	})
	res.Failures = failures
	if err != nil {
		return res, err
	}

	res.Columns = revisionColumns(labels)
	for _, ts := range res.Tenants {
		res.Totals.Short += ts.Short
		for label, n := range ts.Revisions {
			res.Totals.Revisions[label] += n
		}
	}

	if export {
		headers := append([]string{"Schema", "ModulesUnder60"}, res.Columns...)
		headers = append(headers, "RawSWVersions")
		widths := []float64{40, 16}
		for range res.Columns {
			widths = append(widths, 12)
		}
		widths = append(widths, 40)

		sheet := report.Sheet{Name: "Schakeltijden<60", Headers: headers, Widths: widths}
		for _, ts := range append(res.Tenants[:len(res.Tenants):len(res.Tenants)], res.Totals) {
			row := []any{ts.Tenant, ts.Short}
			for _, c := range res.Columns {
				row = append(row, ts.Revisions[c])
			}
			row = append(row, strings.Join(ts.RawVersions, "; "))
			sheet.Rows = append(sheet.Rows, row)
		}
		res.Path = m.exportPath("icy4850_schakeltijden_under60_stats", "xlsx")
		if err := report.WriteWorkbook(res.Path, sheet); err != nil {
			return res, err
		}
	}

	m.logger.Info("Duration statistics",
		zap.Int("tenants_with_short_modules", len(res.Tenants)),
		zap.Int("short_modules", res.Totals.Short),
	)
	return res, nil
}

func revisionColumns(labels map[string]bool) []string {
	cols := make([]string, 0, len(labels))
	unknown := false
	for l := range labels {
		if l == "sw_unknown" {
			unknown = true
			continue
		}
		cols = append(cols, l)
	}
	sort.Strings(cols)
	if unknown {
		cols = append(cols, "sw_unknown")
	}
	return cols
}

// TenantRange lowest and highest short duration of one tenant.
type TenantRange struct {
	Tenant  string
	Lowest  int
	Highest int
	Scanned int
}

// RangeResult duration ranges of tenants with short modules.
type RangeResult struct {
	Tenants  []TenantRange
	Failures []TenantError
	Path     string
}

// DurationRange reports per tenant the lowest and highest duration among the
// short modules and how many eligible modules were scanned.
func (m *Maintenance) DurationRange(ctx context.Context, export bool) (*RangeResult, error) {
	res := &RangeResult{}
	failures, err := m.eachTenant(ctx, "duration-report", func(ctx context.Context, tenant string) error {
		d, err := m.scanTenant(ctx, tenant)
		if err != nil {
			return err
		}
		if len(d.short) == 0 {
			return nil
		}
		r := TenantRange{Tenant: tenant, Lowest: d.short[0].Seconds, Highest: d.short[0].Seconds, Scanned: d.scanned}
		for _, mod := range d.short[1:] {
			r.Lowest = min(r.Lowest, mod.Seconds)
			r.Highest = max(r.Highest, mod.Seconds)
		}
		res.Tenants = append(res.Tenants, r)
		m.logger.Info("Tenant duration range",
			zap.String("tenant", tenant),
			zap.Int("lowest", r.Lowest),
			zap.Int("highest", r.Highest),
		)
		return nil
	})
	res.Failures = failures
	if err != nil {
		return res, err
	}

	if export && len(res.Tenants) > 0 {
		sheet := report.Sheet{
			Name:    "Schakeltijden 4850CM",
			Headers: []string{"schema", "Laagste_seconden", "Hoogste_seconden", "scanned_modules"},
			Widths:  []float64{30, 20, 20, 20},
		}
		for _, r := range res.Tenants {
			sheet.Rows = append(sheet.Rows, []any{r.Tenant, r.Lowest, r.Highest, r.Scanned})
		}
		res.Path = m.exportPath("icy4850cm_schakeltijden_rapport", "xlsx")
		if err := report.WriteWorkbook(res.Path, sheet); err != nil {
			return res, err
		}
	}
	return res, nil
}
