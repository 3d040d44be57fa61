package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

// ErrNoOrchestrator PatchDurations was called on a service built without WithOrchestrator.
var ErrNoOrchestrator = errors.New("patch orchestrator not configured")

// PatchRequest selects the tenants of a patch run.
type PatchRequest struct {
	// Tenants explicit tenant names; each must exist in the directory.
	Tenants []string
	// AllShort patches every tenant that has at least one short module.
	// Tenants the scan could not read are handed to the run as well, so
	// their fault shows up in its report.
	AllShort bool
	DryRun   bool
}

// PatchDurations raises the switching duration of every short module of the
// selected tenants by rewriting its config and queueing the controller command.
func (m *Maintenance) PatchDurations(ctx context.Context, req PatchRequest) (*patcher.RunReport, error) {
	if m.orchestrator == nil {
		return nil, ErrNoOrchestrator
	}

	selected, err := m.selectTenants(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		m.logger.Info("No tenants selected for patching")
		return &patcher.RunReport{RunID: m.orchestrator.RunID(), DryRun: req.DryRun}, nil
	}

	m.logger.Info("Patching tenants",
		zap.Strings("tenants", selected),
		zap.Bool("dry_run", req.DryRun),
	)
	return m.orchestrator.RunTenants(ctx, selected, patcher.Options{DryRun: req.DryRun}), nil
}

func (m *Maintenance) selectTenants(ctx context.Context, req PatchRequest) ([]string, error) {
	if req.AllShort {
		if len(req.Tenants) > 0 {
			return nil, errors.New("name tenants or select all, not both")
		}
		scan, err := m.ScanShortDurations(ctx, false)
		if err != nil {
			return nil, err
		}
		return m.scanSelection(ctx, scan)
	}
	if len(req.Tenants) == 0 {
		return nil, errors.New("no tenants given")
	}

	snap, err := m.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(snap.Tenants))
	for _, t := range snap.Tenants {
		known[t] = true
	}
	var unknown []string
	var selected []string
	seen := map[string]bool{}
	for _, t := range req.Tenants {
		switch {
		case !known[t]:
			unknown = append(unknown, t)
		case !seen[t]:
			seen[t] = true
			selected = append(selected, t)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown tenant(s): %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

// scanSelection returns, in directory order, the tenants with short modules
// and the tenants whose scan failed.
func (m *Maintenance) scanSelection(ctx context.Context, scan *ScanResult) ([]string, error) {
	if len(scan.Failures) == 0 {
		return scan.TenantNames(), nil
	}
	want := make(map[string]bool, len(scan.Tenants)+len(scan.Failures))
	for _, t := range scan.TenantNames() {
		want[t] = true
	}
	for _, f := range scan.Failures {
		m.logger.Warn("Tenant scan failed, passing it to the run",
			zap.String("tenant", f.Tenant),
			zap.Error(f.Err),
		)
		want[f.Tenant] = true
	}

	snap, err := m.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	var selected []string
	for _, t := range snap.Tenants {
		if want[t] {
			selected = append(selected, t)
		}
	}
	return selected, nil
}
