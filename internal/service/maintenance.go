// Package service implements the fleet-wide maintenance operations of the
// tool. Every operation walks the tenant directory, skips schemas that lack
// the queried table and keeps going when one tenant fails.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/tenants"
)

const fileTimestamp = "2006-01-02-15-04-05"

// TenantDirectory the tenant list the operations iterate.
type TenantDirectory interface {
	List(ctx context.Context) (*tenants.Snapshot, error)
	Refresh(ctx context.Context) (*tenants.Snapshot, error)
	Search(ctx context.Context, pattern string) ([]string, error)
}

// TenantError a tenant that failed during an operation.
type TenantError struct {
	Tenant string
	Err    error
}

// Maintenance fleet maintenance service.
type Maintenance struct {
	dir       TenantDirectory
	patch     config.PatchConfig
	exportDir string
	logger    *zap.Logger

	devices  *repository.DeviceRepository
	settings *repository.SettingsRepository
	tasks    *repository.TimedTaskRepository
	issues   *repository.HardwareIssueRepository
	address  *repository.AddressRepository

	orchestrator *patcher.Orchestrator

	now  func() time.Time
	intn func(n int) int
}

// Option configures Maintenance.
type Option func(*Maintenance)

// WithOrchestrator enables PatchDurations.
func WithOrchestrator(o *patcher.Orchestrator) Option {
	return func(m *Maintenance) { m.orchestrator = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Maintenance) { m.now = now }
}

// WithRandom overrides the source of random execution times.
func WithRandom(intn func(n int) int) Option {
	return func(m *Maintenance) { m.intn = intn }
}

// NewMaintenance creates the maintenance service on the fleet database q.
func NewMaintenance(q database.Querier, dialect database.Dialect, dir TenantDirectory, cfg *config.Config, logger *zap.Logger, opts ...Option) *Maintenance {
	m := &Maintenance{
		dir:       dir,
		patch:     cfg.Patch,
		exportDir: cfg.Export.Dir,
		logger:    logger,
		devices:   repository.NewDeviceRepository(q, dialect, logger),
		settings:  repository.NewSettingsRepository(q, dialect, logger),
		tasks:     repository.NewTimedTaskRepository(q, dialect, logger),
		issues:    repository.NewHardwareIssueRepository(q, dialect, logger),
		address:   repository.NewAddressRepository(q, dialect, logger),
		now:       time.Now,
		intn:      rand.Intn,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// eachTenant runs fn for every tenant in the directory. Missing tables are
// skipped quietly, other failures are logged and collected.
func (m *Maintenance) eachTenant(ctx context.Context, op string, fn func(ctx context.Context, tenant string) error) ([]TenantError, error) {
	snap, err := m.dir.List(ctx)
	if err != nil {
		return nil, err
	}

	var failures []TenantError
	for _, tenant := range snap.Tenants {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		err := fn(ctx, tenant)
		switch {
		case err == nil:
		case database.IsNoSuchTable(err):
			m.logger.Debug("Schema has no such table, skipping",
				zap.String("operation", op),
				zap.String("tenant", tenant),
			)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return failures, err
		default:
			m.logger.Error("Tenant failed",
				zap.String("operation", op),
				zap.String("tenant", tenant),
				zap.Error(err),
			)
			failures = append(failures, TenantError{Tenant: tenant, Err: err})
		}
	}
	return failures, nil
}

func (m *Maintenance) exportPath(prefix, ext string) string {
	return filepath.Join(m.exportDir, fmt.Sprintf("%s_%s.%s", prefix, m.now().Format(fileTimestamp), ext))
}
