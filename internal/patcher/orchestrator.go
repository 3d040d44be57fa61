// Package patcher normalizes the switch-on duration of fleet modules.
//
// For every tenant the orchestrator walks all modules, runs each through the
// validation pipeline and enqueues one controller command per module that
// needs a new duration. Every module ends with exactly one outcome.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
)

var (
	// ErrValidationFailed a final-gate check rejected the module.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPersistence a config update or sendlist insert failed.
	ErrPersistence = errors.New("persistence fault")
	// ErrTenantConnection the tenant batch could not start.
	ErrTenantConnection = errors.New("tenant connection fault")
)

// sinkTimeout bounds each sink call.
const sinkTimeout = 30 * time.Second

// Sink receives each finished tenant report.
type Sink interface {
	ConsumeTenant(ctx context.Context, report *TenantReport) error
}

// RunSink is implemented by sinks that also want the whole-run report.
type RunSink interface {
	ConsumeRun(ctx context.Context, report *RunReport) error
}

// Options per-run switches.
type Options struct {
	DryRun bool
}

// TenantReport result of one tenant batch.
type TenantReport struct {
	RunID      string
	Tenant     string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []domain.Outcome
	// Failed modules that needed a change but were not enqueued.
	Failed []domain.Outcome
	// NoTable the schema has no slavedevice table; not an error.
	NoTable bool
	Err     error
}

// Summary counts of one or more tenant reports.
type Summary struct {
	Modules        int                   `json:"modules"`
	Enqueued       int                   `json:"enqueued"`
	DryRunEnqueued int                   `json:"dry_run_enqueued"`
	Skipped        map[domain.Reason]int `json:"skipped"`
	Errored        map[domain.Reason]int `json:"errored"`
	TenantErrors   int                   `json:"tenant_errors"`
}

func newSummary() Summary {
	return Summary{
		Skipped: map[domain.Reason]int{},
		Errored: map[domain.Reason]int{},
	}
}

func (s *Summary) add(r *TenantReport) {
	if r.Err != nil {
		s.TenantErrors++
	}
	for _, o := range r.Outcomes {
		s.Modules++
		switch o.Action {
		case domain.ActionAdded:
			s.Enqueued++
		case domain.ActionDryRunAdded:
			s.DryRunEnqueued++
		case domain.ActionSkipped:
			s.Skipped[o.Reason]++
		case domain.ActionError:
			s.Errored[o.Reason]++
		}
	}
}

// TotalSkipped skipped modules over all reasons.
func (s Summary) TotalSkipped() int { return sum(s.Skipped) }

// TotalErrored errored modules over all reasons.
func (s Summary) TotalErrored() int { return sum(s.Errored) }

// Reasons returns the reasons present in m in stable order.
func Reasons(m map[domain.Reason]int) []domain.Reason {
	out := make([]domain.Reason, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sum(m map[domain.Reason]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// Summary counts of this tenant.
func (r *TenantReport) Summary() Summary {
	s := newSummary()
	s.add(r)
	return s
}

// RunReport result of a multi-tenant run.
type RunReport struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Tenants    []*TenantReport
}

// Summary counts over all tenants.
func (r *RunReport) Summary() Summary {
	s := newSummary()
	for _, t := range r.Tenants {
		s.add(t)
	}
	return s
}

// Orchestrator runs tenant batches sequentially.
type Orchestrator struct {
	store    Store
	pipeline *Pipeline
	sinks    []Sink
	logger   *zap.Logger
	runID    string
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator with a fresh run id.
func NewOrchestrator(store Store, pipeline *Pipeline, logger *zap.Logger, sinks ...Sink) *Orchestrator {
	runID := uuid.NewString()
	return &Orchestrator{
		store:    store,
		pipeline: pipeline,
		sinks:    sinks,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
		now:      time.Now,
	}
}

// RunID identifies this orchestrator's run in logs, reports and notifications.
func (o *Orchestrator) RunID() string { return o.runID }

// RunTenants processes tenants one after another. A tenant fault is recorded
// in its report and never stops the others.
func (o *Orchestrator) RunTenants(ctx context.Context, tenants []string, opts Options) *RunReport {
	run := &RunReport{
		RunID:     o.runID,
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
	}
	o.logger.Info("Starting patch run",
		zap.Int("tenants", len(tenants)),
		zap.Bool("dry_run", opts.DryRun),
	)

	for _, tenant := range tenants {
		run.Tenants = append(run.Tenants, o.RunTenant(ctx, tenant, opts))
	}
	run.FinishedAt = o.now()

	s := run.Summary()
	o.logger.Info("Patch run finished",
		zap.Int("modules", s.Modules),
		zap.Int("enqueued", s.Enqueued),
		zap.Int("dry_run_enqueued", s.DryRunEnqueued),
		zap.Int("skipped", s.TotalSkipped()),
		zap.Int("errored", s.TotalErrored()),
		zap.Int("tenant_errors", s.TenantErrors),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)

	for _, sink := range o.sinks {
		rs, ok := sink.(RunSink)
		if !ok {
			continue
		}
		sctx, cancel := sinkContext(ctx)
		err := rs.ConsumeRun(sctx, run)
		cancel()
		if err != nil {
			o.logger.Warn("Run sink failed", zap.Error(err))
		}
	}
	return run
}

// RunTenant processes every module of one tenant on a single scoped connection.
func (o *Orchestrator) RunTenant(ctx context.Context, tenant string, opts Options) *TenantReport {
	report := &TenantReport{
		RunID:     o.runID,
		Tenant:    tenant,
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
	}
	log := o.logger.With(zap.String("tenant", tenant))

	o.process(ctx, log, report, opts)

	report.FinishedAt = o.now()
	o.logTenant(log, report)

	for _, sink := range o.sinks {
		sctx, cancel := sinkContext(ctx)
		err := sink.ConsumeTenant(sctx, report)
		cancel()
		if err != nil {
			log.Warn("Report sink failed", zap.Error(err))
		}
	}
	return report
}

// sinkContext outlives cancellation of the run so an interrupted run is
// still reported, bounded by sinkTimeout.
func sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
}

func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, report *TenantReport, opts Options) {
	if err := ctx.Err(); err != nil {
		report.Err = fmt.Errorf("%w: %s: %w", ErrTenantConnection, report.Tenant, err)
		return
	}

	ts, err := o.store.Open(ctx, report.Tenant)
	if err != nil {
		report.Err = fmt.Errorf("%w: %s: %w", ErrTenantConnection, report.Tenant, err)
		return
	}
	defer func() {
		if err := ts.Close(); err != nil {
			log.Warn("Failed to release tenant connection", zap.Error(err))
		}
	}()

	modules, err := ts.Modules(ctx)
	if err != nil {
		if database.IsNoSuchTable(err) {
			report.NoTable = true
			return
		}
		report.Err = fmt.Errorf("%w: %s: %w", ErrTenantConnection, report.Tenant, err)
		return
	}

	for i, m := range modules {
		if err := ctx.Err(); err != nil {
			log.Warn("Run cancelled, marking remaining modules",
				zap.Int("remaining", len(modules)-i),
			)
			for _, rest := range modules[i:] {
				report.add(cancelledOutcome(report.Tenant, rest, opts.DryRun, err))
			}
			return
		}
		report.add(o.processModule(ctx, log, ts, report.Tenant, m, opts.DryRun))
	}
}

// processModule isolates a panic in one module from the rest of the batch.
func (o *Orchestrator) processModule(ctx context.Context, log *zap.Logger, ts TenantStore, tenant string, m domain.Module, dryRun bool) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Unexpected failure processing module",
				zap.Int("slave_address", m.SlaveAddress),
				zap.Any("panic", r),
			)
			out = domain.Outcome{
				Tenant:       tenant,
				ModuleID:     m.ModuleID,
				SlaveAddress: m.SlaveAddress,
				Action:       domain.ActionError,
				Reason:       domain.ReasonUnexpectedError,
				Detail:       fmt.Sprint(r),
				OldConfig:    m.CurrentConfig,
				DryRun:       dryRun,
			}
		}
	}()
	return o.pipeline.Process(ctx, ts, tenant, m, dryRun)
}

func (r *TenantReport) add(out domain.Outcome) {
	r.Outcomes = append(r.Outcomes, out)
	if isFailed(out) {
		r.Failed = append(r.Failed, out)
	}
}

func isFailed(o domain.Outcome) bool {
	switch o.Action {
	case domain.ActionError:
		return true
	case domain.ActionSkipped:
		switch o.Reason {
		case domain.ReasonNoController, domain.ReasonChecksFailed, domain.ReasonFinalCheckFailed:
			return true
		}
	}
	return false
}

func cancelledOutcome(tenant string, m domain.Module, dryRun bool, err error) domain.Outcome {
	return domain.Outcome{
		Tenant:       tenant,
		ModuleID:     m.ModuleID,
		SlaveAddress: m.SlaveAddress,
		Action:       domain.ActionError,
		Reason:       domain.ReasonCancelled,
		Detail:       err.Error(),
		OldConfig:    m.CurrentConfig,
		DryRun:       dryRun,
	}
}

func (o *Orchestrator) logTenant(log *zap.Logger, r *TenantReport) {
	switch {
	case r.Err != nil:
		log.Error("Tenant batch aborted", zap.Error(r.Err))
	case r.NoTable:
		log.Debug("Tenant has no module table, skipped")
	default:
		s := r.Summary()
		log.Info("Tenant batch finished",
			zap.Int("modules", s.Modules),
			zap.Int("enqueued", s.Enqueued),
			zap.Int("dry_run_enqueued", s.DryRunEnqueued),
			zap.Int("skipped", s.TotalSkipped()),
			zap.Int("errored", s.TotalErrored()),
			zap.Int("failed", len(r.Failed)),
		)
	}
}
