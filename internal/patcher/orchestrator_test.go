package patcher

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
)

const moduleType = 8705

func testPatchConfig() config.PatchConfig {
	return config.Default().Patch
}

func newTestOrchestrator(t *testing.T, store Store, cfg config.PatchConfig, sinks ...Sink) *Orchestrator {
	p, err := NewPipeline(cfg, zap.NewNop())
	require.NoError(t, err)
	return NewOrchestrator(store, p, zap.NewNop(), sinks...)
}

func module(id int64, addr int, cur string) domain.Module {
	return domain.Module{
		ModuleID:         id,
		SlaveAddress:     addr,
		DeviceTypeID:     moduleType,
		DeviceID:         7,
		CurrentConfig:    cur,
		WantedConfig:     cur,
		UnoccupiedConfig: cur,
		SWVersion:        "ICY485021",
	}
}

func knownController() map[int64]*domain.Controller {
	return map[int64]*domain.Controller{7: {DeviceID: 7, Address: 300, DeviceType: 21}}
}

func TestShortDurationIsEnqueued(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules:     []domain.Module{module(11, 0x1234, "0100000a100a18")},
		controllers: knownController(),
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	require.NoError(t, report.Err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, domain.ActionAdded, out.Action)
	assert.Equal(t, domain.ReasonNone, out.Reason)
	assert.Equal(t, "0100000a100a18", out.OldConfig)
	assert.Equal(t, "0100000a3c0a18", out.NewConfig)
	assert.Equal(t, "300", out.ControllerAddress)
	assert.Equal(t, "21", out.ControllerDeviceType)
	assert.Empty(t, report.Failed)

	require.Len(t, store.inserts, 1)
	cmd := store.inserts[0]
	assert.Equal(t, "1234030100000a3c0a18", cmd.MsgData)
	assert.Len(t, cmd.MsgData, 20)
	assert.Equal(t, int64(300), cmd.Address)
	assert.Equal(t, 21, cmd.DeviceType)
	assert.Equal(t, 0x3f, cmd.Command)
	assert.Equal(t, 30, cmd.Priority)
	assert.Equal(t, 1, cmd.Sureness)
	assert.Equal(t, 5, cmd.RetriesToDo)
	assert.Equal(t, "1970-01-01 00:00:01", cmd.StartTime)
	assert.Equal(t, "1970-01-01 00:00:01", cmd.LastTry)
	assert.Equal(t, -1, cmd.NewPinCode)
	assert.Nil(t, cmd.FollowingID)

	assert.Equal(t, []write{
		{"wantedconfig", 11, "0100000a3c0a18"},
		{"unoccupiedconfig", 11, "0100000a3c0a18"},
	}, store.writes)
	assert.Equal(t, 1, store.opened)
	assert.Equal(t, 1, store.closed)
}

func TestAlreadyCompliantIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{
			module(11, 1, "0100000a3c0a18"),
			module(12, 2, "0100000aff0a18"),
		},
		controllers: knownController(),
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	for i := 0; i < 2; i++ {
		report := o.RunTenant(context.Background(), "park_a", Options{})
		require.Len(t, report.Outcomes, 2)
		for _, out := range report.Outcomes {
			assert.Equal(t, domain.ActionSkipped, out.Action)
			assert.Equal(t, domain.ReasonAlreadyCompliant, out.Reason)
		}
	}
	assert.Empty(t, store.writes)
	assert.Empty(t, store.inserts)
	assert.Zero(t, store.lookups)
}

func TestNoControllerStillRewritesConfigs(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{module(11, 4660, "0100000a100a18")},
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, domain.ActionSkipped, report.Outcomes[0].Action)
	assert.Equal(t, domain.ReasonNoController, report.Outcomes[0].Reason)
	assert.Len(t, report.Failed, 1)
	assert.Len(t, store.writes, 2)
	assert.Empty(t, store.inserts)
}

func TestTenantConnectionFault(t *testing.T) {
	store := newFakeStore()
	store.openErr["park_down"] = errConnReset
	store.tenants["park_up"] = &fakeTenant{
		modules:     []domain.Module{module(11, 4660, "0100000a100a18")},
		controllers: knownController(),
	}
	sink := &recordingSink{}
	o := newTestOrchestrator(t, store, testPatchConfig(), sink)

	run := o.RunTenants(context.Background(), []string{"park_down", "park_up"}, Options{})

	require.Len(t, run.Tenants, 2)
	down := run.Tenants[0]
	assert.ErrorIs(t, down.Err, ErrTenantConnection)
	assert.ErrorIs(t, down.Err, errConnReset)
	assert.Empty(t, down.Outcomes)

	up := run.Tenants[1]
	require.NoError(t, up.Err)
	require.Len(t, up.Outcomes, 1)
	assert.Equal(t, domain.ActionAdded, up.Outcomes[0].Action)

	s := run.Summary()
	assert.Equal(t, 1, s.TenantErrors)
	assert.Equal(t, 1, s.Enqueued)
	assert.Equal(t, 1, s.Modules)

	assert.Len(t, sink.tenants, 2)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, o.RunID(), sink.runs[0].RunID)
	assert.Equal(t, o.RunID(), sink.tenants[0].RunID)
}

func TestModulesQueryFaultAbortsTenant(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{modulesErr: errConnReset}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	assert.ErrorIs(t, report.Err, ErrTenantConnection)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 1, store.closed, "connection released on failure")
}

func TestMissingModuleTableIsNotAnError(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modulesErr: &mysql.MySQLError{Number: 1146, Message: "Table 'park_a.slavedevice' doesn't exist"},
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	assert.NoError(t, report.Err)
	assert.True(t, report.NoTable)
	assert.Equal(t, 0, report.Summary().TenantErrors)
	assert.Equal(t, 1, store.closed)
}

func TestIneligibleModulesAreAlwaysSkipped(t *testing.T) {
	configs := []string{"", "zz", "0100000a100a18", "0100000a3c0a18", "0100000a1"}
	var modules []domain.Module
	for i, cfg := range configs {
		m := module(int64(i+1), i+1, cfg)
		m.DeviceTypeID = 1200 + i
		modules = append(modules, m)
	}
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{modules: modules, controllers: knownController()}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	require.Len(t, report.Outcomes, len(configs))
	for _, out := range report.Outcomes {
		assert.Equal(t, domain.ActionSkipped, out.Action)
		assert.Equal(t, domain.ReasonNotEligibleType, out.Reason)
	}
	assert.Empty(t, store.writes)
	assert.Empty(t, store.inserts)
	assert.Empty(t, report.Failed)
}

func TestMalformedCurconfig(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{
			module(11, 1, "0100000a1"),
			module(12, 2, "0100000azz0a18"),
		},
		controllers: knownController(),
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	for _, out := range report.Outcomes {
		assert.Equal(t, domain.ActionSkipped, out.Action)
		assert.Equal(t, domain.ReasonMalformedConfig, out.Reason)
		assert.NotEmpty(t, out.Detail)
	}
	assert.Empty(t, store.writes)
}

func TestDryRunMatchesLiveClassificationWithoutWrites(t *testing.T) {
	build := func() *fakeStore {
		s := newFakeStore()
		wantedBroken := module(13, 3, "0100000a100a18")
		wantedBroken.WantedConfig = "01"
		farAddress := module(14, 0x10000, "0100000a100a18")
		orphan := module(15, 5, "0100000a100a18")
		orphan.DeviceID = 99
		other := module(16, 6, "0100000a100a18")
		other.DeviceTypeID = 1
		s.tenants["park_a"] = &fakeTenant{
			modules: []domain.Module{
				module(11, 1, "0100000a100a18"),
				module(12, 2, "0100000a3c0a18"),
				wantedBroken,
				farAddress,
				orphan,
				other,
				module(17, 7, "0100000a00"),
			},
			controllers: knownController(),
		}
		return s
	}

	live := build()
	liveReport := newTestOrchestrator(t, live, testPatchConfig()).RunTenant(context.Background(), "park_a", Options{})
	dry := build()
	dryReport := newTestOrchestrator(t, dry, testPatchConfig()).RunTenant(context.Background(), "park_a", Options{DryRun: true})

	require.Len(t, dryReport.Outcomes, len(liveReport.Outcomes))
	for i := range liveReport.Outcomes {
		l, d := liveReport.Outcomes[i], dryReport.Outcomes[i]
		if l.Action == domain.ActionAdded {
			assert.Equal(t, domain.ActionDryRunAdded, d.Action)
		} else {
			assert.Equal(t, l.Action, d.Action, "module %d", l.ModuleID)
		}
		assert.Equal(t, l.Reason, d.Reason, "module %d", l.ModuleID)
		assert.Equal(t, l.NewConfig, d.NewConfig)
		assert.True(t, d.DryRun)
	}

	assert.Empty(t, dry.writes)
	assert.Empty(t, dry.inserts)
	assert.NotEmpty(t, live.writes)
	assert.Len(t, live.inserts, 1)

	reasons := map[int64]domain.Reason{}
	for _, out := range liveReport.Outcomes {
		reasons[out.ModuleID] = out.Reason
	}
	assert.Equal(t, domain.ReasonNone, reasons[11])
	assert.Equal(t, domain.ReasonAlreadyCompliant, reasons[12])
	assert.Equal(t, domain.ReasonChecksFailed, reasons[13])
	assert.Equal(t, domain.ReasonFinalCheckFailed, reasons[14])
	assert.Equal(t, domain.ReasonNoController, reasons[15])
	assert.Equal(t, domain.ReasonNotEligibleType, reasons[16])
	assert.Equal(t, domain.ReasonFinalCheckFailed, reasons[17], "short blob gives short msgdata")
}

func TestChecksFailedStillWritesTheValidColumn(t *testing.T) {
	m := module(11, 1, "0100000a100a18")
	m.UnoccupiedConfig = ""
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{modules: []domain.Module{m}, controllers: knownController()}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	out := report.Outcomes[0]
	assert.Equal(t, domain.ReasonChecksFailed, out.Reason)
	assert.Contains(t, out.Detail, "unoccupiedconfig")
	assert.Equal(t, []write{{"wantedconfig", 11, "0100000a3c0a18"}}, store.writes)
	assert.Empty(t, store.inserts)
}

func TestFinalGate_ControllerChecks(t *testing.T) {
	cfg := testPatchConfig()
	cfg.ControllerDeviceTypes = []int{21}

	store := newFakeStore()
	m1 := module(11, 1, "0100000a100a18")
	m2 := module(12, 2, "0100000a100a18")
	m2.DeviceID = 8
	m3 := module(13, 3, "0100000a100a18")
	m3.DeviceID = 9
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{m1, m2, m3},
		controllers: map[int64]*domain.Controller{
			7: {DeviceID: 7, Address: 300, DeviceType: 21},
			8: {DeviceID: 8, Address: 0, DeviceType: 21},
			9: {DeviceID: 9, Address: 301, DeviceType: 55},
		},
	}
	o := newTestOrchestrator(t, store, cfg)

	report := o.RunTenant(context.Background(), "park_a", Options{})

	assert.Equal(t, domain.ActionAdded, report.Outcomes[0].Action)
	assert.Equal(t, domain.ReasonFinalCheckFailed, report.Outcomes[1].Reason)
	assert.Equal(t, domain.ReasonFinalCheckFailed, report.Outcomes[2].Reason)
	assert.Contains(t, report.Outcomes[2].Detail, "not addressable")
	assert.Len(t, report.Failed, 2)
}

func TestInsertFaultIsIsolatedToModule(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{
			module(11, 1, "0100000a100a18"),
			module(12, 2, "0100000a100a18"),
		},
		controllers: knownController(),
		insertErr:   map[string]error{"0001030100000a3c0a18": errConnReset},
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, domain.ActionError, report.Outcomes[0].Action)
	assert.Equal(t, domain.ReasonPersistenceFault, report.Outcomes[0].Reason)
	assert.Contains(t, report.Outcomes[0].Detail, "connection reset")
	assert.Equal(t, domain.ActionAdded, report.Outcomes[1].Action)
	assert.Len(t, store.inserts, 1)
	assert.Len(t, report.Failed, 1)
}

func TestUpdateFaultIsPersistenceError(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules:     []domain.Module{module(11, 1, "0100000a100a18")},
		controllers: knownController(),
		updateErr:   map[string]error{"wantedconfig": errConnReset},
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	out := report.Outcomes[0]
	assert.Equal(t, domain.ActionError, out.Action)
	assert.Equal(t, domain.ReasonPersistenceFault, out.Reason)
	assert.Equal(t, []write{{"unoccupiedconfig", 11, "0100000a3c0a18"}}, store.writes)
	assert.Empty(t, store.inserts)
}

func TestControllerLookupFaultIsUnexpected(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules:   []domain.Module{module(11, 1, "0100000a100a18")},
		lookupErr: errors.New("lock wait timeout exceeded"),
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(context.Background(), "park_a", Options{})

	assert.Equal(t, domain.ActionError, report.Outcomes[0].Action)
	assert.Equal(t, domain.ReasonUnexpectedError, report.Outcomes[0].Reason)
}

func TestCancellationMarksRemainingModules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{
		modules: []domain.Module{
			module(11, 1, "0100000a100a18"),
			module(12, 2, "0100000a100a18"),
			module(13, 3, "0100000a100a18"),
		},
		controllers: knownController(),
		onModule: func(i int) {
			if i == 0 {
				cancel()
			}
		},
	}
	o := newTestOrchestrator(t, store, testPatchConfig())

	report := o.RunTenant(ctx, "park_a", Options{})

	require.Len(t, report.Outcomes, 3, "no module is dropped")
	assert.Equal(t, domain.ActionAdded, report.Outcomes[0].Action)
	for _, out := range report.Outcomes[1:] {
		assert.Equal(t, domain.ActionError, out.Action)
		assert.Equal(t, domain.ReasonCancelled, out.Reason)
	}
	assert.Equal(t, 1, store.closed)
}

func TestSinkFailureDoesNotStopRun(t *testing.T) {
	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{modules: []domain.Module{module(11, 1, "0100000a3c0a18")}}
	store.tenants["park_b"] = &fakeTenant{modules: []domain.Module{module(12, 1, "0100000a3c0a18")}}
	sink := &recordingSink{err: errors.New("disk full")}
	o := newTestOrchestrator(t, store, testPatchConfig(), sink)

	run := o.RunTenants(context.Background(), []string{"park_a", "park_b"}, Options{})

	assert.Len(t, run.Tenants, 2)
	assert.Len(t, sink.tenants, 2)
}

func TestSinksRunAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeStore()
	store.tenants["park_a"] = &fakeTenant{modules: []domain.Module{module(11, 1, "0100000a3c0a18")}}
	sink := &recordingSink{}
	o := newTestOrchestrator(t, store, testPatchConfig(), sink)

	run := o.RunTenants(ctx, []string{"park_a"}, Options{})

	assert.ErrorIs(t, run.Tenants[0].Err, context.Canceled)
	require.Len(t, sink.tenants, 1)
	require.Len(t, sink.runs, 1)
	for _, err := range sink.ctxErrs {
		assert.NoError(t, err, "sinks get a live context")
	}
}

func TestSummaryCounts(t *testing.T) {
	r := &TenantReport{Outcomes: []domain.Outcome{
		{Action: domain.ActionAdded},
		{Action: domain.ActionDryRunAdded},
		{Action: domain.ActionSkipped, Reason: domain.ReasonAlreadyCompliant},
		{Action: domain.ActionSkipped, Reason: domain.ReasonAlreadyCompliant},
		{Action: domain.ActionSkipped, Reason: domain.ReasonNoController},
		{Action: domain.ActionError, Reason: domain.ReasonPersistenceFault},
	}}

	s := r.Summary()

	assert.Equal(t, 6, s.Modules)
	assert.Equal(t, 1, s.Enqueued)
	assert.Equal(t, 1, s.DryRunEnqueued)
	assert.Equal(t, 3, s.TotalSkipped())
	assert.Equal(t, 2, s.Skipped[domain.ReasonAlreadyCompliant])
	assert.Equal(t, 1, s.TotalErrored())
	assert.Equal(t, []domain.Reason{domain.ReasonAlreadyCompliant, domain.ReasonNoController}, Reasons(s.Skipped))
}

func TestNewPipeline_RejectsUnencodableTarget(t *testing.T) {
	cfg := testPatchConfig()
	cfg.TargetSeconds = 300
	_, err := NewPipeline(cfg, zap.NewNop())
	assert.Error(t, err)
}
