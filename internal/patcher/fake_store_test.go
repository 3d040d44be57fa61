package patcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
)

type write struct {
	column   string
	moduleID int64
	blob     string
}

// fakeTenant in-memory tenant schema.
type fakeTenant struct {
	modules     []domain.Module
	controllers map[int64]*domain.Controller
	modulesErr  error
	lookupErr   error
	updateErr   map[string]error
	insertErr   map[string]error // keyed by msgdata
	onModule    func(i int)      // called before each ControllerFor
}

type fakeStore struct {
	mu      sync.Mutex
	tenants map[string]*fakeTenant
	openErr map[string]error

	writes  []write
	inserts []domain.PendingCommand
	opened  int
	closed  int
	lookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants: map[string]*fakeTenant{},
		openErr: map[string]error{},
	}
}

func (s *fakeStore) Open(ctx context.Context, tenant string) (TenantStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErr[tenant]; err != nil {
		return nil, err
	}
	t, ok := s.tenants[tenant]
	if !ok {
		return nil, fmt.Errorf("unknown tenant %s", tenant)
	}
	s.opened++
	return &fakeTenantStore{store: s, tenant: t}, nil
}

type fakeTenantStore struct {
	store  *fakeStore
	tenant *fakeTenant
}

func (f *fakeTenantStore) Modules(ctx context.Context) ([]domain.Module, error) {
	if f.tenant.modulesErr != nil {
		return nil, f.tenant.modulesErr
	}
	return f.tenant.modules, nil
}

func (f *fakeTenantStore) ControllerFor(ctx context.Context, deviceID int64) (*domain.Controller, error) {
	f.store.mu.Lock()
	i := f.store.lookups
	f.store.lookups++
	f.store.mu.Unlock()
	if f.tenant.onModule != nil {
		f.tenant.onModule(i)
	}
	if f.tenant.lookupErr != nil {
		return nil, f.tenant.lookupErr
	}
	c, ok := f.tenant.controllers[deviceID]
	if !ok {
		return nil, fmt.Errorf("controller %d: %w", deviceID, repository.ErrNotFound)
	}
	return c, nil
}

func (f *fakeTenantStore) UpdateWantedConfig(ctx context.Context, moduleID int64, blob string) error {
	return f.update("wantedconfig", moduleID, blob)
}

func (f *fakeTenantStore) UpdateUnoccupiedConfig(ctx context.Context, moduleID int64, blob string) error {
	return f.update("unoccupiedconfig", moduleID, blob)
}

func (f *fakeTenantStore) update(column string, moduleID int64, blob string) error {
	if err := f.tenant.updateErr[column]; err != nil {
		return err
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.writes = append(f.store.writes, write{column, moduleID, blob})
	return nil
}

func (f *fakeTenantStore) InsertPendingCommand(ctx context.Context, cmd domain.PendingCommand) (int64, error) {
	if err := f.tenant.insertErr[cmd.MsgData]; err != nil {
		return 0, err
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.inserts = append(f.store.inserts, cmd)
	return int64(len(f.store.inserts)), nil
}

func (f *fakeTenantStore) Close() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.closed++
	return nil
}

var errConnReset = errors.New("connection reset by peer")

// recordingSink collects reports.
type recordingSink struct {
	tenants []*TenantReport
	runs    []*RunReport
	err     error

	// ctxErrs context state seen by each call.
	ctxErrs []error
}

func (r *recordingSink) ConsumeTenant(ctx context.Context, report *TenantReport) error {
	r.tenants = append(r.tenants, report)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *recordingSink) ConsumeRun(ctx context.Context, report *RunReport) error {
	r.runs = append(r.runs, report)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}
