package patcher

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
)

// Store hands out tenant-scoped access for one orchestration run.
type Store interface {
	Open(ctx context.Context, tenant string) (TenantStore, error)
}

// TenantStore everything the pipeline reads and writes for one tenant.
// Close releases the underlying connection and must always be called.
type TenantStore interface {
	Modules(ctx context.Context) ([]domain.Module, error)
	ControllerFor(ctx context.Context, deviceID int64) (*domain.Controller, error)
	UpdateWantedConfig(ctx context.Context, moduleID int64, blob string) error
	UpdateUnoccupiedConfig(ctx context.Context, moduleID int64, blob string) error
	InsertPendingCommand(ctx context.Context, cmd domain.PendingCommand) (int64, error)
	Close() error
}

// SQLStore Store backed by the fleet database pool.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *zap.Logger
}

// NewSQLStore creates a Store on db.
func NewSQLStore(db *sql.DB, dialect database.Dialect, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// Open reserves one pooled connection for the tenant run.
func (s *SQLStore) Open(ctx context.Context, tenant string) (TenantStore, error) {
	if _, err := s.dialect.QuoteIdent(tenant); err != nil {
		return nil, err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for %s: %w", tenant, err)
	}
	return &sqlTenantStore{
		tenant:   tenant,
		conn:     conn,
		devices:  repository.NewDeviceRepository(conn, s.dialect, s.logger),
		sendlist: repository.NewSendlistRepository(conn, s.dialect, s.logger),
	}, nil
}

type sqlTenantStore struct {
	tenant   string
	conn     *sql.Conn
	devices  *repository.DeviceRepository
	sendlist *repository.SendlistRepository
}

func (s *sqlTenantStore) Modules(ctx context.Context) ([]domain.Module, error) {
	return s.devices.ModulesForTenant(ctx, s.tenant)
}

func (s *sqlTenantStore) ControllerFor(ctx context.Context, deviceID int64) (*domain.Controller, error) {
	return s.devices.ControllerFor(ctx, s.tenant, deviceID)
}

func (s *sqlTenantStore) UpdateWantedConfig(ctx context.Context, moduleID int64, blob string) error {
	return s.devices.UpdateWantedConfig(ctx, s.tenant, moduleID, blob)
}

func (s *sqlTenantStore) UpdateUnoccupiedConfig(ctx context.Context, moduleID int64, blob string) error {
	return s.devices.UpdateUnoccupiedConfig(ctx, s.tenant, moduleID, blob)
}

func (s *sqlTenantStore) InsertPendingCommand(ctx context.Context, cmd domain.PendingCommand) (int64, error) {
	return s.sendlist.InsertPendingCommand(ctx, s.tenant, cmd)
}

func (s *sqlTenantStore) Close() error {
	return s.conn.Close()
}
