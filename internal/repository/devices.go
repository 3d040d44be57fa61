package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
)

// ErrNotFound the requested row does not exist. Callers treat it as a normal
// outcome, not a fault.
var ErrNotFound = errors.New("not found")

// DeviceRepository reads and updates the device and slavedevice tables of a tenant schema.
type DeviceRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewDeviceRepository creates a device repository on q.
func NewDeviceRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// ModulesForTenant returns every slavedevice row of the tenant, including
// modules of types the caller is not interested in.
func (r *DeviceRepository) ModulesForTenant(ctx context.Context, tenant string) ([]domain.Module, error) {
	table, err := database.Table(r.dialect, tenant, "slavedevice")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT
			slavedeviceid,
			slaveaddress,
			slavedevid,
			deviceid,
			curconfig,
			wantedconfig,
			unoccupiedconfig,
			swversion
		FROM ` + table + `
		ORDER BY slaveaddress`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules of %s: %w", tenant, err)
	}
	defer rows.Close()

	var modules []domain.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module of %s: %w", tenant, err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate modules of %s: %w", tenant, err)
	}

	r.logger.Debug("Loaded modules",
		zap.String("tenant", tenant),
		zap.Int("count", len(modules)),
	)
	return modules, nil
}

// ModulesOfType returns the slavedevice rows of one device type.
func (r *DeviceRepository) ModulesOfType(ctx context.Context, tenant string, deviceType int) ([]domain.Module, error) {
	table, err := database.Table(r.dialect, tenant, "slavedevice")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT
			slavedeviceid,
			slaveaddress,
			slavedevid,
			deviceid,
			curconfig,
			wantedconfig,
			unoccupiedconfig,
			swversion
		FROM ` + table + `
		WHERE slavedevid = ` + r.dialect.Placeholder(1) + `
		ORDER BY slaveaddress`

	rows, err := r.q.QueryContext(ctx, query, deviceType)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules of %s: %w", tenant, err)
	}
	defer rows.Close()

	var modules []domain.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module of %s: %w", tenant, err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ModuleByAddress returns the module currently installed at slaveAddress.
func (r *DeviceRepository) ModuleByAddress(ctx context.Context, tenant string, slaveAddress int) (*domain.Module, error) {
	table, err := database.Table(r.dialect, tenant, "slavedevice")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT
			slavedeviceid,
			slaveaddress,
			slavedevid,
			deviceid,
			curconfig,
			wantedconfig,
			unoccupiedconfig,
			swversion
		FROM ` + table + `
		WHERE slaveaddress = ` + r.dialect.Placeholder(1) + `
		LIMIT 1`

	m, err := scanModule(r.q.QueryRowContext(ctx, query, slaveAddress))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("module %d in %s: %w", slaveAddress, tenant, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query module %d in %s: %w", slaveAddress, tenant, err)
	}
	return &m, nil
}

// ControllerFor returns the controller owning a module. ErrNotFound when the
// device row is missing.
func (r *DeviceRepository) ControllerFor(ctx context.Context, tenant string, deviceID int64) (*domain.Controller, error) {
	table, err := database.Table(r.dialect, tenant, "device")
	if err != nil {
		return nil, err
	}
	query := `SELECT address, devid FROM ` + table + ` WHERE deviceid = ` + r.dialect.Placeholder(1) + ` LIMIT 1`

	var address sql.NullInt64
	var devid sql.NullInt64
	err = r.q.QueryRowContext(ctx, query, deviceID).Scan(&address, &devid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("controller %d in %s: %w", deviceID, tenant, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query controller %d in %s: %w", deviceID, tenant, err)
	}

	return &domain.Controller{
		DeviceID:   deviceID,
		Address:    address.Int64,
		DeviceType: int(devid.Int64),
	}, nil
}

// UpdateWantedConfig persists a new wantedconfig for one module.
func (r *DeviceRepository) UpdateWantedConfig(ctx context.Context, tenant string, moduleID int64, blob string) error {
	return r.updateConfig(ctx, tenant, "wantedconfig", moduleID, blob)
}

// UpdateUnoccupiedConfig persists a new unoccupiedconfig for one module.
func (r *DeviceRepository) UpdateUnoccupiedConfig(ctx context.Context, tenant string, moduleID int64, blob string) error {
	return r.updateConfig(ctx, tenant, "unoccupiedconfig", moduleID, blob)
}

func (r *DeviceRepository) updateConfig(ctx context.Context, tenant, column string, moduleID int64, blob string) error {
	table, err := database.Table(r.dialect, tenant, "slavedevice")
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET ` + column + ` = ` + r.dialect.Placeholder(1) +
		` WHERE slavedeviceid = ` + r.dialect.Placeholder(2)

	if _, err := r.q.ExecContext(ctx, query, blob, moduleID); err != nil {
		return fmt.Errorf("failed to update %s of module %d in %s: %w", column, moduleID, tenant, err)
	}

	r.logger.Info("Updated module config",
		zap.String("tenant", tenant),
		zap.String("column", column),
		zap.Int64("slavedeviceid", moduleID),
		zap.String("config", blob),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(s rowScanner) (domain.Module, error) {
	var m domain.Module
	var deviceID sql.NullInt64
	var cur, wanted, unoccupied, sw sql.NullString
	if err := s.Scan(
		&m.ModuleID,
		&m.SlaveAddress,
		&m.DeviceTypeID,
		&deviceID,
		&cur,
		&wanted,
		&unoccupied,
		&sw,
	); err != nil {
		return domain.Module{}, err
	}
	m.DeviceID = deviceID.Int64
	m.CurrentConfig = cur.String
	m.WantedConfig = wanted.String
	m.UnoccupiedConfig = unoccupied.String
	m.SWVersion = sw.String
	return m, nil
}
