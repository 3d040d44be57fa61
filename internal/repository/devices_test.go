package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

var moduleColumns = []string{
	"slavedeviceid", "slaveaddress", "slavedevid", "deviceid",
	"curconfig", "wantedconfig", "unoccupiedconfig", "swversion",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DeviceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewDeviceRepository(db, database.MySQL{}, logger)

	return db, mock, repo
}

func TestModulesForTenant_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows(moduleColumns).
		AddRow(11, 4660, 8705, 7, "0100000a100a18", "0100000a100a18", "0100000a100a18", "ICY485021").
		AddRow(12, 4661, 1200, nil, nil, nil, nil, nil)

	mock.ExpectQuery("SELECT .+ FROM `park_01`.`slavedevice`").
		WillReturnRows(rows)

	modules, err := repo.ModulesForTenant(context.Background(), "park_01")

	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, int64(11), modules[0].ModuleID)
	assert.Equal(t, 4660, modules[0].SlaveAddress)
	assert.Equal(t, 8705, modules[0].DeviceTypeID)
	assert.Equal(t, int64(7), modules[0].DeviceID)
	assert.Equal(t, "0100000a100a18", modules[0].CurrentConfig)
	assert.Equal(t, "ICY485021", modules[0].SWVersion)
	assert.Equal(t, 1200, modules[1].DeviceTypeID)
	assert.Empty(t, modules[1].CurrentConfig)
	assert.Zero(t, modules[1].DeviceID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModulesForTenant_InvalidSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	_, err := repo.ModulesForTenant(context.Background(), "x; DROP TABLE sendlist")

	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModulesForTenant_QueryError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	modules, err := repo.ModulesForTenant(context.Background(), "park_01")

	assert.Error(t, err)
	assert.Nil(t, modules)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModulesOfType(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("WHERE slavedevid = \\?").
		WithArgs(8705).
		WillReturnRows(sqlmock.NewRows(moduleColumns).
			AddRow(11, 4660, 8705, 7, "0100000a100a18", "", "", "ICY485021"))

	modules, err := repo.ModulesOfType(context.Background(), "park_01", 8705)

	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, 4660, modules[0].SlaveAddress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModuleByAddress_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("WHERE slaveaddress = \\?").
		WithArgs(4660).
		WillReturnRows(sqlmock.NewRows(moduleColumns))

	m, err := repo.ModuleByAddress(context.Background(), "park_01", 4660)

	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestControllerFor_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT address, devid FROM `park_01`.`device` WHERE deviceid = \\?").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"address", "devid"}).AddRow(300, 21))

	c, err := repo.ControllerFor(context.Background(), "park_01", 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), c.DeviceID)
	assert.Equal(t, int64(300), c.Address)
	assert.Equal(t, 21, c.DeviceType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestControllerFor_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT address, devid").
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	c, err := repo.ControllerFor(context.Background(), "park_01", 7)

	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestControllerFor_Fault(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT address, devid").
		WithArgs(int64(7)).
		WillReturnError(errors.New("lock wait timeout"))

	_, err := repo.ControllerFor(context.Background(), "park_01", 7)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConfigs_KeyedByModuleID(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE `park_01`.`slavedevice` SET wantedconfig = \\? WHERE slavedeviceid = \\?").
		WithArgs("0100000a3c0a18", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `park_01`.`slavedevice` SET unoccupiedconfig = \\? WHERE slavedeviceid = \\?").
		WithArgs("0100000a3c0a18", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, repo.UpdateWantedConfig(ctx, "park_01", 11, "0100000a3c0a18"))
	require.NoError(t, repo.UpdateUnoccupiedConfig(ctx, "park_01", 11, "0100000a3c0a18"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWantedConfig_Error(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE").WillReturnError(errors.New("read only"))

	err := repo.UpdateWantedConfig(context.Background(), "park_01", 11, "0100000a3c0a18")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "wantedconfig")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewDeviceRepository(db, database.Postgres{}, zap.NewNop())

	mock.ExpectExec(`UPDATE "park_01"."slavedevice" SET wantedconfig = \$1 WHERE slavedeviceid = \$2`).
		WithArgs("0100000a3c0a18", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateWantedConfig(context.Background(), "park_01", 11, "0100000a3c0a18"))
	require.NoError(t, mock.ExpectationsWereMet())
}
