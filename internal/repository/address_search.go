package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

const addressSearchLimit = 50

// AddressMatch one device or slavedevice row found by address.
type AddressMatch struct {
	Table      string
	RowID      int64
	Address    string
	DeviceType int
}

// AddressRepository searches device and slavedevice rows by bus address.
type AddressRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewAddressRepository creates an address search repository on q.
func NewAddressRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *AddressRepository {
	return &AddressRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// AddressForms returns the decimal, lowercase hex and 0x-prefixed hex
// representations an address may be stored as.
func AddressForms(address int64) (decimal, hex, hex0x string) {
	hex = strconv.FormatInt(address, 16)
	return strconv.FormatInt(address, 10), hex, "0x" + hex
}

// DevicesByAddress returns controller rows matching address in any of its forms.
func (r *AddressRepository) DevicesByAddress(ctx context.Context, tenant string, address int64) ([]AddressMatch, error) {
	return r.search(ctx, tenant, "device", "deviceid", "address", "devid", address)
}

// ModulesByAddress returns slavedevice rows matching address in any of its forms.
func (r *AddressRepository) ModulesByAddress(ctx context.Context, tenant string, address int64) ([]AddressMatch, error) {
	return r.search(ctx, tenant, "slavedevice", "slavedeviceid", "slaveaddress", "slavedevid", address)
}

func (r *AddressRepository) search(ctx context.Context, tenant, tableName, idCol, addrCol, typeCol string, address int64) ([]AddressMatch, error) {
	table, err := database.Table(r.dialect, tenant, tableName)
	if err != nil {
		return nil, err
	}
	decimal, hex, hex0x := AddressForms(address)
	asText := `LOWER(CAST(` + addrCol + ` AS CHAR(32)))`
	query := `
		SELECT ` + idCol + `, ` + addrCol + `, ` + typeCol + `
		FROM ` + table + `
		WHERE ` + asText + ` IN (` + database.Placeholders(r.dialect, 1, 3) + `)
		LIMIT ` + strconv.Itoa(addressSearchLimit)

	rows, err := r.q.QueryContext(ctx, query, decimal, hex, hex0x)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s of %s for address %d: %w", tableName, tenant, address, err)
	}
	defer rows.Close()

	var matches []AddressMatch
	for rows.Next() {
		var id sql.NullInt64
		var addr sql.NullString
		var devType sql.NullInt64
		if err := rows.Scan(&id, &addr, &devType); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", tableName, err)
		}
		matches = append(matches, AddressMatch{
			Table:      tableName,
			RowID:      id.Int64,
			Address:    addr.String,
			DeviceType: int(devType.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("Address search",
		zap.String("tenant", tenant),
		zap.String("table", tableName),
		zap.Int64("address", address),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}
