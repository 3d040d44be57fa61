package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

// Hardware check states written by the timed task.
const (
	StatusOK         = "STATUS_OK"
	StatusDefect     = "STATUS_DEFECT"
	StatusUnreliable = "STATUS_UNRELIABLE"
)

// HardwareIssue one measurement row of <tenant>.icy4850hardwareissue.
// State is empty when the check has not reached a verdict yet.
type HardwareIssue struct {
	SlaveAddress int
	State        string
	CurrentRMS   float64
	ActivePower  float64
	Timestamp    string
}

// HardwareIssueRepository reads hardware check measurements.
type HardwareIssueRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewHardwareIssueRepository creates a hardware issue repository on q.
func NewHardwareIssueRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *HardwareIssueRepository {
	return &HardwareIssueRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// AddressesWithIssues returns the distinct slave addresses that have at least
// one measurement whose state is not OK.
func (r *HardwareIssueRepository) AddressesWithIssues(ctx context.Context, tenant string) ([]int, error) {
	table, err := database.Table(r.dialect, tenant, "icy4850hardwareissue")
	if err != nil {
		return nil, err
	}
	query := `SELECT DISTINCT slaveaddress FROM ` + table +
		` WHERE state <> ` + r.dialect.Placeholder(1) + ` ORDER BY slaveaddress`

	rows, err := r.q.QueryContext(ctx, query, StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to query hardware issues of %s: %w", tenant, err)
	}
	defer rows.Close()

	var addresses []int
	for rows.Next() {
		var addr int
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan hardware issue address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// LatestIssue returns the most recent measurement of one address.
func (r *HardwareIssueRepository) LatestIssue(ctx context.Context, tenant string, slaveAddress int) (*HardwareIssue, error) {
	return r.oneIssue(ctx, tenant, slaveAddress, false)
}

// FirstIssue returns the oldest measurement of one address whose state is not OK.
func (r *HardwareIssueRepository) FirstIssue(ctx context.Context, tenant string, slaveAddress int) (*HardwareIssue, error) {
	return r.oneIssue(ctx, tenant, slaveAddress, true)
}

func (r *HardwareIssueRepository) oneIssue(ctx context.Context, tenant string, slaveAddress int, firstNotOK bool) (*HardwareIssue, error) {
	table, err := database.Table(r.dialect, tenant, "icy4850hardwareissue")
	if err != nil {
		return nil, err
	}
	args := []any{slaveAddress}
	where := `slaveaddress = ` + r.dialect.Placeholder(1)
	order := `DESC`
	if firstNotOK {
		where += ` AND state <> ` + r.dialect.Placeholder(2)
		args = append(args, StatusOK)
		order = `ASC`
	}
	query := `
		SELECT slaveaddress, state, currentrms, activepower, timestamp
		FROM ` + table + `
		WHERE ` + where + `
		ORDER BY timestamp ` + order + `
		LIMIT 1`

	var issue HardwareIssue
	var state, ts sql.NullString
	var current, power sql.NullFloat64
	err = r.q.QueryRowContext(ctx, query, args...).Scan(&issue.SlaveAddress, &state, &current, &power, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("hardware issue %d in %s: %w", slaveAddress, tenant, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query hardware issue %d in %s: %w", slaveAddress, tenant, err)
	}
	issue.State = state.String
	issue.CurrentRMS = current.Float64
	issue.ActivePower = power.Float64
	issue.Timestamp = ts.String
	return &issue, nil
}
