package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

// HardwareCheckCategory settings category and timed task handle of the
// periodic module hardware check.
const HardwareCheckCategory = "ICY4850HARDWARECHECK"

// Setting one row of <tenant>.settings.
type Setting struct {
	Category string
	ID       string
	Value    string
}

// HardwareCheckDefaults the settings a tenant needs before the hardware check runs.
var HardwareCheckDefaults = []Setting{
	{HardwareCheckCategory, "ENABLE", "true"},
	{HardwareCheckCategory, "MAX_P", "0.55"},
	{HardwareCheckCategory, "MAX_P_SURE_OFF", "0.55"},
	{HardwareCheckCategory, "MIN_I", "0.2"},
	{HardwareCheckCategory, "MINLOADFORCHECK", "10.0"},
	{HardwareCheckCategory, "UNRELIABLEMAIL", "false"},
}

// SettingsRepository reads and seeds tenant settings.
type SettingsRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewSettingsRepository creates a settings repository on q.
func NewSettingsRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// Get returns the value of one setting, ErrNotFound when absent.
func (r *SettingsRepository) Get(ctx context.Context, tenant, category, id string) (string, error) {
	table, err := database.Table(r.dialect, tenant, "settings")
	if err != nil {
		return "", err
	}
	query := `SELECT value FROM ` + table +
		` WHERE category = ` + r.dialect.Placeholder(1) +
		` AND id = ` + r.dialect.Placeholder(2) + ` LIMIT 1`

	var value sql.NullString
	if err := r.q.QueryRowContext(ctx, query, category, id).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s/%s in %s: %w", category, id, tenant, ErrNotFound)
		}
		return "", fmt.Errorf("failed to query setting %s/%s in %s: %w", category, id, tenant, err)
	}
	return value.String, nil
}

// InsertAll inserts the given settings rows in one statement.
func (r *SettingsRepository) InsertAll(ctx context.Context, tenant string, settings []Setting) error {
	if len(settings) == 0 {
		return nil
	}
	table, err := database.Table(r.dialect, tenant, "settings")
	if err != nil {
		return err
	}

	query := `INSERT INTO ` + table + ` (category, id, value) VALUES `
	args := make([]any, 0, len(settings)*3)
	for i, s := range settings {
		if i > 0 {
			query += ", "
		}
		query += "(" + database.Placeholders(r.dialect, i*3+1, 3) + ")"
		args = append(args, s.Category, s.ID, s.Value)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert settings in %s: %w", tenant, err)
	}

	r.logger.Info("Inserted settings",
		zap.String("tenant", tenant),
		zap.Int("count", len(settings)),
	)
	return nil
}
