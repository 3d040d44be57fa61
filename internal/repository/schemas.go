package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

// SchemaRepository lists the tenant schemas on the fleet server.
type SchemaRepository struct {
	q        database.Querier
	reserved map[string]struct{}
	logger   *zap.Logger
}

// systemSchemaPrefix PostgreSQL system schemas (pg_catalog, pg_temp_N, pg_toast_temp_N).
const systemSchemaPrefix = "pg_"

// NewSchemaRepository creates a schema lister. Schemas named in reserved
// (case-insensitive) and PostgreSQL system schemas are never returned.
func NewSchemaRepository(q database.Querier, reserved []string, logger *zap.Logger) *SchemaRepository {
	set := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		set[strings.ToLower(name)] = struct{}{}
	}
	return &SchemaRepository{
		q:        q,
		reserved: set,
		logger:   logger,
	}
}

// ListTenantSchemas returns the sorted tenant schema names.
func (r *SchemaRepository) ListTenantSchemas(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT schema_name FROM information_schema.schemata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema name: %w", err)
		}
		lower := strings.ToLower(name)
		if _, skip := r.reserved[lower]; skip || strings.HasPrefix(lower, systemSchemaPrefix) {
			continue
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schemas: %w", err)
	}

	sort.Strings(schemas)
	r.logger.Debug("Listed tenant schemas", zap.Int("count", len(schemas)))
	return schemas, nil
}
