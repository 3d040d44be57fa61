package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
)

// TimedTask one row of <tenant>.timedtask.
type TimedTask struct {
	TaskHandle        string
	Category          int
	ExecutionInterval int // minutes
	LastExecuted      string
	ExecutionTime     string // HH:MM
	Deadline          int    // minutes
}

// TimedTaskRepository reads and seeds scheduled tasks of a tenant.
type TimedTaskRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewTimedTaskRepository creates a timed task repository on q.
func NewTimedTaskRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *TimedTaskRepository {
	return &TimedTaskRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// Exists reports whether a task with the handle is scheduled.
func (r *TimedTaskRepository) Exists(ctx context.Context, tenant, handle string) (bool, error) {
	table, err := database.Table(r.dialect, tenant, "timedtask")
	if err != nil {
		return false, err
	}
	query := `SELECT COUNT(*) FROM ` + table + ` WHERE taskhandle = ` + r.dialect.Placeholder(1)

	var n int
	if err := r.q.QueryRowContext(ctx, query, handle).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query timed task %s in %s: %w", handle, tenant, err)
	}
	return n > 0, nil
}

// Insert schedules a task.
func (r *TimedTaskRepository) Insert(ctx context.Context, tenant string, task TimedTask) error {
	table, err := database.Table(r.dialect, tenant, "timedtask")
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + table + ` (
			taskhandle, category, executioninterval, lastexecuted, executiontime, deadline
		) VALUES (` + database.Placeholders(r.dialect, 1, 6) + `)`

	if _, err := r.q.ExecContext(ctx, query,
		task.TaskHandle,
		task.Category,
		task.ExecutionInterval,
		task.LastExecuted,
		task.ExecutionTime,
		task.Deadline,
	); err != nil {
		return fmt.Errorf("failed to insert timed task %s in %s: %w", task.TaskHandle, tenant, err)
	}

	r.logger.Info("Inserted timed task",
		zap.String("tenant", tenant),
		zap.String("taskhandle", task.TaskHandle),
		zap.String("executiontime", task.ExecutionTime),
	)
	return nil
}
