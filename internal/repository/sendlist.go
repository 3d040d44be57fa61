package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
)

// SendlistRepository appends commands to the per-tenant outbound queue. The
// external dispatcher consumes and deletes rows; this tool only inserts.
type SendlistRepository struct {
	q       database.Querier
	dialect database.Dialect
	logger  *zap.Logger
}

// NewSendlistRepository creates a sendlist repository on q.
func NewSendlistRepository(q database.Querier, dialect database.Dialect, logger *zap.Logger) *SendlistRepository {
	return &SendlistRepository{
		q:       q,
		dialect: dialect,
		logger:  logger,
	}
}

// InsertPendingCommand appends one row to <tenant>.sendlist and returns its id.
// The id is 0 when the driver does not report generated keys.
func (r *SendlistRepository) InsertPendingCommand(ctx context.Context, tenant string, cmd domain.PendingCommand) (int64, error) {
	table, err := database.Table(r.dialect, tenant, "sendlist")
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO ` + table + ` (
			priority, sureness, starttime, retrystodo, lasttry, comment,
			address, devid, command, msgdata, newpincode, followingid
		) VALUES (` + database.Placeholders(r.dialect, 1, 12) + `)`

	var followingID any
	if cmd.FollowingID != nil {
		followingID = *cmd.FollowingID
	}

	res, err := r.q.ExecContext(ctx, query,
		cmd.Priority,
		cmd.Sureness,
		cmd.StartTime,
		cmd.RetriesToDo,
		cmd.LastTry,
		cmd.Comment,
		cmd.Address,
		cmd.DeviceType,
		cmd.Command,
		cmd.MsgData,
		cmd.NewPinCode,
		followingID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sendlist row in %s: %w", tenant, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		id = 0
	}

	r.logger.Info("Added command to sendlist",
		zap.String("tenant", tenant),
		zap.Int64("sendlist_id", id),
		zap.Int64("address", cmd.Address),
		zap.Int("devid", cmd.DeviceType),
		zap.String("msgdata", cmd.MsgData),
	)
	return id, nil
}
