package patcher

import (
	"context"
	"fmt"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
)

// Encoder builds sendlist entries with the fixed column defaults.
type Encoder struct {
	defaults config.SendlistDefaults
	command  int
}

// NewEncoder creates an encoder for the controller command of cfg.
func NewEncoder(cfg config.PatchConfig) *Encoder {
	return &Encoder{
		defaults: cfg.Sendlist,
		command:  cfg.ControllerCommand,
	}
}

// Encode returns the pending command delivering msgdata through controller.
func (e *Encoder) Encode(controller *domain.Controller, msgdata string) domain.PendingCommand {
	return domain.PendingCommand{
		Priority:    e.defaults.Priority,
		Sureness:    e.defaults.Sureness,
		StartTime:   e.defaults.StartTime,
		RetriesToDo: e.defaults.RetriesToDo,
		LastTry:     e.defaults.LastTry,
		Comment:     e.defaults.Comment,
		Address:     controller.Address,
		DeviceType:  controller.DeviceType,
		Command:     e.command,
		MsgData:     msgdata,
		NewPinCode:  e.defaults.NewPinCode,
		FollowingID: nil,
	}
}

// Enqueue persists cmd. Failures wrap ErrPersistence.
func (e *Encoder) Enqueue(ctx context.Context, ts TenantStore, cmd domain.PendingCommand) (int64, error) {
	id, err := ts.InsertPendingCommand(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return id, nil
}

// MsgData returns the controller payload for a module:
// 4 hex digits slave address, slave command, new config blob.
func MsgData(slaveAddress int, slaveCommand, blob string) (msgdata, hexAddress string) {
	hexAddress = fmt.Sprintf("%04x", slaveAddress)
	return hexAddress + slaveCommand + blob, hexAddress
}
