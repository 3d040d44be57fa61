package patcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/configblob"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
)

const msgDataLength = 20

// Pipeline validates one module and, when every check passes, enqueues the
// controller command that pushes the new duration to it.
type Pipeline struct {
	cfg          config.PatchConfig
	durationHex  string
	controllerOK map[int]struct{}
	encoder      *Encoder
	logger       *zap.Logger
}

// NewPipeline creates a pipeline for cfg.
func NewPipeline(cfg config.PatchConfig, logger *zap.Logger) (*Pipeline, error) {
	d, err := configblob.DurationHex(cfg.TargetSeconds)
	if err != nil {
		return nil, err
	}
	var allowed map[int]struct{}
	if len(cfg.ControllerDeviceTypes) > 0 {
		allowed = make(map[int]struct{}, len(cfg.ControllerDeviceTypes))
		for _, t := range cfg.ControllerDeviceTypes {
			allowed[t] = struct{}{}
		}
	}
	return &Pipeline{
		cfg:          cfg,
		durationHex:  d,
		controllerOK: allowed,
		encoder:      NewEncoder(cfg),
		logger:       logger,
	}, nil
}

// rewrite result of one config column.
type rewrite struct {
	codecErr error // existing blob unusable
	writeErr error // persisting the new blob failed
}

func (r rewrite) ok() bool { return r.codecErr == nil && r.writeErr == nil }

// Process runs every step for m and returns its single outcome. It never
// returns an error: all failures are classified into the outcome.
func (p *Pipeline) Process(ctx context.Context, ts TenantStore, tenant string, m domain.Module, dryRun bool) domain.Outcome {
	out := domain.Outcome{
		Tenant:       tenant,
		ModuleID:     m.ModuleID,
		SlaveAddress: m.SlaveAddress,
		OldConfig:    m.CurrentConfig,
		DryRun:       dryRun,
	}
	log := p.logger.With(
		zap.String("tenant", tenant),
		zap.Int("slave_address", m.SlaveAddress),
		zap.Int64("slavedeviceid", m.ModuleID),
	)

	if m.DeviceTypeID != p.cfg.ModuleDeviceType {
		log.Debug("Module type not eligible", zap.Int("slavedevid", m.DeviceTypeID))
		return skipped(out, domain.ReasonNotEligibleType, "")
	}

	seconds, err := configblob.ExtractDurationSeconds(m.CurrentConfig)
	if err != nil {
		log.Warn("Unreadable curconfig", zap.String("curconfig", m.CurrentConfig), zap.Error(err))
		return skipped(out, domain.ReasonMalformedConfig, err.Error())
	}
	if seconds >= p.cfg.TargetSeconds {
		log.Debug("Module already compliant", zap.Int("seconds", seconds))
		return skipped(out, domain.ReasonAlreadyCompliant, "")
	}

	newCur, err := configblob.RewriteDuration(m.CurrentConfig, p.durationHex)
	if err != nil {
		return skipped(out, domain.ReasonMalformedConfig, err.Error())
	}
	out.NewConfig = newCur
	log.Info("Will change module duration",
		zap.Int("seconds", seconds),
		zap.String("old", m.CurrentConfig),
		zap.String("new", newCur),
	)

	// wanted and unoccupied are persisted before the final gate and stay
	// written even when the command is not enqueued.
	wanted := p.rewriteColumn(ctx, log, "wantedconfig", m.WantedConfig, dryRun, func(blob string) error {
		return ts.UpdateWantedConfig(ctx, m.ModuleID, blob)
	})
	unoccupied := p.rewriteColumn(ctx, log, "unoccupiedconfig", m.UnoccupiedConfig, dryRun, func(blob string) error {
		return ts.UpdateUnoccupiedConfig(ctx, m.ModuleID, blob)
	})

	if err := errors.Join(wanted.writeErr, unoccupied.writeErr); err != nil {
		return errored(out, domain.ReasonPersistenceFault, err.Error())
	}

	controller, err := ts.ControllerFor(ctx, m.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("No controller for module", zap.Int64("deviceid", m.DeviceID))
			return skipped(out, domain.ReasonNoController, "")
		}
		log.Error("Controller lookup failed", zap.Error(err))
		return errored(out, domain.ReasonUnexpectedError, err.Error())
	}
	out.ControllerAddress = strconv.FormatInt(controller.Address, 10)
	out.ControllerDeviceType = strconv.Itoa(controller.DeviceType)

	if !wanted.ok() || !unoccupied.ok() {
		detail := errors.Join(wanted.codecErr, unoccupied.codecErr)
		log.Warn("Config rewrite checks failed", zap.Error(detail))
		return skipped(out, domain.ReasonChecksFailed, fmt.Errorf("%w: %w", ErrValidationFailed, detail).Error())
	}

	msgdata, hexAddress := MsgData(m.SlaveAddress, p.cfg.SlaveCommand, newCur)
	if err := p.finalGate(msgdata, hexAddress, m.SlaveAddress, controller); err != nil {
		log.Warn("Final check failed", zap.String("msgdata", msgdata), zap.Error(err))
		return skipped(out, domain.ReasonFinalCheckFailed, err.Error())
	}

	cmd := p.encoder.Encode(controller, msgdata)
	if dryRun {
		log.Info("Dry run: would add command to sendlist",
			zap.Int64("controller_address", controller.Address),
			zap.String("msgdata", msgdata),
		)
		out.Action = domain.ActionDryRunAdded
		return out
	}

	if _, err := p.encoder.Enqueue(ctx, ts, cmd); err != nil {
		log.Error("Failed to add command to sendlist", zap.Error(err))
		return errored(out, domain.ReasonPersistenceFault, err.Error())
	}
	out.Action = domain.ActionAdded
	return out
}

func (p *Pipeline) rewriteColumn(ctx context.Context, log *zap.Logger, column, blob string, dryRun bool, persist func(string) error) rewrite {
	newBlob, err := configblob.RewriteDuration(blob, p.durationHex)
	if err != nil {
		return rewrite{codecErr: fmt.Errorf("%s: %w", column, err)}
	}
	if dryRun {
		log.Info("Dry run: would update "+column, zap.String("config", newBlob))
		return rewrite{}
	}
	if err := ctx.Err(); err != nil {
		return rewrite{writeErr: fmt.Errorf("%w: %s: %w", ErrPersistence, column, err)}
	}
	if err := persist(newBlob); err != nil {
		log.Error("Failed to update "+column, zap.Error(err))
		return rewrite{writeErr: fmt.Errorf("%w: %w", ErrPersistence, err)}
	}
	return rewrite{}
}

func (p *Pipeline) finalGate(msgdata, hexAddress string, slaveAddress int, c *domain.Controller) error {
	switch {
	case slaveAddress < 0 || len(hexAddress) > 4:
		return fmt.Errorf("%w: slave address %d does not fit 4 hex digits", ErrValidationFailed, slaveAddress)
	case len(msgdata) != msgDataLength:
		return fmt.Errorf("%w: msgdata length %d, want %d", ErrValidationFailed, len(msgdata), msgDataLength)
	case c.Address == 0:
		return fmt.Errorf("%w: controller %d has no address", ErrValidationFailed, c.DeviceID)
	case c.DeviceType == 0:
		return fmt.Errorf("%w: controller %d has no device type", ErrValidationFailed, c.DeviceID)
	}
	if p.controllerOK != nil {
		if _, ok := p.controllerOK[c.DeviceType]; !ok {
			return fmt.Errorf("%w: controller type %d not addressable", ErrValidationFailed, c.DeviceType)
		}
	}
	return nil
}

func skipped(out domain.Outcome, reason domain.Reason, detail string) domain.Outcome {
	out.Action = domain.ActionSkipped
	out.Reason = reason
	out.Detail = detail
	return out
}

func errored(out domain.Outcome, reason domain.Reason, detail string) domain.Outcome {
	out.Action = domain.ActionError
	out.Reason = reason
	out.Detail = detail
	return out
}
