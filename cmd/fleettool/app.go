package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/logger"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/metrics"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/notify"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/report"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/service"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/store"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/tenants"
)

// app the wired components of one command invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	dialect database.Dialect
	svc     *service.Maintenance

	closers []func()
}

// newApp loads the configuration and connects everything a command needs.
// The patch engine and its report sinks are only built when withPatcher is set.
func newApp(ctx context.Context, flags *rootFlags, withPatcher bool) (*app, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.target != "" {
		if err := cfg.Database.SelectTarget(flags.target); err != nil {
			return nil, err
		}
	}
	if flags.exportDir != "" {
		cfg.Export.Dir = flags.exportDir
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = logger.RunLogPath(cfg.Export.Dir, time.Now())
	}
	log, err := logger.NewLogger(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "fleettool",
		File:        logFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	db, dialect, err := database.Open(&cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db, a.dialect = db, dialect
	a.closers = append(a.closers, func() { _ = db.Close() })
	log.Info("Connected to fleet database",
		zap.String("driver", cfg.Database.Driver),
		zap.String("host", cfg.Database.Host),
	)

	dir := tenants.NewDirectory(repository.NewSchemaRepository(db, cfg.Tenants.Reserved, log), log, a.cacheOptions(ctx)...)

	opts := []service.Option{}
	if withPatcher {
		o, err := a.orchestrator(flags.export)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithOrchestrator(o))
	}
	a.svc = service.NewMaintenance(db, dialect, dir, cfg, log, opts...)
	return a, nil
}

// cacheOptions shares the tenant snapshot through Redis when enabled.
// An unreachable Redis only costs the cache.
func (a *app) cacheOptions(ctx context.Context) []tenants.Option {
	if !a.cfg.Redis.Enabled {
		return nil
	}
	client, err := store.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		a.logger.Warn("Redis unavailable, tenant cache disabled", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	key := tenants.CacheKey(a.cfg.Database.Driver, a.cfg.Database.Host)
	return []tenants.Option{tenants.WithCache(store.NewRedisKV(client), key, a.cfg.Tenants.CacheTTL)}
}

func (a *app) orchestrator(export bool) (*patcher.Orchestrator, error) {
	pipeline, err := patcher.NewPipeline(a.cfg.Patch, a.logger)
	if err != nil {
		return nil, err
	}

	sinks := reportSinks(a.cfg, export, a.logger)
	if a.cfg.MQTT.Enabled {
		client, err := notify.NewClient(&a.cfg.MQTT)
		if err != nil {
			a.logger.Warn("MQTT unavailable, run summaries not published", zap.Error(err))
		} else {
			a.closers = append(a.closers, client.Disconnect)
			sinks = append(sinks, notify.NewMQTTSink(client, a.cfg.MQTT.Topic, a.cfg.MQTT.QoS, a.logger))
		}
	}
	if a.cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(a.cfg.Webhook.URL, a.cfg.Webhook.Timeout, a.logger))
	}

	s := patcher.NewSQLStore(a.db, a.dialect, a.logger)
	return patcher.NewOrchestrator(s, pipeline, a.logger, sinks...), nil
}

// reportSinks the local sinks of a patch run. Outcome files are written
// only when export is set.
func reportSinks(cfg *config.Config, export bool, log *zap.Logger) []patcher.Sink {
	var sinks []patcher.Sink
	if export {
		sinks = append(sinks,
			report.NewCSVSink(cfg.Export.Dir, log),
			report.NewWorkbookSink(cfg.Export.Dir, log),
		)
	}
	return append(sinks, metrics.NewCollector(cfg.Metrics.Textfile))
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
