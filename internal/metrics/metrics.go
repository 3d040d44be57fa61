// Package metrics counts patch outcomes in a Prometheus registry and writes
// them to a node-exporter textfile at the end of a run. The tool is a batch
// job, so there is no /metrics endpoint to scrape.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

// Collector patch run metrics.
type Collector struct {
	registry *prometheus.Registry
	textfile string

	modules        *prometheus.CounterVec
	tenants        *prometheus.CounterVec
	tenantDuration prometheus.Histogram
	lastRun        *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry. When textfile is
// set, each finished run is written there.
func NewCollector(textfile string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		modules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleettool_modules_total",
			Help: "Modules processed by action and reason",
		}, []string{"action", "reason", "dry_run"}),
		tenants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleettool_tenants_total",
			Help: "Tenant batches by result (ok, error, no_table)",
		}, []string{"result"}),
		tenantDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleettool_tenant_duration_seconds",
			Help:    "Duration of one tenant batch in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleettool_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}, []string{"dry_run"}),
	}

	c.registry.MustRegister(c.modules)
	c.registry.MustRegister(c.tenants)
	c.registry.MustRegister(c.tenantDuration)
	c.registry.MustRegister(c.lastRun)

	return c
}

// Registry exposes the registry for inspection.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ConsumeTenant implements patcher.Sink.
func (c *Collector) ConsumeTenant(ctx context.Context, r *patcher.TenantReport) error {
	switch {
	case r.Err != nil:
		c.tenants.WithLabelValues("error").Inc()
	case r.NoTable:
		c.tenants.WithLabelValues("no_table").Inc()
	default:
		c.tenants.WithLabelValues("ok").Inc()
	}

	dryRun := fmt.Sprint(r.DryRun)
	for _, o := range r.Outcomes {
		c.modules.WithLabelValues(string(o.Action), string(o.Reason), dryRun).Inc()
	}

	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		c.tenantDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
	return nil
}

// ConsumeRun implements patcher.RunSink.
func (c *Collector) ConsumeRun(ctx context.Context, r *patcher.RunReport) error {
	c.lastRun.WithLabelValues(fmt.Sprint(r.DryRun)).Set(float64(r.FinishedAt.Unix()))
	if c.textfile == "" {
		return nil
	}
	return c.WriteTextfile(c.textfile)
}

// WriteTextfile writes all metrics in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
