// Package notify publishes patch run summaries to operators over MQTT and
// HTTP webhooks. Only summaries are sent; device commands never leave the
// sendlist.
package notify

import (
	"time"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

// TenantSummary summary of one tenant batch.
type TenantSummary struct {
	RunID   string          `json:"run_id"`
	Tenant  string          `json:"tenant"`
	DryRun  bool            `json:"dry_run"`
	Summary patcher.Summary `json:"summary"`
	Failed  int             `json:"failed"`
	Error   string          `json:"error,omitempty"`
}

// RunSummary summary of a whole run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	DryRun     bool            `json:"dry_run"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Summary    patcher.Summary `json:"summary"`
	Tenants    []TenantSummary `json:"tenants"`
}

// NewTenantSummary builds the message of one tenant report.
func NewTenantSummary(r *patcher.TenantReport) TenantSummary {
	msg := TenantSummary{
		RunID:   r.RunID,
		Tenant:  r.Tenant,
		DryRun:  r.DryRun,
		Summary: r.Summary(),
		Failed:  len(r.Failed),
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	return msg
}

// NewRunSummary builds the message of a run. Schemas without a module table
// are left out.
func NewRunSummary(r *patcher.RunReport) RunSummary {
	msg := RunSummary{
		RunID:      r.RunID,
		DryRun:     r.DryRun,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    r.Summary(),
	}
	for _, t := range r.Tenants {
		if t.NoTable {
			continue
		}
		msg.Tenants = append(msg.Tenants, NewTenantSummary(t))
	}
	return msg
}
