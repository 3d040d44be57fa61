package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/domain"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/metrics"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/report"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/service"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()

	assert.Equal(t, "fleettool", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
		assert.NotNil(t, c.RunE, "%s should have RunE", c.Name())
	}
	for _, want := range []string{
		"patch-durations", "scan-durations", "duration-stats", "duration-report",
		"seed-timedtask", "seed-settings", "check-enabled", "hardware-status",
		"list-tenants", "search-tenants", "find-address",
	} {
		assert.True(t, names[want], "missing command %s", want)
	}

	for _, flag := range []string{"config", "db", "export-dir", "dry-run", "yes", "export"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing --%s", flag)
	}
	assert.Equal(t, "true", cmd.PersistentFlags().Lookup("export").DefValue)
}

func TestPatchCommandFlags(t *testing.T) {
	cmd := newPatchCommand(&rootFlags{})
	all := cmd.Flags().Lookup("all")
	require.NotNil(t, all)
	assert.Equal(t, "false", all.DefValue)
}

func TestConfirmLive(t *testing.T) {
	assert.ErrorIs(t, confirmLive(&rootFlags{}), errLiveRunNotConfirmed)
	assert.NoError(t, confirmLive(&rootFlags{dryRun: true}))
	assert.NoError(t, confirmLive(&rootFlags{yes: true}))
}

func TestLiveRunRefusedWithoutConfirmation(t *testing.T) {
	for _, name := range []string{"patch-durations", "seed-timedtask", "seed-settings"} {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCommand()
			cmd.SetArgs([]string{name, "--config", "does-not-exist.yaml"})
			cmd.SetOut(&bytes.Buffer{})

			err := cmd.Execute()
			assert.ErrorIs(t, err, errLiveRunNotConfirmed)
		})
	}
}

func TestPatchCommandNeedsTenants(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"patch-durations", "--dry-run"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestFindAddressRejectsBadAddress(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"find-address", "zz"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"4660", 4660, false},
		{"0x1234", 4660, false},
		{" 0X1a ", 26, false},
		{"-1", 0, true},
		{"12ab", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAddress(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPrintRun(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &patcher.RunReport{
		RunID:     "run-1",
		DryRun:    true,
		StartedAt: now,
		Tenants: []*patcher.TenantReport{
			{
				Tenant: "acme",
				Outcomes: []domain.Outcome{
					{Tenant: "acme", Action: domain.ActionDryRunAdded},
					{Tenant: "acme", Action: domain.ActionSkipped, Reason: domain.ReasonAlreadyCompliant},
				},
			},
			{Tenant: "broken", Err: errors.New("connection refused")},
		},
	}

	var out bytes.Buffer
	printRun(&out, run)

	s := out.String()
	assert.Contains(t, s, "Run run-1 (dry-run): 2 tenant(s), 2 module(s)")
	assert.Contains(t, s, "dry-run enqueued: 1")
	assert.Contains(t, s, "already_compliant")
	assert.Contains(t, s, "tenant broken failed: connection refused")
}

func TestPrintSeed(t *testing.T) {
	var out bytes.Buffer
	printSeed(&out, &service.SeedResult{
		DryRun:   true,
		Seeded:   []string{"acme"},
		Existing: []string{"globex", "initech"},
		Failures: []service.TenantError{{Tenant: "umbrella", Err: errors.New("timeout")}},
	})

	assert.Contains(t, out.String(), "would seed 1 tenant(s), 2 already present")
	assert.Contains(t, out.String(), "tenant umbrella failed: timeout")
}

func TestReportSinks_ExportFlag(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Dir = t.TempDir()

	with := reportSinks(cfg, true, zap.NewNop())
	require.Len(t, with, 3)
	assert.IsType(t, &report.CSVSink{}, with[0])
	assert.IsType(t, &report.WorkbookSink{}, with[1])
	assert.IsType(t, &metrics.Collector{}, with[2])

	without := reportSinks(cfg, false, zap.NewNop())
	require.Len(t, without, 1)
	assert.IsType(t, &metrics.Collector{}, without[0])
}
