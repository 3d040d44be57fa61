package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/database"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/report"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/repository"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/tenants"
)

const addressSampleSize = 5

// ListTenants returns the tenant directory snapshot, reloading it when refresh is set.
func (m *Maintenance) ListTenants(ctx context.Context, refresh bool) (*tenants.Snapshot, error) {
	if refresh {
		return m.dir.Refresh(ctx)
	}
	return m.dir.List(ctx)
}

// SearchTenants returns the tenants matching a case-insensitive regular expression.
func (m *Maintenance) SearchTenants(ctx context.Context, pattern string) ([]string, error) {
	matches, err := m.dir.Search(ctx, pattern)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Tenant search",
		zap.String("pattern", pattern),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// AddressHit device and module rows at one address in one tenant.
type AddressHit struct {
	Tenant      string
	Devices     []repository.AddressMatch
	Modules     []repository.AddressMatch
	DeviceTypes []int
	ModuleTypes []int
	MatchedType int
	// TypeMismatch no type occurs on both sides; MatchedType is a representative.
	TypeMismatch bool
}

// Count total rows found.
func (h AddressHit) Count() int { return len(h.Devices) + len(h.Modules) }

// AddressResult address search across the fleet.
type AddressResult struct {
	Address  int64
	Hits     []AddressHit
	Failures []TenantError
	Path     string
}

// FindAddress searches every tenant for controllers and modules at address,
// stored as decimal, hex or 0x-prefixed hex. A tenant counts as a hit when
// the matched rows carry type information; the matched type is the first
// type common to both tables, otherwise a representative type is taken.
func (m *Maintenance) FindAddress(ctx context.Context, address int64, export bool) (*AddressResult, error) {
	res := &AddressResult{Address: address}
	failures, err := m.eachTenant(ctx, "find-address", func(ctx context.Context, tenant string) error {
		devices, err := m.address.DevicesByAddress(ctx, tenant, address)
		if err != nil && !database.IsNoSuchTable(err) {
			return err
		}
		modules, err := m.address.ModulesByAddress(ctx, tenant, address)
		if err != nil && !database.IsNoSuchTable(err) {
			return err
		}
		hit, ok := newAddressHit(tenant, devices, modules)
		if !ok {
			return nil
		}
		if hit.TypeMismatch {
			m.logger.Warn("Address type mismatch, using representative type",
				zap.String("tenant", tenant),
				zap.Int64("address", address),
				zap.Int("matched_type", hit.MatchedType),
			)
		}
		m.logger.Info("Address found",
			zap.String("tenant", tenant),
			zap.Int64("address", address),
			zap.Int("count", hit.Count()),
			zap.Int("matched_type", hit.MatchedType),
		)
		res.Hits = append(res.Hits, hit)
		return nil
	})
	res.Failures = failures
	if err != nil {
		return res, err
	}

	if export && len(res.Hits) > 0 {
		name := fmt.Sprintf("icy4850_addresssearch_%d_%s.csv", address, m.now().Format(fileTimestamp))
		res.Path = filepath.Join(m.exportDir, name)
		if err := report.WriteCSV(res.Path, addressHeader, addressRows(res.Hits)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func newAddressHit(tenant string, devices, modules []repository.AddressMatch) (AddressHit, bool) {
	hit := AddressHit{
		Tenant:      tenant,
		Devices:     devices,
		Modules:     modules,
		DeviceTypes: distinctTypes(devices),
		ModuleTypes: distinctTypes(modules),
	}
	switch {
	case len(hit.DeviceTypes) > 0 && len(hit.ModuleTypes) > 0:
		for _, t := range hit.DeviceTypes {
			if containsInt(hit.ModuleTypes, t) {
				hit.MatchedType = t
				return hit, true
			}
		}
		hit.MatchedType = hit.DeviceTypes[0]
		hit.TypeMismatch = true
	case len(hit.DeviceTypes) > 0:
		hit.MatchedType = hit.DeviceTypes[0]
	case len(hit.ModuleTypes) > 0:
		hit.MatchedType = hit.ModuleTypes[0]
	default:
		return AddressHit{}, false
	}
	return hit, true
}

// distinctTypes returns the device types of rows in first-seen order.
// A zero type means the row has none.
func distinctTypes(rows []repository.AddressMatch) []int {
	var types []int
	for _, r := range rows {
		if r.DeviceType != 0 && !containsInt(types, r.DeviceType) {
			types = append(types, r.DeviceType)
		}
	}
	return types
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

var addressHeader = []string{"schema", "count", "matchedType", "deviceTypes", "slaveTypes", "deviceSample", "slaveSample"}

func addressRows(hits []AddressHit) [][]string {
	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, []string{
			h.Tenant,
			strconv.Itoa(h.Count()),
			strconv.Itoa(h.MatchedType),
			joinInts(h.DeviceTypes),
			joinInts(h.ModuleTypes),
			sample(h.Devices),
			sample(h.Modules),
		})
	}
	return rows
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func sample(rows []repository.AddressMatch) string {
	if len(rows) > addressSampleSize {
		rows = rows[:addressSampleSize]
	}
	if rows == nil {
		rows = []repository.AddressMatch{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return ""
	}
	return string(data)
}
