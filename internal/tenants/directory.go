// Package tenants keeps the list of tenant schemas on the fleet server.
//
// The directory is an explicit value owned by the caller: List returns a
// snapshot loaded once per Directory, Refresh reloads it. An optional Redis
// cache shares snapshots between runs for a limited time.
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/store"
)

// Lister loads tenant schema names from the database.
type Lister interface {
	ListTenantSchemas(ctx context.Context) ([]string, error)
}

// Snapshot tenant list as of LoadedAt.
type Snapshot struct {
	Tenants  []string  `json:"tenants"`
	LoadedAt time.Time `json:"loaded_at"`
	Source   string    `json:"-"` // "database" or "cache"
}

// Directory tenant directory service.
type Directory struct {
	lister Lister
	kv     store.KV
	key    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	snap *Snapshot
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache shares snapshots through kv under key for ttl.
func WithCache(kv store.KV, key string, ttl time.Duration) Option {
	return func(d *Directory) {
		d.kv = kv
		d.key = key
		d.ttl = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates a directory over lister.
func NewDirectory(lister Lister, logger *zap.Logger, opts ...Option) *Directory {
	d := &Directory{
		lister: lister,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CacheKey returns the cache key of the tenant list of one fleet server.
func CacheKey(driver, host string) string {
	return fmt.Sprintf("fleettool:tenants:%s:%s", driver, host)
}

// List returns the current snapshot, loading it on first use.
func (d *Directory) List(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snap != nil {
		return d.snap, nil
	}

	if snap, ok := d.fromCache(ctx); ok {
		d.snap = snap
		return snap, nil
	}

	return d.load(ctx)
}

// Refresh reloads the snapshot from the database, bypassing any cache.
// The shared cache entry is dropped first so a failed reload leaves no
// stale list behind for other runs.
func (d *Directory) Refresh(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.kv != nil {
		if err := d.kv.Del(ctx, d.key); err != nil {
			d.logger.Warn("Failed to invalidate tenant cache", zap.Error(err))
		}
	}
	return d.load(ctx)
}

// Search returns the tenants whose name matches pattern, case-insensitively.
func (d *Directory) Search(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant pattern: %w", err)
	}
	snap, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range snap.Tenants {
		if re.MatchString(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *Directory) load(ctx context.Context) (*Snapshot, error) {
	tenants, err := d.lister.ListTenantSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant directory: %w", err)
	}
	snap := &Snapshot{
		Tenants:  tenants,
		LoadedAt: d.now(),
		Source:   "database",
	}
	d.snap = snap

	d.logger.Info("Loaded tenant directory",
		zap.Int("tenants", len(tenants)),
	)

	if d.kv != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			err = d.kv.Set(ctx, d.key, string(data), d.ttl)
		}
		if err != nil {
			d.logger.Warn("Failed to cache tenant directory", zap.Error(err))
		}
	}
	return snap, nil
}

func (d *Directory) fromCache(ctx context.Context) (*Snapshot, bool) {
	if d.kv == nil {
		return nil, false
	}
	raw, err := d.kv.Get(ctx, d.key)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			d.logger.Warn("Tenant cache unavailable", zap.Error(err))
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		d.logger.Warn("Ignoring corrupt tenant cache entry", zap.Error(err))
		return nil, false
	}
	snap.Source = "cache"
	return &snap, true
}
