package inventory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

const (
	defaultTTL          = 3 * time.Hour
	defaultFetchTimeout = 10 * time.Second
	defaultRetryAfter   = time.Minute
)

// Entry is one cached model list. It is replaced wholesale on refresh.
type Entry struct {
	Models    []string
	FetchedAt time.Time
	// Fallback marks an entry substituted because the catalog returned no records.
	Fallback bool
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithRetryAfter bounds how often a failing catalog is called again.
func WithRetryAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.retryAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache keeps one model list per purchase type. Get never returns an empty list.
type Cache struct {
	catalog      contractx.Catalog
	fallback     []string
	ttl          time.Duration
	fetchTimeout time.Duration
	retryAfter   time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	entries  map[statex.PurchaseType]Entry
	failedAt map[statex.PurchaseType]time.Time

	group singleflight.Group
}

func NewCache(catalog contractx.Catalog, fallback []string, opts ...Option) *Cache {
	c := &Cache{
		catalog:      catalog,
		fallback:     Dedup(fallback),
		ttl:          defaultTTL,
		fetchTimeout: defaultFetchTimeout,
		retryAfter:   defaultRetryAfter,
		now:          time.Now,
		entries:      make(map[statex.PurchaseType]Entry),
		failedAt:     make(map[statex.PurchaseType]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the models for pt. A fresh entry is served without I/O unless force is set.
func (c *Cache) Get(ctx context.Context, pt statex.PurchaseType, force bool) []string {
	if !force {
		if models, ok := c.cached(pt); ok {
			return models
		}
	}

	v, _, _ := c.group.Do(string(pt), func() (any, error) {
		return c.refresh(ctx, pt), nil
	})
	return clone(v.([]string))
}

// RefreshAll forces a refresh of every purchase type.
func (c *Cache) RefreshAll(ctx context.Context) map[statex.PurchaseType][]string {
	out := make(map[statex.PurchaseType][]string, 2)
	for _, pt := range []statex.PurchaseType{statex.PurchaseNew, statex.PurchaseUsed} {
		out[pt] = c.Get(ctx, pt, true)
	}
	return out
}

// Entry returns the cached entry for pt, if any.
func (c *Cache) Entry(pt statex.PurchaseType) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[pt]
	if !ok {
		return Entry{}, false
	}
	e.Models = clone(e.Models)
	return e, true
}

func (c *Cache) cached(pt statex.PurchaseType) ([]string, bool) {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[pt]
	if ok && now.Sub(e.FetchedAt) < c.ttl {
		return clone(e.Models), true
	}
	if failed, ok2 := c.failedAt[pt]; ok2 && now.Sub(failed) < c.retryAfter {
		if ok {
			return clone(e.Models), true
		}
		return clone(c.fallback), true
	}
	return nil, false
}

func (c *Cache) refresh(ctx context.Context, pt statex.PurchaseType) []string {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	logger := log.With().Str("purchase_type", string(pt)).Logger()

	models, err := c.catalog.FetchModels(fetchCtx, pt)
	now := c.now()
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues(string(pt), "error").Inc()
		logger.Warn().Err(err).Msg("catalog refresh failed, serving last good models")

		c.mu.Lock()
		defer c.mu.Unlock()
		c.failedAt[pt] = now
		if e, ok := c.entries[pt]; ok {
			return e.Models
		}
		return c.fallback
	}

	entry := Entry{Models: Dedup(models), FetchedAt: now}
	if len(entry.Models) == 0 {
		entry.Models = c.fallback
		entry.Fallback = true
		metrics.CatalogRefreshes.WithLabelValues(string(pt), "empty").Inc()
		logger.Warn().Msg("catalog returned no models, using fallback list")
	} else {
		metrics.CatalogRefreshes.WithLabelValues(string(pt), "ok").Inc()
		logger.Info().Int("models", len(entry.Models)).Msg("catalog refreshed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pt] = entry
	delete(c.failedAt, pt)
	return entry.Models
}

// Dedup trims names and drops blanks and case-insensitive repeats, keeping first-seen order.
func Dedup(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		key := strings.ToLower(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

func clone(models []string) []string {
	return append([]string(nil), models...)
}
