package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fixturefeed/internal/metrics"
	"fixturefeed/logger"
	"fixturefeed/models"
)

// Loader runs the feed pipeline for one refresh window.
type Loader func(ctx context.Context, token int64) (*models.NormalizedTable, error)

// Cache holds the single most recent pipeline result. An entry is served
// while its token matches the current time bucket and it is younger than
// the TTL. Concurrent misses share one pipeline run.
type Cache struct {
	load   Loader
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
	onFill func(*models.CacheEntry)

	mu    sync.Mutex
	entry *models.CacheEntry
	gen   uint64
	group singleflight.Group
	hooks sync.WaitGroup

	log *logger.Log
}

type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithOnFill registers fn to be called after every stored refresh. fn runs
// on its own goroutine so callers waiting on the refresh are not held up;
// use Wait to drain pending calls.
func WithOnFill(fn func(*models.CacheEntry)) Option {
	return func(c *Cache) { c.onFill = fn }
}

// DefaultWindow is used when New is given a non-positive window.
const DefaultWindow = 5 * time.Minute

func New(load Loader, window, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		load:   load,
		window: window,
		ttl:    ttl,
		now:    time.Now,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.window <= 0 {
		c.window = DefaultWindow
	}
	if c.ttl <= 0 {
		c.ttl = c.window
	}
	return c
}

// TokenAt returns the refresh bucket t falls into for the given window. It
// increases monotonically with t and changes once per window.
func TokenAt(t time.Time, window time.Duration) int64 {
	if window <= 0 {
		window = DefaultWindow
	}
	return t.UnixNano() / int64(window)
}

// Token is TokenAt with the cache's own window.
func (c *Cache) Token(t time.Time) int64 {
	return TokenAt(t, c.window)
}

// GetOrRefresh returns the cached entry when it is still fresh and runs the
// loader otherwise. When a refresh fails, the previous entry is returned
// together with the error as long as it has not outlived the TTL.
func (c *Cache) GetOrRefresh(ctx context.Context) (*models.CacheEntry, error) {
	now := c.now()
	token := c.Token(now)

	c.mu.Lock()
	entry, gen := c.entry, c.gen
	c.mu.Unlock()

	if c.fresh(entry, token, now) {
		c.recordLookup(true)
		return entry, nil
	}
	c.recordLookup(false)

	key := fmt.Sprintf("%d/%d", gen, token)
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.fill(ctx, gen, token)
	})
	if err != nil {
		if entry != nil && entry.Age(now) < c.ttl {
			return entry, err
		}
		return nil, err
	}
	if shared {
		c.log.WithComponent("cache").WithFields(logger.Fields{"token": token}).Debug("joined in-flight refresh")
	}
	return v.(*models.CacheEntry), nil
}

func (c *Cache) fill(ctx context.Context, gen uint64, token int64) (*models.CacheEntry, error) {
	log := c.log.WithComponent("cache").WithFields(logger.Fields{"token": token})

	c.mu.Lock()
	if c.gen == gen && c.fresh(c.entry, token, c.now()) {
		entry := c.entry
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	table, err := c.load(context.WithoutCancel(ctx), token)
	if err != nil {
		return nil, err
	}

	entry := &models.CacheEntry{
		Table:     table,
		CreatedAt: c.now(),
		Token:     token,
		RunID:     uuid.NewString(),
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.WithRun(entry.RunID).Info("cache cleared during refresh; result not stored")
		return entry, nil
	}
	if c.entry != nil && c.entry.Token > token {
		newer := c.entry.Token
		c.mu.Unlock()
		log.WithRun(entry.RunID).WithFields(logger.Fields{"stored_token": newer}).Info("newer entry already stored; result not stored")
		return entry, nil
	}
	c.entry = entry
	c.mu.Unlock()

	log.WithRun(entry.RunID).WithFields(logger.Fields{"rows": table.Len()}).Info("cache filled")

	if c.onFill != nil {
		c.hooks.Add(1)
		go func() {
			defer c.hooks.Done()
			c.onFill(entry)
		}()
	}
	return entry, nil
}

// Wait blocks until every pending fill hook has returned.
func (c *Cache) Wait() {
	c.hooks.Wait()
}

func (c *Cache) fresh(entry *models.CacheEntry, token int64, now time.Time) bool {
	return entry != nil && entry.Token == token && entry.Age(now) < c.ttl
}

// Clear drops the cached entry. The next GetOrRefresh runs the pipeline
// again, and a refresh already in flight will not repopulate the slot.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.log.WithComponent("cache").WithFields(logger.Fields{"generation": gen}).Info("cache cleared")
}

// Peek returns the stored entry without refreshing it.
func (c *Cache) Peek() *models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

// LastRefreshed reports when the stored entry was produced.
func (c *Cache) LastRefreshed() (time.Time, bool) {
	entry := c.Peek()
	if entry == nil {
		return time.Time{}, false
	}
	return entry.CreatedAt, true
}

func (c *Cache) recordLookup(hit bool) {
	logger.RecordCacheLookup(hit)
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.EmitMetric(c.log, "cache", metrics.MetricCacheLookup, 1, "counter", logger.Fields{"result": result})
}
