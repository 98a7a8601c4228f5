// Package cache memoizes expensive analytics results (metrics, comparisons,
// forecasts, chart series, exports) keyed by category and an ordered tuple of
// parameters.
//
// Entries carry their own TTL and are never returned once expired, even if
// the periodic sweep has not removed them yet. When the cache is full the
// entry with the oldest insertion timestamp is evicted (FIFO, not LRU).
// The entry set can be persisted to a durable key-value store so a restart
// keeps warm results; storage failures degrade the cache to memory-only and
// are never returned to callers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/opsboard/opsboard-analytics/internal/metrics"
)

// Category groups cache keys and selects the default TTL.
type Category string

const (
	CategoryMetrics    Category = "metrics"
	CategoryComparison Category = "comparison"
	CategoryForecast   Category = "forecast"
	CategoryChart      Category = "chart"
	CategoryExport     Category = "export"
)

// Fixed storage keys in the durable KV store.
const (
	StorageKey = "opsboard_analytics_cache"
	BackupKey  = "opsboard_analytics_backup"
)

// ErrStorageUnavailable marks persistence failures. It is only ever logged.
var ErrStorageUnavailable = errors.New("cache storage unavailable")

// Storage is the durable blob store the cache persists to.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Entry is a single memoized result. Data holds the JSON encoding of the
// value so reads always hand out an independent copy.
type Entry struct {
	Key       string          `json:"key"`
	Params    string          `json:"params"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) >= e.TTL
}

// Options configures a ResultCache.
type Options struct {
	MaxSize       int
	SweepInterval time.Duration
	Persist       bool
	BackupMaxAge  time.Duration
	DefaultTTLs   map[Category]time.Duration

	// Now is the clock used for timestamps and expiry. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxSize:       100,
		SweepInterval: 60 * time.Second,
		Persist:       true,
		BackupMaxAge:  24 * time.Hour,
		DefaultTTLs: map[Category]time.Duration{
			CategoryMetrics:    5 * time.Minute,
			CategoryComparison: 5 * time.Minute,
			CategoryChart:      5 * time.Minute,
			CategoryForecast:   30 * time.Minute,
			CategoryExport:     10 * time.Minute,
		},
	}
}

// fallbackTTL applies to categories without a configured default.
const fallbackTTL = 5 * time.Minute

// ResultCache is a TTL memoization layer. It is safe for concurrent use.
type ResultCache struct {
	// saveMu orders snapshot writes; it is taken before mu.
	saveMu  sync.Mutex
	mu      sync.Mutex
	entries map[string]*Entry

	hits      int64
	misses    int64
	evictions int64

	opts    Options
	storage Storage
	logger  *zap.Logger
	group   singleflight.Group

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// New builds a cache and loads any persisted entries. storage may be nil,
// in which case the cache is memory-only.
func New(ctx context.Context, storage Storage, logger *zap.Logger, opts Options) *ResultCache {
	def := DefaultOptions()
	if opts.MaxSize <= 0 {
		opts.MaxSize = def.MaxSize
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.BackupMaxAge <= 0 {
		opts.BackupMaxAge = def.BackupMaxAge
	}
	if opts.DefaultTTLs == nil {
		opts.DefaultTTLs = def.DefaultTTLs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &ResultCache{
		entries: make(map[string]*Entry),
		opts:    opts,
		storage: storage,
		logger:  logger.With(zap.String("component", "result_cache")),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.persistent() {
		c.load(ctx)
	}
	return c
}

func (c *ResultCache) persistent() bool {
	return c.opts.Persist && c.storage != nil
}

// DefaultTTL returns the TTL used when Set is called with ttl == 0.
func (c *ResultCache) DefaultTTL(category Category) time.Duration {
	if ttl, ok := c.opts.DefaultTTLs[category]; ok && ttl > 0 {
		return ttl
	}
	return fallbackTTL
}

// Get returns the raw JSON of a live entry.
func (c *ResultCache) Get(category Category, params ...any) (json.RawMessage, bool) {
	key, canon, err := deriveKey(category, params...)
	if err != nil {
		c.logger.Warn("cache key derivation failed", zap.String("category", string(category)), zap.Error(err))
		return nil, false
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.Params != canon || e.expired(c.opts.Now()) {
		c.misses++
		c.mu.Unlock()
		metrics.CacheMisses.WithLabelValues(string(category)).Inc()
		return nil, false
	}
	data := e.Data
	c.hits++
	c.mu.Unlock()

	metrics.CacheHits.WithLabelValues(string(category)).Inc()
	return data, true
}

// GetInto decodes a live entry into out. A payload that no longer decodes
// into out is reported as a miss.
func (c *ResultCache) GetInto(category Category, out any, params ...any) bool {
	data, ok := c.Get(category, params...)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("cached payload did not decode", zap.String("category", string(category)), zap.Error(err))
		return false
	}
	return true
}

// Set stores data under (category, params). ttl == 0 selects the category
// default. An error is returned only when data or params cannot be encoded.
func (c *ResultCache) Set(ctx context.Context, category Category, data any, ttl time.Duration, params ...any) error {
	key, canon, err := deriveKey(category, params...)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", category, err)
	}
	if ttl <= 0 {
		ttl = c.DefaultTTL(category)
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.MaxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &Entry{Key: key, Params: canon, Data: raw, Timestamp: c.opts.Now(), TTL: ttl}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
	c.save(ctx)
	return nil
}

// evictOldestLocked drops exactly one entry: the one with the smallest
// timestamp. Ties go to the lexicographically smallest key.
func (c *ResultCache) evictOldestLocked() {
	var victim *Entry
	for _, e := range c.entries {
		if victim == nil || e.Timestamp.Before(victim.Timestamp) ||
			(e.Timestamp.Equal(victim.Timestamp) && e.Key < victim.Key) {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	delete(c.entries, victim.Key)
	c.evictions++
	metrics.CacheEvictions.Inc()
	c.logger.Debug("cache entry evicted", zap.String("key", victim.Key))
}

// Invalidate removes the entry for (category, params). With no params every
// entry of the category is removed.
func (c *ResultCache) Invalidate(ctx context.Context, category Category, params ...any) int {
	removed := 0

	c.mu.Lock()
	if len(params) > 0 {
		key, canon, err := deriveKey(category, params...)
		if err == nil {
			if e, ok := c.entries[key]; ok && e.Params == canon {
				delete(c.entries, key)
				removed = 1
			}
		}
	} else {
		prefix := keyPrefix(category)
		for k := range c.entries {
			if strings.HasPrefix(k, prefix) {
				delete(c.entries, k)
				removed++
			}
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEntries.Set(float64(size))
		c.save(ctx)
	}
	return removed
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *ResultCache) Sweep(ctx context.Context) int {
	now := c.opts.Now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEntries.Set(float64(size))
		c.logger.Debug("cache sweep", zap.Int("removed", removed), zap.Int("remaining", size))
		c.save(ctx)
	}
	return removed
}

// ClearAll drops every entry and the persisted snapshot. The backup is kept.
func (c *ResultCache) ClearAll(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	metrics.CacheEntries.Set(0)
	if c.persistent() {
		if err := c.storage.RemoveItem(ctx, StorageKey); err != nil {
			c.storageFailed("save", err)
		}
	}
}

// GetOrCompute returns the live entry for (category, params) or runs compute
// once for all concurrent callers sharing that key and stores its result.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	category Category,
	ttl time.Duration,
	compute func(ctx context.Context) (any, error),
	params ...any,
) (json.RawMessage, error) {
	if data, ok := c.Get(category, params...); ok {
		return data, nil
	}
	_, canon, err := deriveKey(category, params...)
	if err != nil {
		return nil, err
	}

	v, err, _ := c.group.Do(keyPrefix(category)+canon, func() (any, error) {
		if data, ok := c.Get(category, params...); ok {
			return data, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", category, err)
		}
		if err := c.Set(ctx, category, json.RawMessage(raw), ttl, params...); err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// Start runs the periodic sweep until ctx is cancelled or Close is called.
func (c *ResultCache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.sweepLoop(ctx)
	})
}

func (c *ResultCache) sweepLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Close stops the sweeper (if started) and flushes a final snapshot.
func (c *ResultCache) Close(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
	c.save(ctx)
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries     int            `json:"entries"`
	Expired     int            `json:"expired"`
	MaxSize     int            `json:"max_size"`
	Hits        int64          `json:"hits"`
	Misses      int64          `json:"misses"`
	Evictions   int64          `json:"evictions"`
	HitRate     float64        `json:"hit_rate"`
	ByCategory  map[string]int `json:"by_category"`
	Persistent  bool           `json:"persistent"`
	OldestEntry *time.Time     `json:"oldest_entry,omitempty"`
}

// Stats reports entry counts and hit/miss totals.
func (c *ResultCache) Stats() Stats {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:    len(c.entries),
		MaxSize:    c.opts.MaxSize,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		ByCategory: make(map[string]int),
		Persistent: c.persistent(),
	}
	for k, e := range c.entries {
		if e.expired(now) {
			s.Expired++
		}
		if i := strings.IndexByte(k, ':'); i > 0 {
			s.ByCategory[k[:i]]++
		}
		if s.OldestEntry == nil || e.Timestamp.Before(*s.OldestEntry) {
			ts := e.Timestamp
			s.OldestEntry = &ts
		}
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
