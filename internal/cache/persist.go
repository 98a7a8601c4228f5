package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/metrics"
)

// snapshot is the persisted form of the entry set.
type snapshot struct {
	Version int      `json:"version"`
	SavedAt string   `json:"saved_at"`
	Entries []*Entry `json:"entries"`
}

const snapshotVersion = 2

// load restores persisted entries. Expired entries are dropped and a
// corrupt blob leaves the cache empty.
func (c *ResultCache) load(ctx context.Context) {
	blob, ok, err := c.storage.GetItem(ctx, StorageKey)
	if err != nil {
		c.storageFailed("load", err)
		return
	}
	if !ok || blob == "" {
		return
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		c.logger.Warn("persisted cache is corrupt, starting empty", zap.Error(err))
		metrics.CacheStorageErrors.WithLabelValues("load").Inc()
		return
	}

	now := c.opts.Now()
	live := make([]*Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if e == nil || e.Key == "" || e.Params == "" || e.expired(now) {
			continue
		}
		live = append(live, e)
	}
	// Keep the newest MaxSize entries if the limit shrank since the last save.
	sort.Slice(live, func(i, j int) bool { return live[i].Timestamp.After(live[j].Timestamp) })
	if len(live) > c.opts.MaxSize {
		live = live[:c.opts.MaxSize]
	}

	c.mu.Lock()
	for _, e := range live {
		c.entries[e.Key] = e
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
	c.logger.Info("cache restored", zap.Int("entries", size), zap.Int("dropped", len(snap.Entries)-len(live)))
}

// save writes the whole entry set when persistence is enabled. Snapshots
// are taken and written under saveMu, so the last write always carries the
// newest state.
func (c *ResultCache) save(ctx context.Context) {
	if !c.persistent() {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: c.opts.Now().UTC().Format(time.RFC3339Nano),
		Entries: make([]*Entry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	c.mu.Unlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		c.storageFailed("save", err)
		return
	}
	if err := c.storage.SetItem(ctx, StorageKey, string(blob)); err != nil {
		c.storageFailed("save", err)
	}
}

func (c *ResultCache) storageFailed(op string, err error) {
	metrics.CacheStorageErrors.WithLabelValues(op).Inc()
	c.logger.Warn("cache storage failure, continuing in memory",
		zap.String("op", op),
		zap.Error(fmt.Errorf("%w: %v", ErrStorageUnavailable, err)),
	)
}

// ─── Last-known-good backup ───────────────────────────────────────────────────

type backup struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// SaveBackup stores the most recent successful metrics payload. It lives
// outside TTL and eviction and is only read when the live pipeline fails.
func (c *ResultCache) SaveBackup(ctx context.Context, data any) {
	if c.storage == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.storageFailed("backup", err)
		return
	}
	blob, err := json.Marshal(backup{SavedAt: c.opts.Now().UTC(), Data: raw})
	if err != nil {
		c.storageFailed("backup", err)
		return
	}
	if err := c.storage.SetItem(ctx, BackupKey, string(blob)); err != nil {
		c.storageFailed("backup", err)
	}
}

// LoadBackup decodes the backup into out. It reports false when there is no
// backup, it is older than the configured max age, or it cannot be decoded.
func (c *ResultCache) LoadBackup(ctx context.Context, out any) (time.Time, bool) {
	if c.storage == nil {
		return time.Time{}, false
	}
	blob, ok, err := c.storage.GetItem(ctx, BackupKey)
	if err != nil {
		c.storageFailed("backup", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	var b backup
	if err := json.Unmarshal([]byte(blob), &b); err != nil {
		c.logger.Warn("metrics backup is corrupt, ignoring", zap.Error(err))
		return time.Time{}, false
	}
	if c.opts.Now().Sub(b.SavedAt) > c.opts.BackupMaxAge {
		if err := c.storage.RemoveItem(ctx, BackupKey); err != nil {
			c.storageFailed("backup", err)
		}
		return time.Time{}, false
	}
	if err := json.Unmarshal(b.Data, out); err != nil {
		c.logger.Warn("metrics backup did not decode", zap.Error(err))
		return time.Time{}, false
	}
	return b.SavedAt, true
}
