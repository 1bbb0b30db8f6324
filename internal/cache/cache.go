// Package cache memoizes finished analyses by position.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amoylab/evalcoach/internal/rules"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/uci"
	"go.uber.org/zap"
)

// ErrNotFound is returned by a Store for a missing key.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached analysis.
type Entry struct {
	Depth    int        `json:"depth"`
	Lines    []uci.Line `json:"lines"`
	StoredAt time.Time  `json:"storedAt"`
}

// Store is a cache backend. Set replaces the entry for key. Upgrade writes e
// unless the stored entry is deeper, deciding and writing atomically per key,
// and reports whether it wrote.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Upgrade(ctx context.Context, key string, e *Entry) (bool, error)
	Clear(ctx context.Context) error
	Close() error
}

// Key identifies a root position plus the moves played from it. Move
// counters do not take part in the key.
func Key(fen string, moves []string) string {
	return rules.Canonical(fen) + "|" + strings.Join(moves, " ")
}

// Cache gates a Store so that only analyses deep enough are served or kept.
type Cache struct {
	store    Store
	minDepth int
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New wraps store.
func New(store Store, minDepth int, logger *zap.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		store:    store,
		minDepth: minDepth,
		logger:   logger.Named("cache"),
		metrics:  m,
		now:      time.Now,
	}
}

// MinDepth is the shallowest analysis the cache accepts.
func (c *Cache) MinDepth() int { return c.minDepth }

// Get returns cached lines for the position. Backend failures count as misses.
func (c *Cache) Get(ctx context.Context, fen string, moves []string) ([]uci.Line, bool) {
	key := Key(fen, moves)
	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		c.metrics.CacheLookup(false)
		return nil, false
	}
	if len(e.Lines) == 0 || uci.MaxDepth(e.Lines) < c.minDepth {
		c.metrics.CacheLookup(false)
		return nil, false
	}
	c.metrics.CacheLookup(true)
	return uci.CloneLines(e.Lines), true
}

// Put stores lines unless they are too shallow or a deeper entry is already
// cached. It reports whether the entry was written.
func (c *Cache) Put(ctx context.Context, fen string, moves []string, lines []uci.Line) bool {
	depth := uci.MaxDepth(lines)
	if len(lines) == 0 || depth < c.minDepth {
		return false
	}

	key := Key(fen, moves)
	e := &Entry{Depth: depth, Lines: uci.CloneLines(lines), StoredAt: c.now()}
	written, err := c.store.Upgrade(ctx, key, e)
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !written {
		return false
	}
	c.metrics.CacheWrite()
	c.logger.Debug("cached analysis", zap.String("key", key), zap.Int("depth", depth))
	return true
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.logger.Info("cache cleared")
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.Close()
}
