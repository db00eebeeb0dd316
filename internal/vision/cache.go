package vision

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// CacheConfig controls both tiers of the vision result cache.
type CacheConfig struct {
	// MaxMemoryEntries bounds the in-memory LRU tier.
	MaxMemoryEntries int
	// TTL applies to the durable tier; expired rows are treated as misses.
	TTL time.Duration
}

// DefaultCacheConfig returns the standard cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxMemoryEntries: 1000,
		TTL:              30 * 24 * time.Hour,
	}
}

type cacheEntry struct {
	key   string
	value *model.VisionAssessment
}

// Cache is a two-tier lookup for vision assessments: a bounded in-memory LRU
// in front of a TTL-scoped sqlite tier. Durable hits are promoted to memory.
// A nil store degrades to memory-only operation.
type Cache struct {
	cfg    CacheConfig
	store  *Store
	logger logging.Logger

	mu        sync.Mutex
	order     *list.List
	items     map[string]*list.Element
	hits      int64
	misses    int64
	evictions int64
}

// NewCache builds a cache over the given durable store (which may be nil).
func NewCache(cfg CacheConfig, store *Store, logger logging.Logger) *Cache {
	if cfg.MaxMemoryEntries <= 0 {
		cfg.MaxMemoryEntries = DefaultCacheConfig().MaxMemoryEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("vision")
	}
	return &Cache{
		cfg:    cfg,
		store:  store,
		logger: logger,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

// GenerateKey derives the cache key for a pair of image fingerprints and a
// provider/model combination. Order matters: a baseline/current swap is a
// different comparison.
func GenerateKey(fingerprintA, fingerprintB, provider, mdl string) string {
	return strings.Join([]string{provider, mdl, fingerprintA, fingerprintB}, ":")
}

// Get looks up key in memory first, then the durable tier. Durable hits are
// deserialized and promoted to memory. Durable-tier failures count as misses.
func (c *Cache) Get(ctx context.Context, key string) (*model.VisionAssessment, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		v := el.Value.(*cacheEntry).value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	if c.store != nil {
		payload, ok, err := c.store.getEntry(ctx, key, time.Now())
		if err != nil {
			c.logger.Warn("vision cache read failed", logging.Field{Key: "error", Value: err.Error()})
		} else if ok {
			var v model.VisionAssessment
			if err := json.Unmarshal([]byte(payload), &v); err != nil {
				c.logger.Warn("vision cache payload corrupt", logging.Field{Key: "key", Value: key})
			} else {
				c.mu.Lock()
				c.insertLocked(key, &v)
				c.hits++
				c.mu.Unlock()
				return &v, true
			}
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set writes through both tiers. The key must have been produced by
// GenerateKey so the image fingerprints can be recovered for the durable row.
func (c *Cache) Set(ctx context.Context, key string, value *model.VisionAssessment, provider, mdl string) {
	c.mu.Lock()
	c.insertLocked(key, value)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("vision cache encode failed", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	fpA, fpB := fingerprintsFromKey(key)
	if err := c.store.putEntry(ctx, key, provider, mdl, fpA, fpB, string(payload), c.cfg.TTL, time.Now()); err != nil {
		c.logger.Warn("vision cache write failed", logging.Field{Key: "error", Value: err.Error()})
	}
}

// insertLocked adds or refreshes a memory entry, evicting from the LRU tail
// when at capacity. Caller holds c.mu.
func (c *Cache) insertLocked(key string, value *model.VisionAssessment) {
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	for len(c.items) >= c.cfg.MaxMemoryEntries {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.order.Remove(tail)
		delete(c.items, tail.Value.(*cacheEntry).key)
		c.evictions++
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

// fingerprintsFromKey recovers the two image fingerprints from a GenerateKey
// result. Fingerprints are hex so the last two colon-separated fields are
// unambiguous even when the model name itself contains colons.
func fingerprintsFromKey(key string) (string, string) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// Stats reports sizes and hit accounting for both tiers.
func (c *Cache) Stats(ctx context.Context) model.CacheStats {
	c.mu.Lock()
	stats := model.CacheStats{
		MemorySize: len(c.items),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
	c.mu.Unlock()

	if c.store != nil {
		n, err := c.store.countEntries(ctx, time.Now())
		if err != nil {
			c.logger.Warn("vision cache count failed", logging.Field{Key: "error", Value: err.Error()})
		} else {
			stats.PersistentSize = n
		}
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Clear empties both tiers and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.clearEntries(ctx); err != nil {
			return fmt.Errorf("%w: %v", model.ErrCacheIO, err)
		}
	}
	return nil
}

// Prune drops expired durable rows.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	n, err := c.store.pruneExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrCacheIO, err)
	}
	return n, nil
}
