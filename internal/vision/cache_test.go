package vision

import (
	"context"
	"testing"
	"time"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir(), logging.NewStdoutLogger("test"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAssessment(sev model.AISeverity) *model.VisionAssessment {
	return &model.VisionAssessment{
		Severity:   sev,
		Categories: []string{"layout"},
		Confidence: 0.9,
		Reasoning:  "header moved",
	}
}

func TestCacheSetGetMemory(t *testing.T) {
	ctx := context.Background()
	c := NewCache(DefaultCacheConfig(), nil, logging.NewStdoutLogger("test"))

	key := GenerateKey("aaaa", "bbbb", "ollama", "llava:13b")
	if _, ok := c.Get(ctx, key); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set(ctx, key, testAssessment(model.AISeverityMinor), "ollama", "llava:13b")

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatalf("expected hit after Set")
	}
	if got.Severity != model.AISeverityMinor {
		t.Fatalf("severity = %q, want minor", got.Severity)
	}

	stats := c.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("hit rate = %v, want 0.5", stats.HitRate)
	}
}

func TestCacheKeyOrderSensitive(t *testing.T) {
	a := GenerateKey("fp1", "fp2", "openai", "gpt-4o")
	b := GenerateKey("fp2", "fp1", "openai", "gpt-4o")
	if a == b {
		t.Fatalf("swapped fingerprints produced the same key %q", a)
	}
}

func TestCacheDurablePromotion(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	logger := logging.NewStdoutLogger("test")

	first := NewCache(DefaultCacheConfig(), store, logger)
	key := GenerateKey("aaaa", "bbbb", "anthropic", "claude-3-5-sonnet-latest")
	first.Set(ctx, key, testAssessment(model.AISeverityModerate), "anthropic", "claude-3-5-sonnet-latest")

	// A fresh cache over the same store has an empty memory tier; the hit
	// must come from sqlite and be promoted.
	second := NewCache(DefaultCacheConfig(), store, logger)
	got, ok := second.Get(ctx, key)
	if !ok {
		t.Fatalf("expected durable-tier hit")
	}
	if got.Severity != model.AISeverityModerate {
		t.Fatalf("severity = %q, want moderate", got.Severity)
	}
	if stats := second.Stats(ctx); stats.MemorySize != 1 {
		t.Fatalf("memory size after promotion = %d, want 1", stats.MemorySize)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	logger := logging.NewStdoutLogger("test")

	writer := NewCache(CacheConfig{MaxMemoryEntries: 10, TTL: time.Nanosecond}, store, logger)
	key := GenerateKey("aaaa", "bbbb", "ollama", "llava:13b")
	writer.Set(ctx, key, testAssessment(model.AISeverityNone), "ollama", "llava:13b")

	// Sub-second TTL lands expires_at in the current second, which the
	// durable tier treats as already expired.
	reader := NewCache(DefaultCacheConfig(), store, logger)
	if _, ok := reader.Get(ctx, key); ok {
		t.Fatalf("expected expired durable entry to miss")
	}
}

func TestCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewCache(CacheConfig{MaxMemoryEntries: 2, TTL: time.Hour}, nil, logging.NewStdoutLogger("test"))

	for _, fp := range []string{"a", "b", "c"} {
		key := GenerateKey(fp, fp, "ollama", "llava:13b")
		c.Set(ctx, key, testAssessment(model.AISeverityMinor), "ollama", "llava:13b")
	}

	stats := c.Stats(ctx)
	if stats.MemorySize != 2 {
		t.Fatalf("memory size = %d, want 2", stats.MemorySize)
	}
	if stats.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", stats.Evictions)
	}
	// Oldest entry is gone, newest two remain.
	if _, ok := c.Get(ctx, GenerateKey("a", "a", "ollama", "llava:13b")); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if _, ok := c.Get(ctx, GenerateKey("c", "c", "ollama", "llava:13b")); !ok {
		t.Fatalf("expected newest entry retained")
	}
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	c := NewCache(DefaultCacheConfig(), store, logging.NewStdoutLogger("test"))

	key := GenerateKey("aaaa", "bbbb", "ollama", "llava:13b")
	c.Set(ctx, key, testAssessment(model.AISeverityMinor), "ollama", "llava:13b")
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, ok := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after Clear")
	}
	stats := c.Stats(ctx)
	if stats.MemorySize != 0 || stats.PersistentSize != 0 {
		t.Fatalf("sizes after Clear = %d/%d, want 0/0", stats.MemorySize, stats.PersistentSize)
	}
}
