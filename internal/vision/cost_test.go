package vision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

func testTracker(t *testing.T, cfg CostConfig) *CostTracker {
	t.Helper()
	return NewCostTracker(cfg, nil, logging.NewStdoutLogger("test"))
}

func TestCostFreeProviderNeverCharged(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(t, CostConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 1})

	for i := 0; i < 100; i++ {
		if _, err := tr.TrackOperation(ctx, "ollama", "llava:13b", false); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	stats := tr.Stats()
	if stats.TotalCost != 0 {
		t.Fatalf("total cost = %v, want 0", stats.TotalCost)
	}
	if stats.OperationCount != 100 {
		t.Fatalf("operations = %d, want 100", stats.OperationCount)
	}
}

func TestCostBudgetThresholds(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(t, CostConfig{DailyLimitUSD: 5, MonthlyLimitUSD: 1000})
	tr.SetPrice("test", "vision-1", 0.25) // 20 ops to the daily limit

	charge := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			if _, err := tr.TrackOperation(ctx, "test", "vision-1", false); err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
		}
	}

	charge(15)
	if st := tr.BudgetStatus(); st.WarningTriggered {
		t.Fatalf("warning at %.0f%%, too early", st.DailyPercent*100)
	}

	charge(1) // 16 ops = $4.00 = 80%
	st := tr.BudgetStatus()
	if !st.WarningTriggered || st.CriticalTriggered {
		t.Fatalf("at 80%%: warning=%v critical=%v, want true/false", st.WarningTriggered, st.CriticalTriggered)
	}

	charge(3) // 19 ops = $4.75 = 95%
	st = tr.BudgetStatus()
	if !st.CriticalTriggered || st.CircuitBreakerTriggered {
		t.Fatalf("at 95%%: critical=%v breaker=%v, want true/false", st.CriticalTriggered, st.CircuitBreakerTriggered)
	}

	charge(1) // 20 ops = $5.00: the op landing on the limit is allowed
	st = tr.BudgetStatus()
	if !st.CircuitBreakerTriggered {
		t.Fatalf("breaker not triggered at 100%%")
	}

	if _, err := tr.TrackOperation(ctx, "test", "vision-1", false); !errors.Is(err, model.ErrBudgetExceeded) {
		t.Fatalf("op past the limit: err = %v, want ErrBudgetExceeded", err)
	}
	if err := tr.Authorize("test", "vision-1"); !errors.Is(err, model.ErrBudgetExceeded) {
		t.Fatalf("Authorize past the limit: err = %v, want ErrBudgetExceeded", err)
	}
	if stats := tr.Stats(); stats.TotalCost != 5.0 {
		t.Fatalf("total cost = %v, want 5.0", stats.TotalCost)
	}
}

func TestCostCachedOpsFree(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(t, CostConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 1})
	tr.SetPrice("test", "vision-1", 0.5)

	charge := 0.0
	for i := 0; i < 10; i++ {
		c, err := tr.TrackOperation(ctx, "test", "vision-1", true)
		if err != nil {
			t.Fatalf("cached op rejected: %v", err)
		}
		charge += c
	}
	if charge != 0 {
		t.Fatalf("cached ops charged %v", charge)
	}

	stats := tr.Stats()
	if stats.TotalCost != 0 {
		t.Fatalf("total cost = %v, want 0", stats.TotalCost)
	}
	if stats.CacheHitCount != 10 || stats.CacheHitRate != 1.0 {
		t.Fatalf("cache hits = %d rate = %v, want 10/1.0", stats.CacheHitCount, stats.CacheHitRate)
	}

	// Exhaust the budget, then verify cached ops still pass.
	tr.TrackOperation(ctx, "test", "vision-1", false)
	tr.TrackOperation(ctx, "test", "vision-1", false)
	if _, err := tr.TrackOperation(ctx, "test", "vision-1", false); !errors.Is(err, model.ErrBudgetExceeded) {
		t.Fatalf("expected budget exhaustion, got %v", err)
	}
	if _, err := tr.TrackOperation(ctx, "test", "vision-1", true); err != nil {
		t.Fatalf("cached op after exhaustion rejected: %v", err)
	}
}

func TestCostAuthorizeFreeAlwaysPasses(t *testing.T) {
	tr := testTracker(t, CostConfig{DailyLimitUSD: 0.001, MonthlyLimitUSD: 0.001})
	if err := tr.Authorize("ollama", "llava:13b"); err != nil {
		t.Fatalf("free provider authorization failed: %v", err)
	}
}

func TestCostDailyRollover(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(t, CostConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 1000})
	tr.SetPrice("test", "vision-1", 0.5)

	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.TrackOperation(ctx, "test", "vision-1", false)
	tr.TrackOperation(ctx, "test", "vision-1", false)
	if _, err := tr.TrackOperation(ctx, "test", "vision-1", false); !errors.Is(err, model.ErrBudgetExceeded) {
		t.Fatalf("expected daily exhaustion, got %v", err)
	}

	// The next day resets the daily window but not the monthly one.
	now = now.Add(2 * time.Hour)
	if _, err := tr.TrackOperation(ctx, "test", "vision-1", false); err != nil {
		t.Fatalf("op after rollover rejected: %v", err)
	}

	stats := tr.Stats()
	if stats.DailySpend != 0.5 {
		t.Fatalf("daily spend after rollover = %v, want 0.5", stats.DailySpend)
	}
	if stats.MonthlySpend != 1.5 {
		t.Fatalf("monthly spend = %v, want 1.5", stats.MonthlySpend)
	}
}

func TestCostLedgerPersisted(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	tr := NewCostTracker(CostConfig{DailyLimitUSD: 10, MonthlyLimitUSD: 10}, store, logging.NewStdoutLogger("test"))
	tr.SetPrice("test", "vision-1", 0.25)

	tr.TrackOperation(ctx, "test", "vision-1", false)
	tr.TrackOperation(ctx, "test", "vision-1", true)

	var rows, cachedRows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM cost_records`).Scan(&rows); err != nil {
		t.Fatalf("query ledger: %v", err)
	}
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM cost_records WHERE cached = 1`).Scan(&cachedRows); err != nil {
		t.Fatalf("query ledger: %v", err)
	}
	if rows != 2 || cachedRows != 1 {
		t.Fatalf("ledger rows = %d cached = %d, want 2/1", rows, cachedRows)
	}
}
