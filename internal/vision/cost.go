package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// CostConfig bounds spend on paid vision providers. A limit of zero or less
// disables that budget.
type CostConfig struct {
	DailyLimitUSD   float64
	MonthlyLimitUSD float64
}

// DefaultCostConfig returns the standard budget limits.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		DailyLimitUSD:   5.0,
		MonthlyLimitUSD: 100.0,
	}
}

// defaultPrices maps provider:model to the flat per-operation cost in USD.
// Providers without an entry are treated as free (local or self-hosted).
var defaultPrices = map[string]float64{
	"anthropic:claude-3-5-sonnet-latest": 0.015,
	"anthropic:claude-3-5-haiku-latest":  0.004,
	"openai:gpt-4o":                      0.010,
	"openai:gpt-4o-mini":                 0.002,
}

// CostTracker charges a flat per-operation price against rolling daily and
// monthly windows and trips a circuit breaker once a window's limit is
// reached. Cached operations are recorded but never charged.
type CostTracker struct {
	cfg    CostConfig
	store  *Store
	logger logging.Logger

	mu           sync.Mutex
	prices       map[string]float64
	totalCost    float64
	dailySpend   float64
	monthlySpend float64
	day          string
	month        string
	operations   int64
	cachedOps    int64
	byProvider   map[string]float64
	now          func() time.Time
}

// NewCostTracker builds a tracker persisting its ledger to store (which may
// be nil for ephemeral runs).
func NewCostTracker(cfg CostConfig, store *Store, logger logging.Logger) *CostTracker {
	prices := make(map[string]float64, len(defaultPrices))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("vision")
	}
	t := &CostTracker{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		prices:     prices,
		byProvider: make(map[string]float64),
		now:        time.Now,
	}
	now := t.now()
	t.day = now.Format("2006-01-02")
	t.month = now.Format("2006-01")
	return t
}

// SetPrice overrides the per-operation price for a provider/model pair.
func (t *CostTracker) SetPrice(provider, mdl string, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[provider+":"+mdl] = costUSD
}

// Price returns the per-operation cost for a provider/model pair; unknown
// pairs are free.
func (t *CostTracker) Price(provider, mdl string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prices[provider+":"+mdl]
}

// rolloverLocked resets window spend when the day or month changes.
// Caller holds t.mu.
func (t *CostTracker) rolloverLocked(now time.Time) {
	if day := now.Format("2006-01-02"); day != t.day {
		t.day = day
		t.dailySpend = 0
	}
	if month := now.Format("2006-01"); month != t.month {
		t.month = month
		t.monthlySpend = 0
	}
}

// breakerTrippedLocked reports whether either budget window is exhausted.
// Caller holds t.mu.
func (t *CostTracker) breakerTrippedLocked() bool {
	if t.cfg.DailyLimitUSD > 0 && t.dailySpend >= t.cfg.DailyLimitUSD {
		return true
	}
	if t.cfg.MonthlyLimitUSD > 0 && t.monthlySpend >= t.cfg.MonthlyLimitUSD {
		return true
	}
	return false
}

// Authorize is the pre-flight check run before a paid provider call. It
// returns model.ErrBudgetExceeded when the circuit breaker is already
// tripped; the op that lands exactly on a limit is the last one allowed.
func (t *CostTracker) Authorize(provider, mdl string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.prices[provider+":"+mdl] <= 0 {
		return nil
	}
	t.rolloverLocked(t.now())
	if t.breakerTrippedLocked() {
		return fmt.Errorf("%w: daily $%.2f/%.2f, monthly $%.2f/%.2f",
			model.ErrBudgetExceeded, t.dailySpend, t.cfg.DailyLimitUSD, t.monthlySpend, t.cfg.MonthlyLimitUSD)
	}
	return nil
}

// TrackOperation records one provider call and returns the amount charged.
// Uncached paid calls are rejected with model.ErrBudgetExceeded when the
// breaker is tripped; cached calls always record at zero cost.
func (t *CostTracker) TrackOperation(ctx context.Context, provider, mdl string, cached bool) (float64, error) {
	t.mu.Lock()
	now := t.now()
	t.rolloverLocked(now)

	price := t.prices[provider+":"+mdl]
	if cached || price <= 0 {
		t.operations++
		if cached {
			t.cachedOps++
		}
		t.mu.Unlock()
		t.persist(ctx, provider, mdl, 0, cached, now)
		return 0, nil
	}

	if t.breakerTrippedLocked() {
		daily, monthly := t.dailySpend, t.monthlySpend
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: daily $%.2f/%.2f, monthly $%.2f/%.2f",
			model.ErrBudgetExceeded, daily, t.cfg.DailyLimitUSD, monthly, t.cfg.MonthlyLimitUSD)
	}

	t.totalCost += price
	t.dailySpend += price
	t.monthlySpend += price
	t.byProvider[provider] += price
	t.operations++
	t.mu.Unlock()

	t.persist(ctx, provider, mdl, price, false, now)
	return price, nil
}

// persist appends to the sqlite ledger, best effort.
func (t *CostTracker) persist(ctx context.Context, provider, mdl string, cost float64, cached bool, now time.Time) {
	if t.store == nil {
		return
	}
	if err := t.store.insertCostRecord(ctx, provider, mdl, cost, cached, now); err != nil {
		t.logger.Warn("cost ledger write failed", logging.Field{Key: "error", Value: err.Error()})
	}
}

// Stats reports cumulative spend and operation counts.
func (t *CostTracker) Stats() model.CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(t.now())
	stats := model.CostStats{
		TotalCost:      t.totalCost,
		DailySpend:     t.dailySpend,
		MonthlySpend:   t.monthlySpend,
		OperationCount: t.operations,
		CacheHitCount:  t.cachedOps,
		ByProvider:     make(map[string]float64, len(t.byProvider)),
	}
	for k, v := range t.byProvider {
		stats.ByProvider[k] = v
	}
	if t.operations > 0 {
		stats.CacheHitRate = float64(t.cachedOps) / float64(t.operations)
	}
	return stats
}

// BudgetStatus reports window utilization with warning (80%), critical (95%)
// and circuit-breaker (100%) flags.
func (t *CostTracker) BudgetStatus() model.BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(t.now())

	status := model.BudgetStatus{
		DailySpend:   t.dailySpend,
		DailyLimit:   t.cfg.DailyLimitUSD,
		MonthlySpend: t.monthlySpend,
		MonthlyLimit: t.cfg.MonthlyLimitUSD,
	}
	if t.cfg.DailyLimitUSD > 0 {
		status.DailyPercent = t.dailySpend / t.cfg.DailyLimitUSD
	}
	if t.cfg.MonthlyLimitUSD > 0 {
		status.MonthlyPercent = t.monthlySpend / t.cfg.MonthlyLimitUSD
	}
	worst := status.DailyPercent
	if status.MonthlyPercent > worst {
		worst = status.MonthlyPercent
	}
	status.WarningTriggered = worst >= 0.8
	status.CriticalTriggered = worst >= 0.95
	status.CircuitBreakerTriggered = worst >= 1.0
	return status
}
