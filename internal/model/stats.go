package model

// CacheStats is the vision result cache's exposed counters.
type CacheStats struct {
	MemorySize     int     `json:"memory_size"`
	PersistentSize int     `json:"persistent_size"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	HitRate        float64 `json:"hit_rate"`
}

// CostStats summarizes the cost tracker's ledger.
type CostStats struct {
	TotalCost      float64            `json:"total_cost"`
	DailySpend     float64            `json:"daily_spend"`
	MonthlySpend   float64            `json:"monthly_spend"`
	OperationCount int64              `json:"operation_count"`
	CacheHitCount  int64              `json:"cache_hit_count"`
	CacheHitRate   float64            `json:"cache_hit_rate"`
	ByProvider     map[string]float64 `json:"by_provider,omitempty"`
}

// BudgetStatus is the derived view of the running totals against the
// configured limits.
type BudgetStatus struct {
	DailySpend   float64 `json:"daily_spend"`
	MonthlySpend float64 `json:"monthly_spend"`
	DailyLimit   float64 `json:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit"`

	DailyPercent   float64 `json:"daily_percent"`
	MonthlyPercent float64 `json:"monthly_percent"`

	WarningTriggered        bool `json:"warning_triggered"`
	CriticalTriggered       bool `json:"critical_triggered"`
	CircuitBreakerTriggered bool `json:"circuit_breaker_triggered"`
}
