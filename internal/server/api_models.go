package server

import "github.com/raysh454/miru/internal/model"

// startRunRequest starts a suite run. Either Tasks is given explicitly or
// Target is crawled for pages first.
type startRunRequest struct {
	Target string           `json:"target"`
	Tasks  []model.TestTask `json:"tasks,omitempty"`
}

// discoverRequest enumerates a site without running anything.
type discoverRequest struct {
	Target string `json:"target"`
}

// statsResponse bundles the cache, cost and budget views.
type statsResponse struct {
	Cache  model.CacheStats   `json:"cache"`
	Cost   model.CostStats    `json:"cost"`
	Budget model.BudgetStatus `json:"budget"`
}
