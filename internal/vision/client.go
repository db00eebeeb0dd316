package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// ClientConfig tunes the classification client's behavior around the
// provider chain.
type ClientConfig struct {
	// EnableCache consults and fills the two-tier result cache.
	EnableCache bool
	// EnableCostTracking authorizes and records paid provider calls.
	EnableCostTracking bool
	// EnableFallback walks the whole chain; when false only the first
	// provider is tried.
	EnableFallback bool
	// OperationTimeout bounds each individual provider call.
	OperationTimeout time.Duration
	// BatchConcurrency caps concurrent provider calls in BatchAnalyze.
	BatchConcurrency int
}

// DefaultClientConfig returns the standard client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		EnableCache:        true,
		EnableCostTracking: true,
		EnableFallback:     true,
		OperationTimeout:   60 * time.Second,
		BatchConcurrency:   3,
	}
}

// Client is the cost-aware front to the provider chain. Order in the chain
// is priority order; free or local providers should come first. Every answer
// is checked against the cache before any provider is called, paid calls are
// authorized against the budget first, and a fully failed chain degrades to
// a medium-severity result instead of an error.
type Client struct {
	cfg    ClientConfig
	chain  []interfaces.VisionProvider
	cache  *Cache
	costs  *CostTracker
	logger logging.Logger
}

// NewClient assembles a client. cache and costs may be nil, which disables
// the corresponding concern regardless of cfg.
func NewClient(cfg ClientConfig, chain []interfaces.VisionProvider, cache *Cache, costs *CostTracker, logger logging.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("vision")
	}
	return &Client{
		cfg:    cfg,
		chain:  chain,
		cache:  cache,
		costs:  costs,
		logger: logger,
	}
}

// Analyze classifies one visual difference. It returns an error only for
// invalid input or an exhausted budget; provider failures degrade instead.
func (c *Client) Analyze(ctx context.Context, req *model.VisionRequest) (*model.MergedClassification, error) {
	if req == nil || req.Baseline == nil || req.Current == nil {
		return nil, errors.New("vision: request needs both images")
	}

	chain := c.chain
	if !c.cfg.EnableFallback && len(chain) > 1 {
		chain = chain[:1]
	}
	if len(chain) == 0 {
		return model.DegradedClassification("no providers configured"), nil
	}

	if c.cfg.EnableCache && c.cache != nil {
		for _, p := range chain {
			key := GenerateKey(req.Baseline.Fingerprint, req.Current.Fingerprint, p.Name(), p.Model())
			if a, ok := c.cache.Get(ctx, key); ok {
				c.trackCached(ctx, p)
				return mergeAssessment(a, p.Name(), p.Model(), true), nil
			}
		}
	}

	var failures []string
	for _, p := range chain {
		if !p.IsAvailable(ctx) {
			failures = append(failures, p.Name()+": unavailable")
			continue
		}

		if c.cfg.EnableCostTracking && c.costs != nil {
			if err := c.costs.Authorize(p.Name(), p.Model()); err != nil {
				if errors.Is(err, model.ErrBudgetExceeded) {
					// A tripped breaker aborts the whole request rather
					// than silently walking to a pricier provider.
					return nil, err
				}
				failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
		assessment, err := p.Classify(callCtx, req)
		cancel()
		if err != nil {
			c.logger.Warn("vision provider failed",
				logging.Field{Key: "provider", Value: p.Name()},
				logging.Field{Key: "model", Value: p.Model()},
				logging.Field{Key: "error", Value: err.Error()})
			failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}

		if c.cfg.EnableCostTracking && c.costs != nil {
			if _, err := c.costs.TrackOperation(ctx, p.Name(), p.Model(), false); err != nil {
				if errors.Is(err, model.ErrBudgetExceeded) {
					return nil, err
				}
				c.logger.Warn("cost tracking failed", logging.Field{Key: "error", Value: err.Error()})
			}
		}

		if c.cfg.EnableCache && c.cache != nil {
			key := GenerateKey(req.Baseline.Fingerprint, req.Current.Fingerprint, p.Name(), p.Model())
			c.cache.Set(ctx, key, assessment, p.Name(), p.Model())
		}

		return mergeAssessment(assessment, p.Name(), p.Model(), false), nil
	}

	reason := strings.Join(failures, "; ")
	c.logger.Warn("vision chain exhausted", logging.Field{Key: "reason", Value: reason})
	return model.DegradedClassification(reason), nil
}

// BatchAnalyze classifies several differences with bounded concurrency.
// Results and errors are aligned with the input slice.
func (c *Client) BatchAnalyze(ctx context.Context, reqs []*model.VisionRequest) ([]*model.MergedClassification, []error) {
	results := make([]*model.MergedClassification, len(reqs))
	errs := make([]error, len(reqs))

	sem := make(chan struct{}, c.cfg.BatchConcurrency)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *model.VisionRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = c.Analyze(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results, errs
}

// trackCached records a cache hit at zero cost.
func (c *Client) trackCached(ctx context.Context, p interfaces.VisionProvider) {
	if !c.cfg.EnableCostTracking || c.costs == nil {
		return
	}
	if _, err := c.costs.TrackOperation(ctx, p.Name(), p.Model(), true); err != nil {
		c.logger.Warn("cost tracking failed", logging.Field{Key: "error", Value: err.Error()})
	}
}

// CacheStats reports the cache counters; zero value when caching is off.
func (c *Client) CacheStats(ctx context.Context) model.CacheStats {
	if c.cache == nil {
		return model.CacheStats{}
	}
	return c.cache.Stats(ctx)
}

// CostStats reports the tracker's ledger; zero value when tracking is off.
func (c *Client) CostStats() model.CostStats {
	if c.costs == nil {
		return model.CostStats{}
	}
	return c.costs.Stats()
}

// BudgetStatus reports budget utilization; zero value when tracking is off.
func (c *Client) BudgetStatus() model.BudgetStatus {
	if c.costs == nil {
		return model.BudgetStatus{}
	}
	return c.costs.BudgetStatus()
}

// mergeAssessment projects a provider answer onto the deterministic scale.
func mergeAssessment(a *model.VisionAssessment, provider, mdl string, cached bool) *model.MergedClassification {
	return &model.MergedClassification{
		Severity:          model.MapAISeverity(a.Severity),
		AISeverity:        a.Severity,
		Categories:        a.Categories,
		Confidence:        a.Confidence,
		Reasoning:         a.Reasoning,
		Suggestions:       a.Suggestions,
		LikelyIntentional: model.LikelyIntentional(a.Severity),
		Provider:          provider,
		Model:             mdl,
		Cached:            cached,
	}
}
