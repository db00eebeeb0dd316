package app

import (
	"github.com/raysh454/miru/internal/baseline"
	"github.com/raysh454/miru/internal/capture"
	"github.com/raysh454/miru/internal/diff"
	"github.com/raysh454/miru/internal/discover"
	"github.com/raysh454/miru/internal/preprocess"
	"github.com/raysh454/miru/internal/vision"
)

// Config aggregates every component's configuration. Zero values fall back
// to each package's own defaults.
type Config struct {
	// ListenAddr is the HTTP listen address for the API server (the CLI
	// uses the orchestrator in-process and does not need the network).
	ListenAddr string

	// StorageRoot is the base path for baselines and the vision database.
	StorageRoot string

	CaptureCfg    capture.Config
	PreprocessCfg preprocess.Config

	DiffCfg  diff.Config
	DiffOpts diff.Options

	BaselineCfg baseline.Config
	DiscoverCfg discover.Config

	CacheCfg  vision.CacheConfig
	CostCfg   vision.CostConfig
	ClientCfg vision.ClientConfig

	// Providers orders the fallback chain. Recognized names: "ollama",
	// "openai", "anthropic". Providers that fail to construct (usually a
	// missing API key) are left out of the chain.
	Providers []string

	// AIEnabled turns the vision chain on for ambiguous diffs.
	AIEnabled bool

	// UpdateBaselines saves the current capture as the new baseline after
	// each comparison.
	UpdateBaselines bool

	// Branch scopes baselines explicitly; empty resolves the current VCS
	// branch.
	Branch string

	// Concurrency bounds parallel tasks in a suite run.
	Concurrency int
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    "localhost:8080",
		StorageRoot:   "~/.config/miru",
		CaptureCfg:    capture.DefaultConfig(),
		PreprocessCfg: preprocess.DefaultConfig(),
		DiffCfg:       diff.DefaultConfig(),
		DiffOpts:      diff.DefaultOptions(),
		BaselineCfg:   baseline.DefaultConfig(),
		DiscoverCfg:   discover.DefaultConfig(),
		CacheCfg:      vision.DefaultCacheConfig(),
		CostCfg:       vision.DefaultCostConfig(),
		ClientCfg:     vision.DefaultClientConfig(),
		Providers:     []string{"ollama", "anthropic", "openai"},
		AIEnabled:     true,
		Concurrency:   4,
	}
}
