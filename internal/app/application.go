package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/raysh454/miru/internal/baseline"
	"github.com/raysh454/miru/internal/capture"
	"github.com/raysh454/miru/internal/diff"
	"github.com/raysh454/miru/internal/discover"
	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/preprocess"
	"github.com/raysh454/miru/internal/vision"
)

// Application is the global runtime state container. It wires every pipeline
// component from one Config and owns their lifecycles. Pass Application into
// modules that need the shared state rather than using package-level
// variables.
type Application struct {
	Config    *Config
	Logger    logging.Logger
	Orch      *Orchestrator
	Baselines *baseline.Store

	capturer    interfaces.Capturer
	visionStore *vision.Store

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication builds the whole pipeline from cfg. Providers that cannot
// be constructed (usually a missing API key) are skipped with a warning.
func NewApplication(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("miru")
	}

	storageRoot, err := expandPath(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}
	cfg.StorageRoot = storageRoot
	if err := os.MkdirAll(storageRoot, 0755); err != nil {
		return nil, err
	}
	if cfg.BaselineCfg.Root == "" {
		cfg.BaselineCfg.Root = filepath.Join(storageRoot, "baselines")
	}

	capturer, err := capture.New(cfg.CaptureCfg, logger)
	if err != nil {
		return nil, err
	}

	pre := preprocess.New(cfg.PreprocessCfg, logger)
	engine := diff.NewEngine(cfg.DiffCfg, logger)

	baselines, err := baseline.NewStore(cfg.BaselineCfg, &baseline.GitResolver{}, logger)
	if err != nil {
		capturer.Close()
		return nil, err
	}

	var ai *vision.Client
	var visionStore *vision.Store
	if cfg.AIEnabled {
		visionStore, err = vision.OpenStore(storageRoot, logger)
		if err != nil {
			capturer.Close()
			return nil, err
		}
		cache := vision.NewCache(cfg.CacheCfg, visionStore, logger)
		costs := vision.NewCostTracker(cfg.CostCfg, visionStore, logger)
		ai = vision.NewClient(cfg.ClientCfg, buildChain(cfg, logger), cache, costs, logger)
	}

	spider := discover.NewSpider(cfg.DiscoverCfg, nil, logger)
	orch := NewOrchestrator(cfg, capturer, pre, engine, baselines, ai, spider, logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		Config:      cfg,
		Logger:      logger,
		Orch:        orch,
		Baselines:   baselines,
		capturer:    capturer,
		visionStore: visionStore,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// buildChain constructs the provider fallback chain in configured order.
func buildChain(cfg *Config, logger logging.Logger) []interfaces.VisionProvider {
	var chain []interfaces.VisionProvider
	for _, name := range cfg.Providers {
		switch name {
		case "ollama":
			p, err := vision.NewOllamaProvider(vision.DefaultOllamaConfig())
			if err != nil {
				logger.Warn("skipping provider", logging.Field{Key: "provider", Value: name}, logging.Field{Key: "error", Value: err.Error()})
				continue
			}
			chain = append(chain, p)
		case "openai":
			p, err := vision.NewOpenAIProvider(vision.DefaultOpenAIConfig())
			if err != nil {
				logger.Warn("skipping provider", logging.Field{Key: "provider", Value: name}, logging.Field{Key: "error", Value: err.Error()})
				continue
			}
			chain = append(chain, p)
		case "anthropic":
			chain = append(chain, vision.NewAnthropicProvider(vision.DefaultAnthropicConfig()))
		default:
			logger.Warn("unknown provider in chain", logging.Field{Key: "provider", Value: name})
		}
	}
	return chain
}

// Shutdown releases the browser and the vision database.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	var errs []error
	if a.capturer != nil {
		if err := a.capturer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.visionStore != nil {
		if err := a.visionStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.cancel()
	return errors.Join(errs...)
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
