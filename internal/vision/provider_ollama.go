package vision

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/model"
)

// OllamaConfig points at a local Ollama daemon.
type OllamaConfig struct {
	ServerURL string
	Model     string
	MaxTokens int
}

// DefaultOllamaConfig returns the standard local setup.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		ServerURL: "http://localhost:11434",
		Model:     "llava:13b",
		MaxTokens: 1024,
	}
}

// OllamaProvider answers classification requests with a locally hosted
// multimodal model. It is free, so it goes first in the default chain.
type OllamaProvider struct {
	cfg  OllamaConfig
	llm  *ollama.LLM
	http *http.Client
}

var _ interfaces.VisionProvider = (*OllamaProvider)(nil)

// NewOllamaProvider builds a provider against cfg's daemon.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	def := DefaultOllamaConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = def.ServerURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.ServerURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("vision: creating ollama client: %w", err)
	}
	return &OllamaProvider{
		cfg:  cfg,
		llm:  llm,
		http: &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.cfg.Model }

// IsAvailable probes the daemon's tag listing with a short deadline.
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ServerURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Classify sends both screenshots as binary parts and parses the JSON reply.
func (p *OllamaProvider) Classify(ctx context.Context, req *model.VisionRequest) (*model.VisionAssessment, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeFor(req.Baseline), req.Baseline.Buffer),
				llms.BinaryPart(mimeFor(req.Current), req.Current.Buffer),
				llms.TextPart(buildUserPrompt(req)),
			},
		},
	}

	resp, err := p.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(p.cfg.MaxTokens))
	if err != nil {
		return nil, fmt.Errorf("vision: ollama call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no choices", model.ErrResponseParse)
	}
	return parseAssessment(resp.Choices[0].Content)
}

func mimeFor(img *model.ProcessedImage) string {
	if img.Format == "jpeg" {
		return "image/jpeg"
	}
	return "image/png"
}
