package vision

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/model"
)

// OpenAIConfig configures the OpenAI vision provider. An empty APIKey falls
// back to OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// DefaultOpenAIConfig returns the standard paid-tier setup.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:     "gpt-4o-mini",
		MaxTokens: 1024,
	}
}

// OpenAIProvider answers classification requests through the OpenAI chat API,
// sending screenshots as base64 data-URLs.
type OpenAIProvider struct {
	cfg OpenAIConfig
	llm *openai.LLM
}

var _ interfaces.VisionProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider; it errors when no API key can be found.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	def := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision: %w: openai needs OPENAI_API_KEY", model.ErrProviderUnavailable)
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("vision: creating openai client: %w", err)
	}
	return &OpenAIProvider{cfg: cfg, llm: llm}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.cfg.Model }

// IsAvailable only checks for credentials; the call itself surfaces endpoint
// problems.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.cfg.APIKey != ""
}

// Classify sends both screenshots as data-URLs and parses the JSON reply.
func (p *OpenAIProvider) Classify(ctx context.Context, req *model.VisionRequest) (*model.VisionAssessment, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.ImageURLPart(dataURL(req.Baseline)),
				llms.ImageURLPart(dataURL(req.Current)),
				llms.TextPart(buildUserPrompt(req)),
			},
		},
	}

	resp, err := p.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(p.cfg.MaxTokens))
	if err != nil {
		return nil, fmt.Errorf("vision: openai call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", model.ErrResponseParse)
	}
	return parseAssessment(resp.Choices[0].Content)
}

func dataURL(img *model.ProcessedImage) string {
	return "data:" + mimeFor(img) + ";base64," + img.Base64
}
