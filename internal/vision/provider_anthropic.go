package vision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/model"
)

// AnthropicConfig configures the Anthropic vision provider. An empty APIKey
// falls back to ANTHROPIC_API_KEY.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
}

// DefaultAnthropicConfig returns the standard paid-tier setup.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:     "claude-3-5-sonnet-latest",
		MaxTokens: 1024,
	}
}

// AnthropicProvider answers classification requests through the Anthropic
// Messages API, sending screenshots as base64 image blocks.
type AnthropicProvider struct {
	cfg    AnthropicConfig
	client anthropic.Client
	apiKey string
}

var _ interfaces.VisionProvider = (*AnthropicProvider)(nil)

// NewAnthropicProvider builds a provider; availability is reported false when
// no API key can be found.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	def := DefaultAnthropicConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
		apiKey: apiKey,
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.cfg.Model }

func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Classify sends both screenshots as image blocks and parses the JSON reply.
func (p *AnthropicProvider) Classify(ctx context.Context, req *model.VisionRequest) (*model.VisionAssessment, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("vision: %w: anthropic needs ANTHROPIC_API_KEY", model.ErrProviderUnavailable)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: p.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeFor(req.Baseline), req.Baseline.Base64),
				anthropic.NewImageBlockBase64(mimeFor(req.Current), req.Current.Base64),
				anthropic.NewTextBlock(buildUserPrompt(req)),
			),
		},
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("vision: anthropic call: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseAssessment(strings.TrimSpace(text.String()))
}
