package interfaces

import (
	"context"

	"github.com/raysh454/miru/internal/model"
)

// VisionProvider is the contract for a vision-capable model backend that can
// adjudicate an ambiguous visual difference. Implementations do not cache and
// do not track cost; the classification client owns both concerns.
type VisionProvider interface {
	// Name identifies the provider (e.g. "ollama", "openai", "claude").
	Name() string

	// Model returns the configured model identifier, used in cache keys and
	// in the cost tracker's price table.
	Model() string

	// IsAvailable reports whether the provider can take a call right now
	// (credentials present, endpoint reachable). It must be cheap; network
	// probes should use a short deadline.
	IsAvailable(ctx context.Context) bool

	// Classify sends both images plus comparison context to the model and
	// returns its assessment. Implementations return ErrResponseParse-wrapped
	// errors when the model answered but the payload was unusable.
	Classify(ctx context.Context, req *model.VisionRequest) (*model.VisionAssessment, error)
}
