package interfaces

import (
	"context"

	"github.com/raysh454/miru/internal/model"
)

// Capturer produces screenshots for the orchestrator. The browser automation
// layer is an external collaborator; the engine only depends on this contract.
type Capturer interface {
	// Capture navigates to the task's URL under the task's viewport and
	// returns the encoded screenshot bytes plus capture metadata.
	Capture(ctx context.Context, task *model.CaptureRequest) (*model.CaptureResult, error)

	// Close releases browser resources.
	Close() error
}
