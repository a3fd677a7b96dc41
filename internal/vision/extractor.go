package vision

import (
	"context"
	"errors"
	"image"

	"github.com/your-org/eventface/internal/models"
)

var (
	// ErrUnavailable means the extractor could not be reached or is not loaded.
	ErrUnavailable = errors.New("face extractor unavailable")
)

// Extractor turns an image into zero or more faces. Implementations must be
// deterministic for identical input and must not modify img.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) ([]models.Face, error)
}
