package pipeline

import (
	"context"
	"image"

	"github.com/dunamismax/cutout/internal/domain"
)

// Transformer applies a TransformRequest to a decoded image. Implementations
// return the input unchanged when the plan is OpNone.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, img image.Image, req domain.TransformRequest) (image.Image, error)
}

// NewTransformer returns the engine selected at build time.
func NewTransformer() (Transformer, error) {
	return newTransformer()
}
