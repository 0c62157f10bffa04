package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when the embedding provider cannot
// produce vectors.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Embedder defines the interface contract for embedding generation services.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}
