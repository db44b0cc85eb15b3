// Package embedding turns text into fixed-dimension vectors for the manual index.
package embedding

import (
	"context"
	"fmt"
)

// DefaultDimension matches all-minilm, the local model used for manuals.
const DefaultDimension = 384

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

func checkDimensions(vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), want)
		}
	}
	return nil
}
