// Package vector defines the per-model namespaced manual index.
package vector

import (
	"context"
	"fmt"
	"strings"
)

type Chunk struct {
	ID        string
	ModelID   string
	Section   string
	Text      string
	Embedding []float32
}

// Hit is a search result. Score is normalised to [0,1], higher is closer.
type Hit struct {
	ChunkID string
	ModelID string
	Section string
	Text    string
	Score   float32
}

// Index stores chunks in one namespace per model. Search must only return
// chunks from the given namespace whose ModelID equals modelID.
type Index interface {
	Upsert(ctx context.Context, namespace string, chunks []Chunk) error
	Search(ctx context.Context, namespace, modelID string, embedding []float32, topK int) ([]Hit, error)
	HasNamespace(ctx context.Context, namespace string) (bool, error)
	DropNamespace(ctx context.Context, namespace string) error
}

// Namespace maps a model id to its partition name. Letters and digits are
// kept and every other byte is written as _xHH, so distinct ids never share a
// partition: "AT-WM-9KG-BLACK" -> "product_AT_x2dWM_x2d9KG_x2dBLACK".
func Namespace(modelID string) string {
	var b strings.Builder
	b.WriteString("product_")
	for i := 0; i < len(modelID); i++ {
		c := modelID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_x%02x", c)
		}
	}
	return b.String()
}
