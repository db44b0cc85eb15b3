package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/vector"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, f.err
}
func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}
func (f fakeEmbedder) Model() string  { return "fake" }
func (f fakeEmbedder) Dimension() int { return 3 }

// leakyIndex ignores namespaces entirely, ranking every stored chunk by a
// fixed score so a foreign model can outrank the requested one.
type leakyIndex struct {
	hits []vector.Hit
	err  error

	lastNamespace string
}

func (l *leakyIndex) Upsert(ctx context.Context, ns string, chunks []vector.Chunk) error { return nil }
func (l *leakyIndex) Search(ctx context.Context, ns, modelID string, emb []float32, k int) ([]vector.Hit, error) {
	l.lastNamespace = ns
	return append([]vector.Hit(nil), l.hits...), l.err
}
func (l *leakyIndex) HasNamespace(ctx context.Context, ns string) (bool, error) { return true, nil }
func (l *leakyIndex) DropNamespace(ctx context.Context, ns string) error        { return nil }

func TestSearch_NamespaceIsolation(t *testing.T) {
	idx := &leakyIndex{hits: []vector.Hit{
		{ChunkID: "y1", ModelID: "Y", Section: "overview", Text: "exact match text", Score: 0.99},
		{ChunkID: "x1", ModelID: "X", Section: "safety", Text: "unplug first", Score: 0.41},
		{ChunkID: "y2", ModelID: "Y", Section: "warnings", Text: "more Y", Score: 0.95},
		{ChunkID: "x2", ModelID: "X", Section: "installation", Text: "level the feet", Score: 0.40},
	}}
	r := New(idx, fakeEmbedder{})

	hits, err := r.Search(context.Background(), "X", "exact match text")
	require.NoError(t, err)

	assert.Equal(t, vector.Namespace("X"), idx.lastNamespace)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "X", h.ModelID)
	}
}

func TestSearch_CapsAtTopK(t *testing.T) {
	idx := &leakyIndex{}
	for i := 0; i < 6; i++ {
		idx.hits = append(idx.hits, vector.Hit{ModelID: "X", Section: "s", Text: "t"})
	}

	hits, err := New(idx, fakeEmbedder{}, WithTopK(3)).Search(context.Background(), "X", "q")
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestRetrieve_DegradesToEmpty(t *testing.T) {
	tests := []struct {
		name string
		r    *Retriever
	}{
		{"no index configured", New(nil, nil)},
		{"index error", New(&leakyIndex{err: errors.New("partition not found")}, fakeEmbedder{})},
		{"embedder error", New(&leakyIndex{}, fakeEmbedder{err: errors.New("ollama down")})},
		{"no matches", New(&leakyIndex{}, fakeEmbedder{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "", tt.r.Retrieve(context.Background(), "X", "how do I install"))
		})
	}
}

func TestFormat(t *testing.T) {
	out := Format([]vector.Hit{
		{Section: "installation", Text: " Remove transit bolts. ", Score: 0.8712},
		{Section: "empty", Text: "   "},
		{Section: "safety", Text: "Unplug before cleaning.", Score: 0.5},
	})

	assert.Equal(t,
		"[installation] Remove transit bolts. (relevance: 0.87)\n\n[safety] Unplug before cleaning. (relevance: 0.50)",
		out)
}
