package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/vector"
)

type stubEmbedder struct{ fail bool }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2}, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("embedder offline")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2}
	}
	return out, nil
}

func (s stubEmbedder) Model() string  { return "stub" }
func (s stubEmbedder) Dimension() int { return 2 }

type recordingIndex struct {
	upserts map[string][]vector.Chunk
	dropped []string
}

func (r *recordingIndex) Upsert(ctx context.Context, ns string, chunks []vector.Chunk) error {
	if r.upserts == nil {
		r.upserts = map[string][]vector.Chunk{}
	}
	r.upserts[ns] = chunks
	return nil
}

func (r *recordingIndex) Search(ctx context.Context, ns, modelID string, emb []float32, k int) ([]vector.Hit, error) {
	return nil, nil
}

func (r *recordingIndex) HasNamespace(ctx context.Context, ns string) (bool, error) {
	return false, nil
}

func (r *recordingIndex) DropNamespace(ctx context.Context, ns string) error {
	r.dropped = append(r.dropped, ns)
	return nil
}

type runLog struct{ models []string }

func (l *runLog) RecordIndexRun(ctx context.Context, modelID, ns string, n int, at time.Time) error {
	l.models = append(l.models, modelID)
	return nil
}

func TestIndexCatalog_OneNamespacePerModel(t *testing.T) {
	cat, err := catalog.Load("../catalog/testdata/products.json")
	require.NoError(t, err)

	idx := &recordingIndex{}
	runs := &runLog{}
	ix := NewIndexer(idx, stubEmbedder{}, NewChunker(1200), runs)

	indexed, failed := ix.IndexCatalog(context.Background(), cat)

	assert.Empty(t, failed)
	assert.Equal(t, 3, indexed)
	// the white variant has no manual content, so only two namespaces are written
	require.Len(t, idx.upserts, 2)
	for ns, chunks := range idx.upserts {
		for _, ch := range chunks {
			assert.Equal(t, ns, vector.Namespace(ch.ModelID))
			assert.Len(t, ch.Embedding, 2)
		}
	}
	assert.ElementsMatch(t, []string{"AT-WM-9KG-BLACK", "AT-RF-340L-SILVER"}, runs.models)
}

func TestIndexModel_EmbedFailure(t *testing.T) {
	ix := NewIndexer(&recordingIndex{}, stubEmbedder{fail: true}, NewChunker(0), nil)

	_, err := ix.IndexModel(context.Background(), testModel())
	assert.ErrorContains(t, err, "embedder offline")
}

func TestDropModel(t *testing.T) {
	idx := &recordingIndex{}
	require.NoError(t, NewIndexer(idx, stubEmbedder{}, NewChunker(0), nil).DropModel(context.Background(), "AT-WM-9KG-BLACK"))
	assert.Equal(t, []string{vector.Namespace("AT-WM-9KG-BLACK")}, idx.dropped)
}
