package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/product-agent/backend/internal/cache/redis"
)

type countingEmbedder struct {
	calls  int
	inputs []string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	e.inputs = append(e.inputs, text)
	return []float32{float32(len(text)), 0, 1}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.inputs = append(e.inputs, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0, 1}
	}
	return out, nil
}

func (e *countingEmbedder) Model() string  { return "fake" }
func (e *countingEmbedder) Dimension() int { return 3 }

func newCached(t *testing.T) (*Cached, *countingEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingEmbedder{}
	return NewCached(inner, rediscache.Wrap(rdb), time.Hour), inner, mr
}

func TestCached_Embed(t *testing.T) {
	c, inner, _ := newCached(t)
	ctx := context.Background()

	first, err := c.Embed(ctx, "door seal")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "door seal")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCached_EmbedBatchOnlySendsMisses(t *testing.T) {
	c, inner, _ := newCached(t)
	ctx := context.Background()

	_, err := c.Embed(ctx, "b")
	require.NoError(t, err)
	inner.inputs = nil

	vectors, err := c.EmbedBatch(ctx, []string{"aa", "b", "cccc"})
	require.NoError(t, err)

	assert.Equal(t, []string{"aa", "cccc"}, inner.inputs)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(2), vectors[0][0])
	assert.Equal(t, float32(1), vectors[1][0])
	assert.Equal(t, float32(4), vectors[2][0])
}

func TestCached_FallsThroughWhenRedisDown(t *testing.T) {
	c, inner, mr := newCached(t)
	mr.Close()

	vec, err := c.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 1, inner.calls)
}
