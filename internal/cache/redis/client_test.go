package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	vec := []float32{0.25, -1.5, 3.125}
	require.NoError(t, c.SetEmbedding(ctx, "embedding:abc", vec, time.Hour))

	got, ok, err := c.GetEmbedding(ctx, "embedding:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.GetEmbedding(ctx, "embedding:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetEmbedding_Corrupt(t *testing.T) {
	c, mr := setup(t)
	require.NoError(t, mr.Set("embedding:bad", "abc"))

	_, _, err := c.GetEmbedding(context.Background(), "embedding:bad")
	assert.Error(t, err)
}

func TestJSONAndInvalidate(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	type payload struct {
		ImageType string `json:"image_type"`
	}
	require.NoError(t, c.SetJSON(ctx, "vision:1", payload{ImageType: "room"}, 0))
	require.NoError(t, c.SetEmbedding(ctx, "embedding:1", []float32{1}, 0))
	require.NoError(t, c.SetEmbedding(ctx, "embedding:2", []float32{2}, 0))

	var got payload
	ok, err := c.GetJSON(ctx, "vision:1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "room", got.ImageType)

	removed, err := c.InvalidatePrefix(ctx, "embedding:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ok, err = c.GetJSON(ctx, "vision:1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
}
