package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType ImageType
		wantConf float64
		wantErr  bool
	}{
		{
			name:     "plain json",
			raw:      `{"image_type":"room","observations":["white wall"],"confidence":0.9}`,
			wantType: ImageRoom,
			wantConf: 0.9,
		},
		{
			name:     "json fence",
			raw:      "Here you go:\n```json\n{\"image_type\":\"damage\",\"visible_issues\":[\"cracked seal\"],\"confidence\":0.4}\n```",
			wantType: ImageDamage,
			wantConf: 0.4,
		},
		{
			name:     "bare fence",
			raw:      "```\n{\"image_type\":\"product\"}\n```",
			wantType: ImageProduct,
			wantConf: 0.7,
		},
		{
			name:     "missing confidence defaults",
			raw:      `{"image_type":"installation"}`,
			wantType: ImageInstallation,
			wantConf: 0.7,
		},
		{
			name:     "unrelated with reason",
			raw:      `{"image_type":"unrelated","reason":"a photo of a cat"}`,
			wantType: ImageUnrelated,
			wantConf: 0.7,
		},
		{name: "unrelated without reason", raw: `{"image_type":"unrelated"}`, wantErr: true},
		{name: "missing image_type", raw: `{"observations":[]}`, wantErr: true},
		{name: "unknown image_type", raw: `{"image_type":"selfie"}`, wantErr: true},
		{name: "confidence out of range", raw: `{"image_type":"room","confidence":85}`, wantErr: true},
		{name: "not json", raw: "I can see a kitchen.", wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, DefaultConfidence)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.ImageType)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
		})
	}
}

func TestMerge(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.True(t, Merge(nil).Empty())
	})

	t.Run("single passes through unchanged", func(t *testing.T) {
		in := Result{ImageType: ImageRoom, Observations: []string{"tiled floor"}, WallColor: "beige", Confidence: 0.82}
		got := Merge([]Result{in})

		require.NotNil(t, got.Single)
		assert.Nil(t, got.Multi)
		assert.Equal(t, in, *got.Single)
		assert.Equal(t, 1, got.ImagesCount())
	})

	t.Run("several are aggregated", func(t *testing.T) {
		in := []Result{
			{ImageType: ImageRoom, Observations: []string{"a"}, Confidence: 0.9},
			{ImageType: ImageProduct, Observations: []string{"b", "c"}, Confidence: 0.5},
			{ImageType: ImageDamage, Confidence: 0.55},
		}
		got := Merge(in)

		require.NotNil(t, got.Multi)
		assert.Equal(t, 3, got.Multi.ImagesCount)
		assert.Equal(t, in, got.Multi.Analyses)
		assert.Equal(t, []string{"a", "b", "c"}, got.Multi.Observations)
		assert.InDelta(t, (0.9+0.5+0.55)/3, got.Confidence(), 1e-6)
	})
}

func TestAnalysisJSON(t *testing.T) {
	single := Merge([]Result{{ImageType: ImageRoom, Confidence: 0.8}})
	b, err := single.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"image_type":"room","confidence":0.8}`, string(b))

	multi := Merge([]Result{{ImageType: ImageRoom, Confidence: 0.75}, {ImageType: ImageRoom, Confidence: 0.25}})
	b, err = multi.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"images_count":2`)
	assert.Contains(t, string(b), `"combined_confidence":0.5`)
}
