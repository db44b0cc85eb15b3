package vision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/llm"
)

type roomVision struct {
	verdict    string
	verdictErr error
	analysis   string
	calls      int
}

func (r *roomVision) Describe(ctx context.Context, instruction string, img llm.Image) (string, error) {
	r.calls++
	if strings.Contains(instruction, "RELEVANT or IRRELEVANT") {
		return r.verdict, r.verdictErr
	}
	return r.analysis, nil
}

type promptRecorder struct {
	req   llm.Request
	reply string
	err   error
}

func (p *promptRecorder) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.reply}, nil
}

func (p *promptRecorder) Name() string { return "recorder" }

func TestAnalyzeRoom(t *testing.T) {
	img := llm.Image{Data: []byte{1}, MIMEType: "image/jpeg"}

	tests := []struct {
		name      string
		vision    *roomVision
		wantErr   error
		wantCalls int
	}{
		{
			name:      "relevant room is analysed",
			vision:    &roomVision{verdict: "RELEVANT", analysis: "Small laundry room."},
			wantCalls: 2,
		},
		{
			name:      "irrelevant image is refused",
			vision:    &roomVision{verdict: "irrelevant", analysis: "unused"},
			wantErr:   ErrUnrelatedImage,
			wantCalls: 1,
		},
		{
			name:      "failed relevance check lets the image through",
			vision:    &roomVision{verdictErr: errors.New("timeout"), analysis: "Kitchen corner."},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := NewRoomAdvisor(tt.vision, &promptRecorder{}, "Acme")
			got, err := advisor.AnalyzeRoom(context.Background(), img)
			assert.Equal(t, tt.wantCalls, tt.vision.calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got.Analysis, tt.vision.analysis))
			assert.Contains(t, got.Analysis, MeasurementDisclaimer)
			assert.Equal(t, MeasurementDisclaimer, got.Disclaimer)
		})
	}
}

func TestAssessFit(t *testing.T) {
	gen := &promptRecorder{reply: "YES, it fits."}
	advisor := NewRoomAdvisor(&roomVision{}, gen, "Acme")

	p := catalog.Product{Name: "Acme Washer", Category: "washing_machine"}
	m := catalog.Model{ModelID: "AT-WM-9KG-BLACK", DimensionsCM: [3]float64{85, 60, 56}}

	got, err := advisor.AssessFit(context.Background(), "2m alcove", p, m)
	require.NoError(t, err)
	assert.Equal(t, "YES, it fits.", got.Assessment)
	assert.Equal(t, Footprint{HeightCM: 85, WidthCM: 80, DepthCM: 71}, got.Required)
	assert.Contains(t, gen.req.Query, "2m alcove")
	assert.Contains(t, gen.req.Query, "80cm (W)")

	gen.err = errors.New("quota")
	_, err = advisor.AssessFit(context.Background(), "2m alcove", p, m)
	assert.Error(t, err)
}

func TestRecommendColor(t *testing.T) {
	gen := &promptRecorder{reply: "Go with Black."}
	advisor := NewRoomAdvisor(&roomVision{}, gen, "Acme")

	variants := []catalog.Model{
		{ModelID: "AT-WM-9KG-BLACK", Color: "Black", HexColor: "#1C1C1C"},
		{ModelID: "AT-WM-9KG-WHITE", Color: "White"},
		{ModelID: "AT-WM-9KG-PLAIN"},
	}

	got, err := advisor.RecommendColor(context.Background(), "grey walls", variants)
	require.NoError(t, err)
	assert.Equal(t, []string{"Black (#1C1C1C)", "White"}, got.Options)
	assert.Equal(t, "Go with Black.", got.Recommendation)
	assert.Contains(t, gen.req.Query, "Black (#1C1C1C), White")

	_, err = advisor.RecommendColor(context.Background(), "grey walls", []catalog.Model{{ModelID: "X"}})
	assert.Error(t, err)
}
