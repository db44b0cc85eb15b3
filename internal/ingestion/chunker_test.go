package ingestion

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/catalog"
)

func testModel() catalog.Model {
	return catalog.Model{
		ModelID: "AT-WM-9KG-BLACK",
		Manual: &catalog.Manual{
			Overview:          "A 9kg washer with <b>steam</b> wash.",
			InstallationSteps: []string{"Remove transit bolts.", "Level the feet."},
			SafetyGuidelines:  []string{"Unplug before cleaning."},
			DoNot:             []string{"Do not wash petrol-soaked items."},
		},
		RepairPolicy:        json.RawMessage(`{"authorised_centres_only":true}`),
		TroubleshootingFlow: json.RawMessage(`{"E04":["Re-close door"]}`),
	}
}

func TestChunkModel_Sections(t *testing.T) {
	chunks, err := NewChunker(1200).ChunkModel(testModel())
	require.NoError(t, err)

	sections := make([]string, len(chunks))
	for i, ch := range chunks {
		sections[i] = ch.Section
		assert.Equal(t, "AT-WM-9KG-BLACK", ch.ModelID)
		assert.NotEmpty(t, ch.ID)
	}
	assert.Equal(t, []string{
		SectionOverview, SectionInstallation, SectionSafety, SectionWarnings,
		SectionRepairPolicy, SectionTroubleshooting,
	}, sections)

	assert.Equal(t, "A 9kg washer with steam wash.", chunks[0].Text)
	assert.Equal(t, "Installation steps:\n1. Remove transit bolts.\n2. Level the feet.", chunks[1].Text)
	assert.Contains(t, chunks[5].Text, "Troubleshooting Flow:")
	assert.Contains(t, chunks[5].Text, `"E04"`)
}

func TestChunkModel_StableIDs(t *testing.T) {
	a, err := NewChunker(1200).ChunkModel(testModel())
	require.NoError(t, err)
	b, err := NewChunker(1200).ChunkModel(testModel())
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}

func TestChunkModel_SplitsLongSections(t *testing.T) {
	m := catalog.Model{ModelID: "M1", Manual: &catalog.Manual{
		Overview: strings.Repeat("The drum spins quietly at night. ", 40),
	}}

	chunks, err := NewChunker(200).ChunkModel(m)
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1)
	ids := map[string]bool{}
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 200)
		assert.Equal(t, SectionOverview, ch.Section)
		ids[ch.ID] = true
	}
	assert.Len(t, ids, len(chunks))
}

func TestChunkModel_InvalidAuxJSON(t *testing.T) {
	m := catalog.Model{ModelID: "M1", Lifecycle: json.RawMessage(`{broken`)}

	_, err := NewChunker(0).ChunkModel(m)
	assert.Error(t, err)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Line one\nLine two", CleanText("  Line   one \n\n <i>Line</i> two "))
	assert.Equal(t, "", CleanText("   "))
}
