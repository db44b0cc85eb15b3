package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load("testdata/products.json")
	require.NoError(t, err)
	return c
}

func TestGetModel(t *testing.T) {
	c := loadTestCatalog(t)

	p, m, ok := c.GetModel("AT-WM-9KG-BLACK")
	require.True(t, ok)
	assert.Equal(t, "AT-WM-9KG", p.ProductID)
	assert.Equal(t, "washing_machine", p.Category)
	assert.Equal(t, [3]float64{85, 60, 56}, m.DimensionsCM)
	assert.Equal(t, 2, m.WarrantyYears)
	require.NotNil(t, m.Manual)
	assert.Len(t, m.Manual.SafetyGuidelines, 4)

	_, _, ok = c.GetModel("NOPE")
	assert.False(t, ok)
}

func TestErrorCode(t *testing.T) {
	c := loadTestCatalog(t)

	tests := []struct {
		name    string
		model   string
		code    string
		meaning string
		wantErr bool
	}{
		{"exact", "AT-WM-9KG-BLACK", "E04", "Door not latched", false},
		{"lower case", "AT-WM-9KG-BLACK", "e21", "Drain blocked", false},
		{"mixed case stored", "AT-RF-340L-SILVER", "DF", "Defrost in progress", false},
		{"unknown code", "AT-WM-9KG-BLACK", "E99", "", true},
		{"unknown model", "X", "E04", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue, err := c.ErrorCode(tt.model, tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.meaning, issue.Meaning)
		})
	}
}

func TestParse_RejectsDuplicateModelIDs(t *testing.T) {
	data := []byte(`{
		"a": [{"product_id": "P1", "name": "one", "models": [{"model_id": "M1"}]}],
		"b": [{"product_id": "P2", "name": "two", "models": [{"model_id": "M1"}]}]
	}`)

	_, err := Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate model_id")
}

func TestVariantsAndSiblings(t *testing.T) {
	c := loadTestCatalog(t)

	assert.Len(t, c.Variants("AT-WM-9KG"), 2)
	assert.Nil(t, c.Variants("missing"))

	siblings := c.Siblings("AT-WM-9KG-BLACK")
	require.Len(t, siblings, 1)
	assert.Equal(t, "AT-WM-9KG-WHITE", siblings[0].ModelID)
}

func TestQueries(t *testing.T) {
	c := loadTestCatalog(t)

	assert.Equal(t, []string{"refrigerator", "washing_machine"}, c.Categories())
	assert.Len(t, c.All(), 3)

	cheap := c.ByPriceRange("washing_machine", 600, 640)
	require.Len(t, cheap, 1)
	assert.Equal(t, "AT-WM-9KG-WHITE", cheap[0].Model.ModelID)

	wifi := c.SearchByFeatures("washing_machine", []string{"wi-fi"})
	require.Len(t, wifi, 1)
	assert.Equal(t, "AT-WM-9KG-BLACK", wifi[0].Model.ModelID)
}
