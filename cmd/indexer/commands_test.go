package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/catalog"
)

func TestSelectModels(t *testing.T) {
	c, err := catalog.Load("../../internal/catalog/testdata/products.json")
	require.NoError(t, err)

	all, err := selectModels(c, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := selectModels(c, []string{"AT-RF-340L-SILVER"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "AT-RF-340L-SILVER", some[0].ModelID)

	_, err = selectModels(c, []string{"AT-RF-340L-SILVER", "NOPE"})
	assert.ErrorContains(t, err, "NOPE")
}
