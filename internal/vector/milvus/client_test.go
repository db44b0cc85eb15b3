package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelFilter(t *testing.T) {
	assert.Equal(t, `model_id == "AT-WM-9KG-BLACK"`, modelFilter("AT-WM-9KG-BLACK"))
	assert.Equal(t, `model_id == "x\"y"`, modelFilter(`x"y`))
}

func TestNormaliseCosine(t *testing.T) {
	assert.InDelta(t, 1.0, normaliseCosine(1), 1e-6)
	assert.InDelta(t, 0.5, normaliseCosine(0), 1e-6)
	assert.InDelta(t, 0.0, normaliseCosine(-1), 1e-6)
	assert.InDelta(t, 1.0, normaliseCosine(1.0001), 1e-6)
}
