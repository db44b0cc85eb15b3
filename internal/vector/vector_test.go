package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace(t *testing.T) {
	tests := map[string]string{
		"AT-WM-9KG-BLACK": "product_AT_x2dWM_x2d9KG_x2dBLACK",
		"RF_340":          "product_RF_x5f340",
		"RF-340":          "product_RF_x2d340",
		"a.b c":           "product_a_x2eb_x20c",
		"é":               "product__xc3_xa9",
	}
	for in, want := range tests {
		assert.Equal(t, want, Namespace(in), in)
	}
}

func TestNamespaceIsInjective(t *testing.T) {
	ids := []string{
		"RF-340", "RF_340", "RF.340", "RF 340", "RF340",
		"RF_x2d340", "RF-x2d340", "a-_b", "a_-b", "a__b", "a--b",
	}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		ns := Namespace(id)
		prev, dup := seen[ns]
		assert.False(t, dup, "%q and %q share namespace %s", prev, id, ns)
		seen[ns] = id
	}
}
