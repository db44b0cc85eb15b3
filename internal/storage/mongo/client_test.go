package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/product-agent/backend/internal/storage/models"
)

func TestHistoryProjection(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  bson.M
	}{
		{"window", 6, bson.M{"messages": bson.M{"$slice": -6}}},
		{"unbounded", 0, bson.M{"messages": 1}},
		{"negative is unbounded", -3, bson.M{"messages": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, historyProjection(tt.limit))
		})
	}
}

func TestListFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, listFilter(models.ListFilter{}))
	assert.Equal(t,
		bson.M{"user_id": "u1", "model_id": "AT-WM-9KG-BLACK", "mode": models.ModePostPurchase},
		listFilter(models.ListFilter{UserID: "u1", ModelID: "AT-WM-9KG-BLACK", Mode: models.ModePostPurchase, Limit: 10}),
	)
}
