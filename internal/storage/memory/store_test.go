package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/storage/models"
)

func TestCreateIsIdempotent(t *testing.T) {
	s := NewStore(time.Hour)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, &models.Session{SessionID: "s1", Mode: models.ModePostPurchase})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateSession(ctx, &models.Session{SessionID: "s1", Mode: models.ModePrePurchase})
	require.NoError(t, err)
	assert.False(t, created)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ModePostPurchase, sess.Mode)
}

func TestHistoryWindowAndCopies(t *testing.T) {
	s := NewStore(time.Hour)
	ctx := context.Background()
	_, err := s.CreateSession(ctx, &models.Session{SessionID: "s1"})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendMessages(ctx, "s1",
			models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
			models.Message{Role: models.RoleAgent, Content: fmt.Sprintf("a%d", i)},
		))
	}

	msgs, err := s.History(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a2", msgs[0].Content)
	assert.Equal(t, "a3", msgs[2].Content)

	msgs[0].Content = "mutated"
	again, err := s.History(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, "a2", again[0].Content)

	missing, err := s.History(ctx, "ghost", 6)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore(time.Hour)
	ctx := context.Background()
	_, err := s.CreateSession(ctx, &models.Session{SessionID: "s1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendMessages(ctx, "s1",
				models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
				models.Message{Role: models.RoleAgent, Content: fmt.Sprintf("a%d", i)},
			))
		}(i)
	}
	wg.Wait()

	msgs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, models.RoleUser, msgs[i].Role)
		assert.Equal(t, "a"+msgs[i].Content[1:], msgs[i+1].Content)
	}
}

func TestListSetAndDelete(t *testing.T) {
	s := NewStore(time.Hour)
	ctx := context.Background()
	_, err := s.CreateSession(ctx, &models.Session{SessionID: "s1", UserID: "u1", Mode: models.ModePrePurchase})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, &models.Session{SessionID: "s2", UserID: "u2", Mode: models.ModePrePurchase})
	require.NoError(t, err)

	require.NoError(t, s.SetMode(ctx, "s1", models.ModePostPurchase))
	require.NoError(t, s.SetModel(ctx, "s1", "AT-WM-9KG", "AT-WM-9KG-BLACK"))
	assert.ErrorIs(t, s.SetMode(ctx, "ghost", models.ModePostPurchase), models.ErrSessionNotFound)
	assert.ErrorIs(t, s.AppendMessages(ctx, "ghost"), models.ErrSessionNotFound)

	post, err := s.ListSessions(ctx, models.ListFilter{Mode: models.ModePostPurchase})
	require.NoError(t, err)
	require.Len(t, post, 1)
	assert.Equal(t, "AT-WM-9KG-BLACK", post[0].ModelID)

	all, err := s.ListSessions(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), models.ErrSessionNotFound)
	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
