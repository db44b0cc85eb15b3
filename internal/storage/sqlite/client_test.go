package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newSession(id string) *models.Session {
	return &models.Session{
		SessionID: id,
		BrandID:   "acme",
		UserID:    "u1",
		Mode:      models.ModePostPurchase,
		ProductID: "AT-WM-9KG",
		ModelID:   "AT-WM-9KG-BLACK",
	}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, newSession("s1"))
	require.NoError(t, err)
	assert.True(t, created)

	again := newSession("s1")
	again.Mode = models.ModePrePurchase
	created, err = c.CreateSession(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	s, err := c.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ModePostPurchase, s.Mode)
	assert.Equal(t, "AT-WM-9KG-BLACK", s.ModelID)
}

func TestGetSessionNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestAppendAndHistoryWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, newSession("s1"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AppendMessages(ctx, "s1",
			models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
			models.Message{Role: models.RoleAgent, Content: fmt.Sprintf("a%d", i)},
		))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"window of six", 6, []string{"q2", "a2", "q3", "a3", "q4", "a4"}},
		{"window of one", 1, []string{"a4"}},
		{"unbounded", 0, []string{"q0", "a0", "q1", "a1", "q2", "a2", "q3", "a3", "q4", "a4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := c.History(ctx, "s1", tt.limit)
			require.NoError(t, err)
			var got []string
			for _, m := range msgs {
				got = append(got, m.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	s, err := c.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 10)
	assert.Equal(t, models.RoleUser, s.Messages[0].Role)
	assert.NotEmpty(t, s.Messages[0].ID)
}

func TestAppendToUnknownSession(t *testing.T) {
	c := newTestClient(t)
	err := c.AppendMessages(context.Background(), "ghost", models.Message{Role: models.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestConcurrentAppendsKeepPairs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, newSession("s1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.AppendMessages(ctx, "s1",
				models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
				models.Message{Role: models.RoleAgent, Content: fmt.Sprintf("a%d", i)},
			))
		}(i)
	}
	wg.Wait()

	msgs, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, models.RoleUser, msgs[i].Role)
		assert.Equal(t, models.RoleAgent, msgs[i+1].Role)
		assert.Equal(t, "a"+msgs[i].Content[1:], msgs[i+1].Content)
	}
}

func TestSetModeAndModel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, newSession("s1"))
	require.NoError(t, err)

	require.NoError(t, c.SetMode(ctx, "s1", models.ModePrePurchase))
	require.NoError(t, c.SetModel(ctx, "s1", "AT-RF-340L", "AT-RF-340L-SILVER"))

	s, err := c.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ModePrePurchase, s.Mode)
	assert.Equal(t, "AT-RF-340L-SILVER", s.ModelID)

	assert.ErrorIs(t, c.SetMode(ctx, "ghost", models.ModePrePurchase), models.ErrSessionNotFound)
}

func TestListAndDeleteSessions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateSession(ctx, newSession("s1"))
	require.NoError(t, err)
	other := newSession("s2")
	other.UserID = "u2"
	other.Mode = models.ModePrePurchase
	_, err = c.CreateSession(ctx, other)
	require.NoError(t, err)
	require.NoError(t, c.AppendMessages(ctx, "s1", models.Message{Role: models.RoleUser, Content: "hi"}))

	all, err := c.ListSessions(ctx, models.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := c.ListSessions(ctx, models.ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "s1", mine[0].SessionID)
	assert.Equal(t, 1, mine[0].MessageCount)

	pre, err := c.ListSessions(ctx, models.ListFilter{Mode: models.ModePrePurchase})
	require.NoError(t, err)
	require.Len(t, pre, 1)
	assert.Equal(t, "s2", pre[0].SessionID)

	require.NoError(t, c.DeleteSession(ctx, "s1"))
	assert.ErrorIs(t, c.DeleteSession(ctx, "s1"), models.ErrSessionNotFound)

	msgs, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEventsAndIndexRuns(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.RecordEvent(ctx, &models.AnalyticsEvent{BrandID: "acme", EventType: models.EventChat}))
	require.NoError(t, c.RecordEvent(ctx, &models.AnalyticsEvent{BrandID: "acme", EventType: models.EventChat}))
	require.NoError(t, c.RecordEvent(ctx, &models.AnalyticsEvent{BrandID: "acme", EventType: models.EventScopeReject}))

	counts, err := c.EventCounts(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.EventChat])
	assert.Equal(t, 1, counts[models.EventScopeReject])

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.RecordIndexRun(ctx, "AT-WM-9KG-BLACK", "product_AT_x2dWM_x2d9KG_x2dBLACK", 4, at))
	require.NoError(t, c.RecordIndexRun(ctx, "AT-WM-9KG-BLACK", "product_AT_x2dWM_x2d9KG_x2dBLACK", 7, at))

	runs, err := c.IndexRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 7, runs[0].Chunks)
	assert.True(t, at.Equal(runs[0].IndexedAt))
}

func TestAppendRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET updated_at").
		WithArgs(sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO messages")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	c := Wrap(db)
	err = c.AppendMessages(context.Background(), "s1",
		models.Message{Role: models.RoleUser, Content: "q"},
		models.Message{Role: models.RoleAgent, Content: "a"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, role, content, created_at").
		WithArgs("s1", 6).
		WillReturnError(errors.New("database is locked"))

	_, err = Wrap(db).History(context.Background(), "s1", 6)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
