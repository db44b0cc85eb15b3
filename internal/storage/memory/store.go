package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/product-agent/backend/internal/storage/models"
)

const DefaultTTL = 24 * time.Hour

type entry struct {
	mu      sync.Mutex
	session models.Session
}

// Store keeps sessions in process memory. Idle sessions expire after the TTL.
type Store struct {
	cache *cache.Cache
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: cache.New(ttl, 10*time.Minute)}
}

func (s *Store) get(sessionID string) (*entry, bool) {
	if x, found := s.cache.Get(sessionID); found {
		return x.(*entry), true
	}
	return nil, false
}

func (s *Store) touch(sessionID string, e *entry) {
	s.cache.Set(sessionID, e, cache.DefaultExpiration)
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) (bool, error) {
	now := time.Now().UTC()
	e := &entry{session: *sess}
	if e.session.CreatedAt.IsZero() {
		e.session.CreatedAt = now
	}
	if e.session.UpdatedAt.IsZero() {
		e.session.UpdatedAt = now
	}
	e.session.Messages = append([]models.Message(nil), sess.Messages...)

	if err := s.cache.Add(sess.SessionID, e, cache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	e, ok := s.get(sessionID)
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.session
	out.Messages = append([]models.Message(nil), e.session.Messages...)
	return &out, nil
}

func (s *Store) update(sessionID string, fn func(*models.Session)) error {
	e, ok := s.get(sessionID)
	if !ok {
		return models.ErrSessionNotFound
	}

	e.mu.Lock()
	fn(&e.session)
	e.session.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	s.touch(sessionID, e)
	return nil
}

func (s *Store) SetMode(ctx context.Context, sessionID string, mode models.Mode) error {
	return s.update(sessionID, func(sess *models.Session) { sess.Mode = mode })
}

func (s *Store) SetModel(ctx context.Context, sessionID, productID, modelID string) error {
	return s.update(sessionID, func(sess *models.Session) {
		sess.ProductID = productID
		sess.ModelID = modelID
	})
}

func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error {
	now := time.Now().UTC()
	return s.update(sessionID, func(sess *models.Session) {
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			sess.Messages = append(sess.Messages, m)
		}
	})
}

func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	e, ok := s.get(sessionID)
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msgs := e.session.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

func (s *Store) ListSessions(ctx context.Context, f models.ListFilter) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for _, item := range s.cache.Items() {
		e := item.Object.(*entry)
		e.mu.Lock()
		sess := e.session
		count := len(e.session.Messages)
		e.mu.Unlock()

		if f.UserID != "" && sess.UserID != f.UserID {
			continue
		}
		if f.ModelID != "" && sess.ModelID != f.ModelID {
			continue
		}
		if f.Mode != "" && sess.Mode != f.Mode {
			continue
		}
		out = append(out, models.SessionSummary{
			SessionID:    sess.SessionID,
			UserID:       sess.UserID,
			Mode:         sess.Mode,
			ModelID:      sess.ModelID,
			MessageCount: count,
			UpdatedAt:    sess.UpdatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, ok := s.get(sessionID); !ok {
		return models.ErrSessionNotFound
	}
	s.cache.Delete(sessionID)
	return nil
}
