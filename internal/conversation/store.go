// Package conversation owns the per-session message log: the store contract,
// the persistent-to-memory fallback and per-session write serialisation.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/internal/storage/memory"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/logger"
)

var ErrSessionNotFound = models.ErrSessionNotFound

// DefaultHistoryLimit is three user/agent exchanges.
const DefaultHistoryLimit = 6

// Store is implemented by the sqlite, mongo and memory backends.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SetMode(ctx context.Context, sessionID string, mode models.Mode) error
	SetModel(ctx context.Context, sessionID, productID, modelID string) error
	AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	ListSessions(ctx context.Context, f models.ListFilter) ([]models.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// Fallback serves every operation from the primary store and degrades to an
// in-process memory store when the primary fails. Sessions written while the
// primary was down live only in memory.
type Fallback struct {
	primary Store
	memory  *memory.Store

	// known holds the last session metadata read from or written to the
	// primary, without messages. It seeds the memory store during an outage.
	known *cache.Cache
}

func NewFallback(primary Store, mem *memory.Store) *Fallback {
	return &Fallback{
		primary: primary,
		memory:  mem,
		known:   cache.New(memory.DefaultTTL, 10*time.Minute),
	}
}

func (f *Fallback) remember(s *models.Session) {
	snap := *s
	snap.Messages = nil
	f.known.Set(s.SessionID, &snap, cache.DefaultExpiration)
}

func (f *Fallback) patchKnown(sessionID string, fn func(*models.Session)) {
	x, ok := f.known.Get(sessionID)
	if !ok {
		return
	}
	snap := *x.(*models.Session)
	fn(&snap)
	f.known.Set(sessionID, &snap, cache.DefaultExpiration)
}

// seed is the session the memory store starts from when the primary fails
// before memory has seen it.
func (f *Fallback) seed(sessionID string) *models.Session {
	if x, ok := f.known.Get(sessionID); ok {
		snap := *x.(*models.Session)
		return &snap
	}
	return &models.Session{SessionID: sessionID}
}

func (f *Fallback) degrade(op string, err error, sessionID string) {
	metrics.StoreFallbacks.WithLabelValues(op).Inc()
	logger.Warn("Conversation store unavailable, using memory fallback",
		zap.String("op", op),
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound)
}

func (f *Fallback) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *Fallback) CreateSession(ctx context.Context, s *models.Session) (bool, error) {
	created, err := f.primary.CreateSession(ctx, s)
	if err == nil {
		if created {
			f.remember(s)
		}
		return created, nil
	}
	f.degrade("create", err, s.SessionID)
	return f.memory.CreateSession(ctx, s)
}

func (f *Fallback) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := f.primary.GetSession(ctx, sessionID)
	if err == nil {
		f.remember(s)
		return s, nil
	}
	if !isNotFound(err) {
		f.degrade("get", err, sessionID)
	}
	return f.memory.GetSession(ctx, sessionID)
}

func (f *Fallback) SetMode(ctx context.Context, sessionID string, mode models.Mode) error {
	err := f.mutate(ctx, "set_mode", sessionID,
		func(s Store) error { return s.SetMode(ctx, sessionID, mode) },
	)
	if err == nil {
		f.patchKnown(sessionID, func(s *models.Session) { s.Mode = mode })
	}
	return err
}

func (f *Fallback) SetModel(ctx context.Context, sessionID, productID, modelID string) error {
	err := f.mutate(ctx, "set_model", sessionID,
		func(s Store) error { return s.SetModel(ctx, sessionID, productID, modelID) },
	)
	if err == nil {
		f.patchKnown(sessionID, func(s *models.Session) {
			s.ProductID = productID
			s.ModelID = modelID
		})
	}
	return err
}

// mutate applies fn to the primary and falls back to memory. A session the
// memory store has never seen is seeded there from its last known state so
// the write is not lost.
func (f *Fallback) mutate(ctx context.Context, op, sessionID string, fn func(Store) error) error {
	err := fn(f.primary)
	if err == nil {
		return nil
	}

	if !isNotFound(err) {
		f.degrade(op, err, sessionID)
		if !f.memoryHas(ctx, sessionID) {
			if _, err := f.memory.CreateSession(ctx, f.seed(sessionID)); err != nil {
				return err
			}
		}
	}
	return fn(f.memory)
}

func (f *Fallback) memoryHas(ctx context.Context, sessionID string) bool {
	_, err := f.memory.GetSession(ctx, sessionID)
	return err == nil
}

func (f *Fallback) AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error {
	return f.mutate(ctx, "append", sessionID,
		func(s Store) error { return s.AppendMessages(ctx, sessionID, msgs...) },
	)
}

// History never fails: an unreachable primary yields whatever memory holds,
// which may be nothing.
func (f *Fallback) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	msgs, err := f.primary.History(ctx, sessionID, limit)
	if err != nil {
		f.degrade("history", err, sessionID)
		return f.memory.History(ctx, sessionID, limit)
	}
	if len(msgs) == 0 {
		return f.memory.History(ctx, sessionID, limit)
	}
	return msgs, nil
}

func (f *Fallback) ListSessions(ctx context.Context, filter models.ListFilter) ([]models.SessionSummary, error) {
	out, err := f.primary.ListSessions(ctx, filter)
	if err != nil {
		f.degrade("list", err, "")
		return f.memory.ListSessions(ctx, filter)
	}

	local, _ := f.memory.ListSessions(ctx, filter)
	if len(local) == 0 {
		return out, nil
	}
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s.SessionID] = true
	}
	for _, s := range local {
		if !seen[s.SessionID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fallback) DeleteSession(ctx context.Context, sessionID string) error {
	perr := f.primary.DeleteSession(ctx, sessionID)
	merr := f.memory.DeleteSession(ctx, sessionID)
	f.known.Delete(sessionID)

	if perr == nil || merr == nil {
		return nil
	}
	return perr
}
