package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/conversation"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/logger"
)

const DefaultHistoryPageSize = 50

var preSuggestions = []string{
	"Will this fit in my space?",
	"What's the warranty?",
	"Installation requirements?",
	"Color options?",
}

var postSuggestions = []string{
	"How do I install this?",
	"Troubleshoot an error",
	"Maintenance schedule",
	"User manual",
}

// Suggestions returns follow-up prompts for the mode.
func Suggestions(mode models.Mode) []string {
	if mode == models.ModePostPurchase {
		return append([]string(nil), postSuggestions...)
	}
	return append([]string(nil), preSuggestions...)
}

// SwitchMode persists the new mode. Every later turn of the session uses it
// until switched again. An unknown session is created in that mode.
func (e *Engine) SwitchMode(ctx context.Context, sessionID string, mode models.Mode) error {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	err := e.store.SetMode(ctx, sessionID, mode)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		_, err = e.store.CreateSession(ctx, &models.Session{
			SessionID: sessionID,
			BrandID:   e.brandID,
			Mode:      mode,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to switch mode: %w", err)
	}

	logger.Info("Mode switched", zap.String("session_id", sessionID), zap.String("mode", string(mode)))

	if e.events != nil {
		ev := &models.AnalyticsEvent{
			BrandID:   e.brandID,
			SessionID: sessionID,
			Mode:      mode,
			EventType: models.EventModeSwitch,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.events.RecordEvent(ctx, ev); err != nil {
			logger.Warn("Failed to record analytics event", zap.Error(err))
		}
	}
	return nil
}

type HistoryPage struct {
	SessionID string           `json:"session_id"`
	Mode      models.Mode      `json:"mode"`
	ModelID   string           `json:"model_id,omitempty"`
	Messages  []models.Message `json:"messages"`
}

func (e *Engine) History(ctx context.Context, sessionID string, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryPageSize
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := e.store.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	return &HistoryPage{
		SessionID: session.SessionID,
		Mode:      session.Mode,
		ModelID:   session.ModelID,
		Messages:  msgs,
	}, nil
}

func (e *Engine) ListConversations(ctx context.Context, f models.ListFilter) ([]models.SessionSummary, error) {
	out, err := e.store.ListSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if out == nil {
		out = []models.SessionSummary{}
	}
	return out, nil
}

// ResetConversation deletes the session and its log.
func (e *Engine) ResetConversation(ctx context.Context, sessionID string) error {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	return e.store.DeleteSession(ctx, sessionID)
}

type ErrorCodeRequest struct {
	SessionID string
	UserID    string
	ModelID   string
	Code      string
	Language  string
}

// ExplainErrorCode answers a question about one error code of a known model.
// A catalogued code is pinned into the prompt ahead of retrieved documents.
func (e *Engine) ExplainErrorCode(ctx context.Context, req ErrorCodeRequest) (*ChatResponse, error) {
	p, _, ok := e.catalog.GetModel(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCatalogMiss, req.ModelID)
	}

	chat := ChatRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ModelID:   req.ModelID,
		Mode:      models.ModePostPurchase,
		Language:  req.Language,
	}

	issue, err := e.catalog.ErrorCode(req.ModelID, req.Code)
	switch {
	case err == nil:
		chat.Message = fmt.Sprintf("I'm seeing error code %s. What does this mean and how do I fix it?", issue.Error)
		pinned := fmt.Sprintf("ERROR CODE: %s\nMEANING: %s\nFIX: %s", issue.Error, issue.Meaning, issue.Fix)
		return e.run(ctx, chat, pinned, models.EventErrorCode, nil)
	case errors.Is(err, catalog.ErrModelNotFound):
		return nil, fmt.Errorf("%w: %s", ErrCatalogMiss, req.ModelID)
	default:
		chat.Message = fmt.Sprintf("I'm seeing error code %s on my %s. What should I do?", req.Code, p.Name)
		return e.run(ctx, chat, "", models.EventErrorCode, nil)
	}
}
