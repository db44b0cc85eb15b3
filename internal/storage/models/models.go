package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type Mode string

const (
	ModePrePurchase  Mode = "PRE_PURCHASE"
	ModePostPurchase Mode = "POST_PURCHASE"
)

// ParseMode accepts either mode name in any case; empty means pre-purchase.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ModePrePurchase):
		return ModePrePurchase, nil
	case string(ModePostPurchase):
		return ModePostPurchase, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	ID        string    `json:"id" bson:"id"`
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"timestamp" bson:"timestamp"`
}

// Session is one conversation. Messages are only ever appended.
type Session struct {
	SessionID string    `json:"session_id" bson:"session_id"`
	BrandID   string    `json:"brand_id" bson:"brand_id"`
	UserID    string    `json:"user_id,omitempty" bson:"user_id,omitempty"`
	Mode      Mode      `json:"mode" bson:"mode"`
	ProductID string    `json:"product_id,omitempty" bson:"product_id,omitempty"`
	ModelID   string    `json:"model_id,omitempty" bson:"model_id,omitempty"`
	Messages  []Message `json:"messages,omitempty" bson:"messages"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// SessionSummary is a session without its message log.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Mode         Mode      `json:"mode"`
	ModelID      string    `json:"model_id,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ListFilter struct {
	UserID  string
	ModelID string
	Mode    Mode
	Limit   int
}

type EventType string

const (
	EventChat          EventType = "chat"
	EventScopeReject   EventType = "scope_rejection"
	EventImageRejected EventType = "image_rejection"
	EventModeSwitch    EventType = "mode_switch"
	EventErrorCode     EventType = "error_code_lookup"
)

type AnalyticsEvent struct {
	ID             string    `json:"id" bson:"id"`
	BrandID        string    `json:"brand_id" bson:"brand_id"`
	SessionID      string    `json:"session_id" bson:"session_id"`
	ProductID      string    `json:"product_id,omitempty" bson:"product_id,omitempty"`
	ModelID        string    `json:"model_id,omitempty" bson:"model_id,omitempty"`
	Mode           Mode      `json:"mode" bson:"mode"`
	EventType      EventType `json:"event_type" bson:"event_type"`
	UserQuery      string    `json:"user_query,omitempty" bson:"user_query,omitempty"`
	ResponseTimeMS int64     `json:"response_time_ms" bson:"response_time_ms"`
	ImagesCount    int       `json:"images_count" bson:"images_count"`
	ErrorOccurred  bool      `json:"error_occurred" bson:"error_occurred"`
	ErrorMessage   string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

type IndexRun struct {
	ModelID   string    `json:"model_id"`
	Namespace string    `json:"namespace"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}
