package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/apperror"
)

type SessionHandler struct {
	engine *agent.Engine
}

func NewSessionHandler(engine *agent.Engine) *SessionHandler {
	return &SessionHandler{engine: engine}
}

func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	const op = "handlers.GetHistory"

	sessionID := c.Params("session_id")
	if sessionID == "" {
		return respondError(c, op, apperror.Invalid(op, "session_id is required"))
	}

	page, err := h.engine.History(c.UserContext(), sessionID, c.QueryInt("limit", agent.DefaultHistoryPageSize))
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(page)
}

func (h *SessionHandler) ListConversations(c *fiber.Ctx) error {
	const op = "handlers.ListConversations"

	filter := models.ListFilter{
		UserID:  c.Query("user_id"),
		ModelID: c.Query("model_id"),
		Limit:   c.QueryInt("limit", 50),
	}
	if raw := c.Query("mode"); raw != "" {
		mode, err := models.ParseMode(raw)
		if err != nil {
			return respondError(c, op, apperror.Invalid(op, "mode must be PRE_PURCHASE or POST_PURCHASE"))
		}
		filter.Mode = mode
	}

	sessions, err := h.engine.ListConversations(c.UserContext(), filter)
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(fiber.Map{
		"conversations": sessions,
		"count":         len(sessions),
	})
}

func (h *SessionHandler) DeleteConversation(c *fiber.Ctx) error {
	const op = "handlers.DeleteConversation"

	sessionID := c.Params("session_id")
	if err := h.engine.ResetConversation(c.UserContext(), sessionID); err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Conversation deleted",
		"session_id": sessionID,
	})
}

type modeRequest struct {
	SessionID string `json:"session_id" form:"session_id" validate:"required,max=128"`
	Mode      string `json:"mode" form:"mode" validate:"required"`
}

func (h *SessionHandler) SwitchMode(c *fiber.Ctx) error {
	const op = "handlers.SwitchMode"

	var req modeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, op, apperror.Invalid(op, "Invalid request body"))
	}
	if err := validation.Struct(op, req); err != nil {
		return respondError(c, op, err)
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		return respondError(c, op, apperror.Invalid(op, "mode must be PRE_PURCHASE or POST_PURCHASE"))
	}

	if err := h.engine.SwitchMode(c.UserContext(), req.SessionID, mode); err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(fiber.Map{
		"session_id":  req.SessionID,
		"mode":        mode,
		"suggestions": agent.Suggestions(mode),
	})
}
