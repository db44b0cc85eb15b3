package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/pkg/apperror"
	"github.com/product-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine *agent.Engine
}

func NewWebSocketHandler(engine *agent.Engine) *WebSocketHandler {
	return &WebSocketHandler{engine: engine}
}

// Upgrade rejects plain HTTP requests on the socket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsMessage struct {
	Type string `json:"type"`
	chatForm
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "chat" {
			continue
		}

		if err := h.streamResponse(c, msg.chatForm); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, wsErrorMessage(err))
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, form chatForm) error {
	const op = "handlers.streamResponse"

	if err := validation.Struct(op, form); err != nil {
		return err
	}

	if strings.TrimSpace(form.Message) == "" {
		return apperror.Invalid(op, "message is required")
	}

	if err := h.send(c, "status", "Processing..."); err != nil {
		return err
	}

	resp, err := h.engine.ChatStream(context.Background(), form.request(nil), func(chunk string) error {
		return h.send(c, "chunk", chunk)
	})
	if err != nil {
		return err
	}

	return c.WriteJSON(fiber.Map{
		"type":        "complete",
		"session_id":  resp.SessionID,
		"mode":        resp.Mode,
		"suggestions": resp.Suggestions,
		"rejected":    resp.Rejected,
	})
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrGenerationFailed):
		return agent.Apology
	case apperror.IsCode(err, apperror.CodeInvalidArgument):
		return apperror.PublicMessage(err)
	default:
		return "Failed to process message"
	}
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(fiber.Map{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	_ = c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": errorMsg,
	})
}
