package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes groups the handlers mounted under /api/v1. Nil handlers are skipped.
type Routes struct {
	Chat      *ChatHandler
	Sessions  *SessionHandler
	Catalog   *CatalogHandler
	Room      *RoomHandler
	WebSocket *WebSocketHandler
	Health    *HealthHandler
}

func (r Routes) Register(api fiber.Router) {
	if r.Chat != nil {
		api.Post("/chat", r.Chat.HandleChat)
	}

	if r.Sessions != nil {
		api.Get("/history/:session_id", r.Sessions.GetHistory)
		api.Get("/conversations", r.Sessions.ListConversations)
		api.Delete("/conversations/:session_id", r.Sessions.DeleteConversation)
		api.Post("/mode", r.Sessions.SwitchMode)
	}

	if r.Catalog != nil {
		api.Get("/products", r.Catalog.ListProducts)
		api.Get("/models/:model_id", r.Catalog.GetModel)
		api.Post("/error-code", r.Catalog.ExplainErrorCode)
	}

	if r.Room != nil {
		api.Post("/analyze-room", r.Room.AnalyzeRoom)
		api.Post("/assess-fit", r.Room.AssessFit)
		api.Post("/color-match", r.Room.ColorMatch)
	}

	if r.WebSocket != nil {
		api.Use("/ws", r.WebSocket.Upgrade)
		api.Get("/ws/chat", websocket.New(r.WebSocket.HandleConnection))
	}

	if r.Health != nil {
		api.Get("/health", r.Health.Health)
		api.Get("/ready", r.Health.Ready)
	}
}
