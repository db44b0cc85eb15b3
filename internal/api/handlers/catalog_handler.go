package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/pkg/apperror"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
	engine  *agent.Engine
}

func NewCatalogHandler(cat *catalog.Catalog, engine *agent.Engine) *CatalogHandler {
	return &CatalogHandler{catalog: cat, engine: engine}
}

type productSummary struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Brand     string   `json:"brand"`
	Category  string   `json:"category"`
	ModelIDs  []string `json:"model_ids"`
}

// ListProducts returns every product grouped by category. The optional
// category query narrows the listing.
func (h *CatalogHandler) ListProducts(c *fiber.Ctx) error {
	categories := h.catalog.Categories()
	if only := c.Query("category"); only != "" {
		categories = []string{only}
	}

	out := make(map[string][]productSummary, len(categories))
	for _, category := range categories {
		products := h.catalog.ProductsIn(category)
		summaries := make([]productSummary, 0, len(products))
		for _, p := range products {
			s := productSummary{
				ProductID: p.ProductID,
				Name:      p.Name,
				Brand:     p.Brand,
				Category:  p.Category,
			}
			for _, m := range p.Models {
				s.ModelIDs = append(s.ModelIDs, m.ModelID)
			}
			summaries = append(summaries, s)
		}
		out[category] = summaries
	}

	return c.JSON(fiber.Map{"products": out})
}

func (h *CatalogHandler) GetModel(c *fiber.Ctx) error {
	const op = "handlers.GetModel"

	p, m, ok := h.catalog.GetModel(c.Params("model_id"))
	if !ok {
		return respondError(c, op, catalog.ErrModelNotFound)
	}
	return c.JSON(fiber.Map{
		"product_id": p.ProductID,
		"name":       p.Name,
		"brand":      p.Brand,
		"category":   p.Category,
		"model":      m,
		"variants":   h.catalog.Siblings(m.ModelID),
	})
}

type errorCodeRequest struct {
	SessionID string `json:"session_id" validate:"max=128"`
	UserID    string `json:"user_id" validate:"max=128"`
	ModelID   string `json:"model_id" validate:"required,max=128"`
	ErrorCode string `json:"error_code" validate:"required,max=32"`
	Language  string `json:"language" validate:"omitempty,oneof=en hi"`
}

func (h *CatalogHandler) ExplainErrorCode(c *fiber.Ctx) error {
	const op = "handlers.ExplainErrorCode"

	var req errorCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, op, apperror.Invalid(op, "Invalid request body"))
	}
	if err := validation.Struct(op, req); err != nil {
		return respondError(c, op, err)
	}

	resp, err := h.engine.ExplainErrorCode(c.UserContext(), agent.ErrorCodeRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ModelID:   req.ModelID,
		Code:      strings.TrimSpace(req.ErrorCode),
		Language:  req.Language,
	})
	if resp != nil && err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(resp)
}
