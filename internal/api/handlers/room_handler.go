package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/internal/vision"
	"github.com/product-agent/backend/pkg/apperror"
)

// RoomHandler serves the placement helpers used before purchase.
type RoomHandler struct {
	advisor       *vision.RoomAdvisor
	catalog       *catalog.Catalog
	maxImageBytes int
}

func NewRoomHandler(advisor *vision.RoomAdvisor, cat *catalog.Catalog, maxImageBytes int) *RoomHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &RoomHandler{advisor: advisor, catalog: cat, maxImageBytes: maxImageBytes}
}

func (h *RoomHandler) AnalyzeRoom(c *fiber.Ctx) error {
	const op = "handlers.AnalyzeRoom"

	fh, err := c.FormFile("image")
	if err != nil {
		return respondError(c, op, apperror.Invalid(op, "image is required"))
	}
	img, err := readImage(fh, h.maxImageBytes)
	if err != nil {
		return respondError(c, op, err)
	}

	analysis, err := h.advisor.AnalyzeRoom(c.UserContext(), img)
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(analysis)
}

type fitRequest struct {
	RoomAnalysis string `json:"room_analysis" validate:"required,max=20000"`
	ModelID      string `json:"model_id" validate:"required,max=128"`
}

func (h *RoomHandler) AssessFit(c *fiber.Ctx) error {
	const op = "handlers.AssessFit"

	var req fitRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, op, apperror.Invalid(op, "Invalid request body"))
	}
	if err := validation.Struct(op, req); err != nil {
		return respondError(c, op, err)
	}

	p, m, ok := h.catalog.GetModel(req.ModelID)
	if !ok {
		return respondError(c, op, catalog.ErrModelNotFound)
	}

	fit, err := h.advisor.AssessFit(c.UserContext(), req.RoomAnalysis, p, m)
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(fiber.Map{
		"model_id":          m.ModelID,
		"dimensions_cm":     m.DimensionsCM,
		"required_space_cm": fit.Required,
		"assessment":        fit.Assessment,
	})
}

type colorRequest struct {
	RoomAnalysis string `json:"room_analysis" validate:"required,max=20000"`
	ProductID    string `json:"product_id" validate:"required,max=128"`
}

func (h *RoomHandler) ColorMatch(c *fiber.Ctx) error {
	const op = "handlers.ColorMatch"

	var req colorRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, op, apperror.Invalid(op, "Invalid request body"))
	}
	if err := validation.Struct(op, req); err != nil {
		return respondError(c, op, err)
	}

	if _, ok := h.catalog.GetProduct(req.ProductID); !ok {
		return respondError(c, op, apperror.NotFound(op, "Product not found"))
	}
	variants := h.catalog.Variants(req.ProductID)
	if len(variants) == 0 {
		return respondError(c, op, apperror.Invalid(op, "Product has no colour variants"))
	}

	rec, err := h.advisor.RecommendColor(c.UserContext(), req.RoomAnalysis, variants)
	if err != nil {
		return respondError(c, op, err)
	}
	return c.JSON(rec)
}
