package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/conversation"
	"github.com/product-agent/backend/internal/vision"
	"github.com/product-agent/backend/pkg/apperror"
	"github.com/product-agent/backend/pkg/logger"
)

// classify turns package sentinels into AppErrors so the status mapping
// lives in one place.
func classify(op string, err error) error {
	var ae *apperror.AppError
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, conversation.ErrSessionNotFound):
		return apperror.NotFound(op, "Session not found")
	case errors.Is(err, agent.ErrCatalogMiss), errors.Is(err, catalog.ErrModelNotFound):
		return apperror.NotFound(op, "Model not found")
	case errors.Is(err, vision.ErrUnrelatedImage):
		return apperror.Invalid(op, "The image doesn't appear to show a room or this product")
	case errors.Is(err, agent.ErrGenerationFailed):
		return apperror.E(apperror.CodeUnavailable, op, agent.Apology, err)
	default:
		return apperror.E(apperror.CodeInternal, op, "", err)
	}
}

func respondError(c *fiber.Ctx, op string, err error) error {
	err = classify(op, err)
	status := apperror.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": apperror.PublicMessage(err),
	})
}
