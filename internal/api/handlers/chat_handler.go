package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/agent"
	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/internal/middleware/validation"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/apperror"
	"github.com/product-agent/backend/pkg/logger"
)

const (
	DefaultMaxImages     = 3
	DefaultMaxImageBytes = 8 << 20
)

type ChatHandler struct {
	engine        *agent.Engine
	maxImages     int
	maxImageBytes int
}

func NewChatHandler(engine *agent.Engine, maxImages, maxImageBytes int) *ChatHandler {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &ChatHandler{
		engine:        engine,
		maxImages:     maxImages,
		maxImageBytes: maxImageBytes,
	}
}

type chatForm struct {
	Message   string `json:"message" form:"message" validate:"max=5000"`
	ModelID   string `json:"model_id" form:"model_id" validate:"max=128"`
	Mode      string `json:"mode" form:"mode" validate:"omitempty,oneof=PRE_PURCHASE POST_PURCHASE pre_purchase post_purchase"`
	SessionID string `json:"session_id" form:"session_id" validate:"max=128"`
	UserID    string `json:"user_id" form:"user_id" validate:"max=128"`
	Language  string `json:"language" form:"language" validate:"omitempty,oneof=en hi"`
}

func (f chatForm) request(images []llm.Image) agent.ChatRequest {
	mode, _ := models.ParseMode(f.Mode)
	return agent.ChatRequest{
		SessionID: strings.TrimSpace(f.SessionID),
		UserID:    strings.TrimSpace(f.UserID),
		ModelID:   strings.TrimSpace(f.ModelID),
		Mode:      mode,
		Message:   validation.Sanitize(f.Message),
		Images:    images,
		Language:  f.Language,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	const op = "handlers.HandleChat"

	var form chatForm
	if err := c.BodyParser(&form); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return respondError(c, op, apperror.Invalid(op, "Invalid request body"))
	}
	if err := validation.Struct(op, form); err != nil {
		return respondError(c, op, err)
	}

	images, err := h.readImages(c)
	if err != nil {
		return respondError(c, op, err)
	}
	if strings.TrimSpace(form.Message) == "" && len(images) == 0 {
		return respondError(c, op, apperror.Invalid(op, "message or images is required"))
	}

	resp, err := h.engine.Chat(c.UserContext(), form.request(images))
	if errors.Is(err, agent.ErrGenerationFailed) && resp != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	if err != nil {
		return respondError(c, op, err)
	}

	return c.JSON(resp)
}

// readImages loads the "images" parts of a multipart request.
func (h *ChatHandler) readImages(c *fiber.Ctx) ([]llm.Image, error) {
	const op = "handlers.readImages"

	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperror.Invalid(op, "Invalid multipart form")
	}

	files := form.File["images"]
	if len(files) > h.maxImages {
		return nil, apperror.Invalid(op, fmt.Sprintf("At most %d images are allowed", h.maxImages))
	}

	images := make([]llm.Image, 0, len(files))
	for _, fh := range files {
		img, err := readImage(fh, h.maxImageBytes)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readImage(fh *multipart.FileHeader, maxBytes int) (llm.Image, error) {
	const op = "handlers.readImage"

	if fh.Size > int64(maxBytes) {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("Image %s exceeds %d bytes", fh.Filename, maxBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("Unreadable image %s", fh.Filename))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("Unreadable image %s", fh.Filename))
	}
	if len(data) > maxBytes {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("Image %s exceeds %d bytes", fh.Filename, maxBytes))
	}
	if len(data) == 0 {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("Image %s is empty", fh.Filename))
	}

	mime := fh.Header.Get(fiber.HeaderContentType)
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return llm.Image{}, apperror.Invalid(op, fmt.Sprintf("File %s is not an image", fh.Filename))
	}

	return llm.Image{Data: data, MIMEType: mime}, nil
}
