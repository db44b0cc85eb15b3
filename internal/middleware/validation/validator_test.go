package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-agent/backend/pkg/apperror"
)

type modeRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Mode      string `json:"mode" validate:"required,oneof=PRE_PURCHASE POST_PURCHASE"`
	Note      string `json:"note" validate:"max=5"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name string
		req  modeRequest
		want string
	}{
		{"valid", modeRequest{SessionID: "s1", Mode: "PRE_PURCHASE"}, ""},
		{"missing session", modeRequest{Mode: "PRE_PURCHASE"}, "session_id is required"},
		{"bad mode", modeRequest{SessionID: "s1", Mode: "DURING"}, "mode must be one of: PRE_PURCHASE POST_PURCHASE"},
		{"too long", modeRequest{SessionID: "s1", Mode: "PRE_PURCHASE", Note: "abcdefg"}, "note must be at most 5 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct("test", tt.req)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperror.IsCode(err, apperror.CodeInvalidArgument))
			assert.Equal(t, tt.want, apperror.PublicMessage(err))
		})
	}
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{MaxMessageLength: 20}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/api/v1/products", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"plain get", "GET", "/api/v1/products", "", "", fiber.StatusOK},
		{"form chat", "POST", "/api/v1/chat", "application/x-www-form-urlencoded", "message=hello", fiber.StatusOK},
		{"too long", "POST", "/api/v1/chat", "application/x-www-form-urlencoded", "message=" + strings.Repeat("a", 21), fiber.StatusBadRequest},
		{"script tag", "POST", "/api/v1/chat", "application/x-www-form-urlencoded", "message=%3Cscript%3E", fiber.StatusBadRequest},
		{"xml body", "POST", "/api/v1/chat", "application/xml", "<a/>", fiber.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("  hel\x00lo \n"))
}
