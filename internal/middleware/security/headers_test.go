package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"*", nil},
		{"", nil},
		{"https://shop.example.com", []string{"https://shop.example.com"}},
		{" https://a.example.com , https://b.example.com ,", []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseOrigins(tt.raw), tt.raw)
	}
}

func TestHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		cfg      HeadersConfig
		wantHSTS bool
	}{
		{"production", HeadersConfig{AllowedOrigins: []string{"https://shop.example.com"}}, true},
		{"development", HeadersConfig{IsDevelopment: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(HeadersMiddleware(tt.cfg))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)

			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
			assert.Equal(t, tt.wantHSTS, resp.Header.Get("Strict-Transport-Security") != "")
			for _, o := range tt.cfg.AllowedOrigins {
				assert.Contains(t, resp.Header.Get("Content-Security-Policy"), o)
			}
		})
	}
}

func TestCORSReflectsAllowedOrigin(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(HeadersConfig{AllowedOrigins: []string{"https://shop.example.com"}}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
