package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knigoswap/knigoswap-api/internal/config"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	s := NewAuthService(&config.Config{
		TelegramBotToken: "test-bot-token",
		JWTSecret:        "test-secret",
	})
	s.SetupRoutes(app)
	return app
}

func TestPublicRoutesStayPublic(t *testing.T) {
	// Публичные маршруты регистрируются после маршрутов авторизации и
	// должны отвечать анонимным запросам
	app := newTestApp(t)
	app.Get("/api/listings", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"listings": []string{}})
	})
	app.Get("/api/users/:id/ratings", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"ratings": []string{}})
	})

	for _, path := range []string{"/api/listings", "/api/users/42/ratings"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err, path)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}
}

func TestProfileRequiresToken(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/profile", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
