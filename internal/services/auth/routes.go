package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/knigoswap/knigoswap-api/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Проверка JWT вешается только на профиль: под /api живут и
	// публичные маршруты (каталог объявлений, оценки пользователей)
	app.Get("/api/profile", s.ProfileHandler, middleware.AuthMiddleware(s.jwtService))
}
