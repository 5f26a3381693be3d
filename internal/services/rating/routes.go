package rating

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для работы с оценками
func (s *RatingService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	app.Post("/api/exchanges/:id/ratings", authMiddleware, s.SubmitRating)
	app.Get("/api/users/:id/ratings", s.GetUserRatings)
}
