package listing

import (
	"github.com/gofiber/fiber/v3"

	"github.com/knigoswap/knigoswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ListingService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/listings")

	// Публичные маршруты
	api.Get("/", s.GetPublicListings)

	// Защищенные маршруты (требуют авторизации)
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(s.jwtService))

	protected.Post("/", s.CreateListing)
	protected.Get("/my", s.GetMyListings)
	protected.Get("/:id", s.GetListing)
	protected.Put("/:id", s.UpdateListing)
	protected.Delete("/:id", s.DeleteListing)
}
