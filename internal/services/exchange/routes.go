package exchange

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/models"
)

// SetupRoutes настраивает маршруты для работы с обменами
func (s *ExchangeService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	exchangeGroup := app.Group("/api/exchanges")
	exchangeGroup.Use(authMiddleware)

	exchangeGroup.Post("/", s.CreateExchange)
	exchangeGroup.Get("/", s.GetMyExchanges)
	exchangeGroup.Get("/:id", s.GetExchange)

	exchangeGroup.Post("/:id/accept", s.transitionHandler(s.coordinator.Accept, "Обмен принят"))
	exchangeGroup.Post("/:id/decline", s.transitionHandler(s.coordinator.Decline, "Обмен отклонен"))
	exchangeGroup.Post("/:id/cancel", s.transitionHandler(s.withoutResponse(s.coordinator.Cancel), "Обмен отменен"))
	exchangeGroup.Post("/:id/confirm-meetup", s.transitionHandler(s.withoutResponse(s.coordinator.ConfirmMeetup), "Встреча подтверждена"))
	exchangeGroup.Post("/:id/confirm-completion", s.transitionHandler(s.withoutResponse(s.coordinator.ConfirmCompletion), "Завершение подтверждено"))
	exchangeGroup.Put("/:id/meetup", s.SetMeetup)
}

// withoutResponse адаптирует действия, которым не нужен текстовый ответ
func (s *ExchangeService) withoutResponse(do func(ctx context.Context, exchangeID, actorID uuid.UUID) (*models.Exchange, error)) func(context.Context, uuid.UUID, uuid.UUID, string) (*models.Exchange, error) {
	return func(ctx context.Context, exchangeID, actorID uuid.UUID, _ string) (*models.Exchange, error) {
		return do(ctx, exchangeID, actorID)
	}
}
