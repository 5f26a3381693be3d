package rating

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/config"
	"github.com/knigoswap/knigoswap-api/internal/db"
	"github.com/knigoswap/knigoswap-api/internal/rating"
)

// RatingService представляет сервис для работы с оценками обменов
type RatingService struct {
	cfg   *config.Config
	gate  *rating.Gate
	store *db.RatingStore
}

// NewRatingService создает новый экземпляр RatingService
func NewRatingService(cfg *config.Config, gate *rating.Gate, store *db.RatingStore) *RatingService {
	return &RatingService{
		cfg:   cfg,
		gate:  gate,
		store: store,
	}
}

// SubmitRating принимает оценку завершенного обмена
func (s *RatingService) SubmitRating(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	raterID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	exchangeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	var requestData struct {
		Value  int    `json:"value"`
		Review string `json:"review"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	r, err := s.gate.Submit(ctx, exchangeID, raterID, requestData.Value, requestData.Review)
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status == fiber.StatusInternalServerError {
			log.Printf("Ошибка сохранения оценки: %v", err)
			return c.Status(status).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"rating_id":  r.ID,
		"is_visible": r.IsVisible,
		"message":    "Оценка сохранена",
	})
}

// GetUserRatings возвращает видимые оценки пользователя
func (s *RatingService) GetUserRatings(c fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	ratings, err := s.store.VisibleForUser(ctx, userID, limit, offset)
	if err != nil {
		log.Printf("Ошибка получения оценок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения оценок"})
	}

	return c.JSON(fiber.Map{
		"ratings": ratings,
		"count":   len(ratings),
	})
}
