package exchange

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/config"
	"github.com/knigoswap/knigoswap-api/internal/coordinator"
	"github.com/knigoswap/knigoswap-api/internal/db"
	exchcore "github.com/knigoswap/knigoswap-api/internal/exchange"
	"github.com/knigoswap/knigoswap-api/internal/models"
	"github.com/knigoswap/knigoswap-api/internal/utils"
)

// ExchangeService представляет сервис для работы с обменами
type ExchangeService struct {
	cfg         *config.Config
	jwtService  *utils.JWTService
	coordinator *coordinator.Coordinator
}

// NewExchangeService создает новый экземпляр ExchangeService
func NewExchangeService(cfg *config.Config, coord *coordinator.Coordinator) *ExchangeService {
	return &ExchangeService{
		cfg:         cfg,
		jwtService:  utils.NewJWTService(cfg.JWTSecret),
		coordinator: coord,
	}
}

// respondError отображает доменную ошибку в HTTP-ответ
func respondError(c fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("Внутренняя ошибка обмена: %v", err)
		return c.Status(status).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
	}

	body := fiber.Map{"error": err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind == apperr.KindInvalidTransition {
		// Отдаем текущий статус и действие, чтобы клиент обновил свое
		// представление
		body["status"] = e.Status
		body["action"] = e.Action
	}
	return c.Status(status).JSON(body)
}

// CreateExchange создает новый запрос на обмен
func (s *ExchangeService) CreateExchange(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	requesterID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		ListingID        string `json:"listing_id"`
		OfferedListingID string `json:"offered_listing_id"`
		Message          string `json:"message"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.ListingID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Необходимо указать ID объявления"})
	}

	listingID, err := uuid.Parse(requestData.ListingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	var offeredListingID *uuid.UUID
	if requestData.OfferedListingID != "" {
		id, err := uuid.Parse(requestData.OfferedListingID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID предлагаемого объявления"})
		}
		offeredListingID = &id
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	ex, err := s.coordinator.Create(ctx, coordinator.CreateInput{
		RequesterID:      requesterID,
		ListingID:        listingID,
		OfferedListingID: offeredListingID,
		Message:          requestData.Message,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"exchange_id": ex.ID,
		"message":     "Запрос на обмен успешно создан",
	})
}

// GetMyExchanges возвращает список входящих и исходящих обменов
func (s *ExchangeService) GetMyExchanges(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Тип обменов (входящие/исходящие/все) и фильтр по статусу
	exchangeType := c.Query("type", "all") // all, incoming, outgoing
	status := c.Query("status", "all")

	ctx, cancel := db.GetContext()
	defer cancel()

	query := `
		SELECT id, requester_id, owner_id, listing_id, offered_listing_id,
		       status, message, response,
		       requester_confirmed_meetup, owner_confirmed_meetup,
		       requester_confirmed_completion, owner_confirmed_completion,
		       meetup_latitude, meetup_longitude, meetup_address, meetup_scheduled_at,
		       version, created_at, updated_at, completed_at
		FROM exchanges
		WHERE `
	var args []interface{}

	switch exchangeType {
	case "incoming":
		query += `owner_id = $1`
		args = append(args, userUUID)
	case "outgoing":
		query += `requester_id = $1`
		args = append(args, userUUID)
	default:
		query += `(requester_id = $1 OR owner_id = $1)`
		args = append(args, userUUID)
	}

	if status != "all" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		log.Printf("Ошибка запроса обменов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения обменов"})
	}
	defer rows.Close()

	var exchanges []models.Exchange
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(
			&ex.ID, &ex.RequesterID, &ex.OwnerID, &ex.ListingID, &ex.OfferedListingID,
			&ex.Status, &ex.Message, &ex.Response,
			&ex.RequesterConfirmedMeetup, &ex.OwnerConfirmedMeetup,
			&ex.RequesterConfirmedCompletion, &ex.OwnerConfirmedCompletion,
			&ex.MeetupLatitude, &ex.MeetupLongitude, &ex.MeetupAddress, &ex.MeetupScheduledAt,
			&ex.Version, &ex.CreatedAt, &ex.UpdatedAt, &ex.CompletedAt,
		); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}

		// Загружаем дополнительную информацию об объявлениях и пользователях
		ex.Listing = s.getListingInfo(ctx, ex.ListingID)
		if ex.OfferedListingID != nil {
			ex.OfferedListing = s.getListingInfo(ctx, *ex.OfferedListingID)
		}
		ex.Requester = s.getUserInfo(ctx, ex.RequesterID)
		ex.Owner = s.getUserInfo(ctx, ex.OwnerID)

		exchanges = append(exchanges, ex)
	}

	return c.JSON(fiber.Map{
		"exchanges": exchanges,
		"count":     len(exchanges),
	})
}

// GetExchange возвращает обмен с доступными вызывающему действиями
func (s *ExchangeService) GetExchange(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	exchangeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	store := db.NewExchangeStore(db.Pool)
	ex, err := store.Find(ctx, exchangeID)
	if err != nil {
		return respondError(c, err)
	}

	if !ex.IsParticipant(userUUID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не являетесь участником этого обмена"})
	}

	ex.Listing = s.getListingInfo(ctx, ex.ListingID)
	if ex.OfferedListingID != nil {
		ex.OfferedListing = s.getListingInfo(ctx, *ex.OfferedListingID)
	}
	ex.Requester = s.getUserInfo(ctx, ex.RequesterID)
	ex.Owner = s.getUserInfo(ctx, ex.OwnerID)

	return c.JSON(fiber.Map{
		"exchange":          ex,
		"available_actions": exchcore.AvailableActions(ex, userUUID),
	})
}

// transitionHandler строит обработчик для действия над обменом
func (s *ExchangeService) transitionHandler(do func(ctx context.Context, exchangeID, actorID uuid.UUID, response string) (*models.Exchange, error), successMessage string) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := c.Locals("userID").(string)

		actorID, err := uuid.Parse(userID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
		}

		exchangeID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
		}

		// Необязательный ответ владельца (для принятия/отклонения)
		var requestData struct {
			Response string `json:"response"`
		}
		_ = c.Bind().Body(&requestData)

		ctx, cancel := db.GetContext()
		defer cancel()

		ex, err := do(ctx, exchangeID, actorID, requestData.Response)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(fiber.Map{
			"success":     true,
			"message":     successMessage,
			"exchange_id": ex.ID,
			"status":      ex.Status,
		})
	}
}

// SetMeetup сохраняет данные о встрече
func (s *ExchangeService) SetMeetup(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	exchangeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID обмена"})
	}

	var requestData struct {
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Address     string   `json:"address"`
		ScheduledAt string   `json:"scheduled_at"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	var scheduledAt *time.Time
	if requestData.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, requestData.ScheduledAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат времени встречи"})
		}
		scheduledAt = &t
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	ex, err := s.coordinator.SetMeetup(ctx, exchangeID, actorID, coordinator.MeetupInput{
		Latitude:    requestData.Latitude,
		Longitude:   requestData.Longitude,
		Address:     requestData.Address,
		ScheduledAt: scheduledAt,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Данные о встрече сохранены",
		"exchange_id": ex.ID,
	})
}

// getListingInfo получает информацию об объявлении
func (s *ExchangeService) getListingInfo(ctx context.Context, listingID uuid.UUID) *models.Listing {
	var listing models.Listing

	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, title, author, description, genres, condition, listing_type, city,
		       status, interest_count, expires_at, created_at, updated_at
		FROM listings
		WHERE id = $1
	`, listingID).Scan(
		&listing.ID, &listing.UserID, &listing.Title, &listing.Author, &listing.Description,
		&listing.Genres, &listing.Condition, &listing.ListingType, &listing.City,
		&listing.Status, &listing.InterestCount, &listing.ExpiresAt,
		&listing.CreatedAt, &listing.UpdatedAt,
	)

	if err != nil {
		log.Printf("Ошибка получения объявления %s: %v", listingID, err)
		return nil
	}

	// Получаем изображения объявления
	rows, err := db.Pool.Query(ctx, `
		SELECT id, url, preview_url, is_main
		FROM listing_images
		WHERE listing_id = $1
		ORDER BY position ASC
	`, listingID)

	if err != nil {
		log.Printf("Ошибка получения изображений: %v", err)
	} else {
		defer rows.Close()

		var images []models.ListingImage
		for rows.Next() {
			var image models.ListingImage
			if err := rows.Scan(&image.ID, &image.URL, &image.PreviewURL, &image.IsMain); err != nil {
				log.Printf("Ошибка сканирования изображения: %v", err)
				continue
			}
			image.ListingID = listingID
			images = append(images, image)
		}
		listing.Images = images
	}

	return &listing
}

// getUserInfo получает информацию о пользователе
func (s *ExchangeService) getUserInfo(ctx context.Context, userID uuid.UUID) *models.User {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, avatar_url, rating_average, rating_count
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.LastName,
		&user.AvatarURL, &user.RatingAverage, &user.RatingCount,
	)

	if err != nil {
		log.Printf("Ошибка получения пользователя %s: %v", userID, err)
		return nil
	}

	return &user
}
