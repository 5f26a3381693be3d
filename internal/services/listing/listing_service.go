package listing

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knigoswap/knigoswap-api/internal/config"
	"github.com/knigoswap/knigoswap-api/internal/db"
	"github.com/knigoswap/knigoswap-api/internal/models"
	"github.com/knigoswap/knigoswap-api/internal/services/cloudinary"
	"github.com/knigoswap/knigoswap-api/internal/utils"
)

// RequestImage представляет структуру изображения в запросе создания объявления
type RequestImage struct {
	URL                string          `json:"url"`
	PublicID           string          `json:"public_id"`
	FileName           string          `json:"file_name"`
	IsMain             bool            `json:"is_main"`
	CloudinaryResponse json.RawMessage `json:"cloudinary_response,omitempty"`
}

// ListingService представляет сервис для работы с объявлениями о книгах
type ListingService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	cloudinary *cloudinary.CloudinaryService
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(cfg *config.Config, cloudinaryService *cloudinary.CloudinaryService) *ListingService {
	return &ListingService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		cloudinary: cloudinaryService,
	}
}

var validConditions = map[string]bool{
	"new": true, "excellent": true, "good": true,
	"used": true, "worn": true, "damaged": true,
}

var validListingTypes = map[string]bool{
	models.ListingTypeExchange: true,
	models.ListingTypeDonation: true,
	models.ListingTypeLending:  true,
}

// CreateListing обрабатывает создание нового объявления о книге
func (s *ListingService) CreateListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	// Преобразуем userID в UUID
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Извлекаем данные из запроса
	var requestData struct {
		Title       string         `json:"title"`
		Author      string         `json:"author"`
		Description string         `json:"description"`
		Genres      []string       `json:"genres"`
		Condition   string         `json:"condition"`
		ListingType string         `json:"listing_type"`
		City        string         `json:"city"`
		Status      string         `json:"status"`
		Images      []RequestImage `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название книги обязательно"})
	}

	// Проверка, что хотя бы один жанр добавлен для публикуемых объявлений
	if requestData.Status == models.ListingStatusAvailable && len(requestData.Genres) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Выберите хотя бы один жанр"})
	}

	// Проверка, что хотя бы одно изображение добавлено для публикуемых объявлений
	if requestData.Status == models.ListingStatusAvailable && len(requestData.Images) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Добавьте хотя бы одно изображение"})
	}

	// Проверка валидности status: напрямую можно создать только черновик
	// или опубликованное объявление
	if requestData.Status != models.ListingStatusAvailable && requestData.Status != models.ListingStatusDraft {
		requestData.Status = models.ListingStatusDraft // По умолчанию - черновик
	}

	if !validConditions[requestData.Condition] {
		requestData.Condition = "good" // По умолчанию - хорошее состояние
	}

	if !validListingTypes[requestData.ListingType] {
		requestData.ListingType = models.ListingTypeExchange
	}

	// Создаем ID для нового объявления
	listingID := uuid.New()
	expiresAt := time.Now().Add(s.cfg.ListingTTL)

	// Начинаем транзакцию
	ctx, cancel := db.GetContext()
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	// Вставляем объявление
	_, err = tx.Exec(ctx, `
		INSERT INTO listings (id, user_id, title, author, description, genres, condition, listing_type, city, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, listingID, userUUID, requestData.Title, requestData.Author, requestData.Description,
		requestData.Genres, requestData.Condition, requestData.ListingType, requestData.City,
		requestData.Status, expiresAt)

	if err != nil {
		log.Printf("Ошибка вставки объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения объявления"})
	}

	// Вставляем изображения, если они есть
	for i, img := range requestData.Images {
		isMain := i == 0 // Первое изображение - основное

		var cloudinaryResp models.CloudinaryResponse
		var metadata []byte
		var previewURL string

		// Обрабатываем данные из Cloudinary
		if len(img.CloudinaryResponse) > 0 {
			if err := json.Unmarshal(img.CloudinaryResponse, &cloudinaryResp); err != nil {
				log.Printf("Ошибка парсинга ответа Cloudinary: %v", err)
			} else {
				previewURL = models.ExtractPreviewURL(cloudinaryResp)
				metadataObj := models.ExtractMetadata(cloudinaryResp)
				metadata, _ = json.Marshal(metadataObj)
			}
		}

		// Вставляем информацию об изображении
		_, err = tx.Exec(ctx, `
			INSERT INTO listing_images (listing_id, url, preview_url, public_id, file_name, is_main, position, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, listingID, img.URL, previewURL, img.PublicID, img.FileName, isMain, i, metadata)

		if err != nil {
			log.Printf("Ошибка вставки изображения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения изображений"})
		}
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"listing_id": listingID,
		"message":    "Объявление успешно создано",
	})
}

// GetPublicListings возвращает доступные объявления для каталога
func (s *ListingService) GetPublicListings(c fiber.Ctx) error {
	genre := c.Query("genre")
	city := c.Query("city")
	listingType := c.Query("type")
	limit := 20
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	ctx, cancel := db.GetContext()
	defer cancel()

	// Показываем только доступные объявления; фильтры добавляются по мере
	// заполнения
	query := `
		SELECT id, user_id, title, author, description, genres, condition, listing_type, city,
		       status, interest_count, expires_at, created_at, updated_at
		FROM listings
		WHERE status = $1`
	args := []interface{}{models.ListingStatusAvailable}

	if genre != "" {
		args = append(args, genre)
		query += ` AND $` + strconv.Itoa(len(args)) + ` = ANY(genres)`
	}
	if city != "" {
		args = append(args, city)
		query += ` AND city = $` + strconv.Itoa(len(args))
	}
	if listingType != "" {
		args = append(args, listingType)
		query += ` AND listing_type = $` + strconv.Itoa(len(args))
	}

	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		log.Printf("Ошибка запроса каталога объявлений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявлений"})
	}
	defer rows.Close()

	listings := s.scanListings(ctx, rows)

	return c.JSON(fiber.Map{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetMyListings возвращает список объявлений текущего пользователя
func (s *ListingService) GetMyListings(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Параметры фильтрации и пагинации
	status := c.Query("status", "all")
	limit := 20
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	ctx, cancel := db.GetContext()
	defer cancel()

	var rows pgx.Rows
	var queryErr error

	if status == "all" {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT id, user_id, title, author, description, genres, condition, listing_type, city,
			       status, interest_count, expires_at, created_at, updated_at
			FROM listings
			WHERE user_id = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, userUUID, limit, offset)
	} else {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT id, user_id, title, author, description, genres, condition, listing_type, city,
			       status, interest_count, expires_at, created_at, updated_at
			FROM listings
			WHERE user_id = $1 AND status = $2
			ORDER BY updated_at DESC
			LIMIT $3 OFFSET $4
		`, userUUID, status, limit, offset)
	}

	if queryErr != nil {
		log.Printf("Ошибка запроса объявлений: %v", queryErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявлений"})
	}
	defer rows.Close()

	listings := s.scanListings(ctx, rows)

	// Получаем общее количество объявлений для пагинации
	var total int
	var countErr error

	if status == "all" {
		countErr = db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM listings WHERE user_id = $1
		`, userUUID).Scan(&total)
	} else {
		countErr = db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM listings WHERE user_id = $1 AND status = $2
		`, userUUID, status).Scan(&total)
	}

	if countErr != nil {
		log.Printf("Ошибка подсчета объявлений: %v", countErr)
		total = len(listings)
	}

	return c.JSON(fiber.Map{
		"listings": listings,
		"count":    len(listings),
		"total":    total,
	})
}

// GetListing возвращает объявление по ID
func (s *ListingService) GetListing(c fiber.Ctx) error {
	listingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var listing models.Listing
	err = db.Pool.QueryRow(ctx, `
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
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
	}

	listing.Images = s.loadImages(ctx, listing.ID)

	return c.JSON(fiber.Map{"listing": listing})
}

// UpdateListing обновляет объявление. Разрешено только владельцу и только
// пока объявление не забронировано и не обменяно.
func (s *ListingService) UpdateListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	var requestData struct {
		Title       string   `json:"title"`
		Author      string   `json:"author"`
		Description string   `json:"description"`
		Genres      []string `json:"genres"`
		Condition   string   `json:"condition"`
		ListingType string   `json:"listing_type"`
		City        string   `json:"city"`
		Status      string   `json:"status"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название книги обязательно"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	// Проверяем владельца и текущий статус
	var ownerID uuid.UUID
	var currentStatus string
	err = db.Pool.QueryRow(ctx, `
		SELECT user_id, status FROM listings WHERE id = $1
	`, listingID).Scan(&ownerID, &currentStatus)

	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
	}

	if ownerID != userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не можете редактировать чужое объявление"})
	}

	// Забронированные и обменянные объявления редактировать нельзя: их
	// статусом управляет координатор обменов
	if currentStatus != models.ListingStatusDraft && currentStatus != models.ListingStatusAvailable &&
		currentStatus != models.ListingStatusExpired {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Объявление участвует в обмене и не может быть изменено"})
	}

	// Из статусов draft/available/expired владелец может перевести
	// объявление только в draft или available
	newStatus := currentStatus
	if requestData.Status == models.ListingStatusDraft || requestData.Status == models.ListingStatusAvailable {
		newStatus = requestData.Status
	}

	if !validConditions[requestData.Condition] {
		requestData.Condition = "good"
	}
	if !validListingTypes[requestData.ListingType] {
		requestData.ListingType = models.ListingTypeExchange
	}

	// Повторная публикация продлевает срок действия
	if newStatus == models.ListingStatusAvailable && currentStatus != models.ListingStatusAvailable {
		_, err = db.Pool.Exec(ctx, `
			UPDATE listings SET expires_at = $2 WHERE id = $1
		`, listingID, time.Now().Add(s.cfg.ListingTTL))
		if err != nil {
			log.Printf("Ошибка продления срока объявления: %v", err)
		}
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE listings
		SET title = $2, author = $3, description = $4, genres = $5, condition = $6,
		    listing_type = $7, city = $8, status = $9, updated_at = NOW()
		WHERE id = $1
	`, listingID, requestData.Title, requestData.Author, requestData.Description,
		requestData.Genres, requestData.Condition, requestData.ListingType,
		requestData.City, newStatus)

	if err != nil {
		log.Printf("Ошибка обновления объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"listing_id": listingID,
		"message":    "Объявление успешно обновлено",
	})
}

// DeleteListing снимает объявление с публикации (переводит в cancelled)
// и удаляет его изображения из Cloudinary
func (s *ListingService) DeleteListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	// Снять можно только объявление, не участвующее в принятом обмене
	tag, err := db.Pool.Exec(ctx, `
		UPDATE listings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ($4, $5, $6)
	`, listingID, userUUID, models.ListingStatusCancelled,
		models.ListingStatusDraft, models.ListingStatusAvailable, models.ListingStatusExpired)

	if err != nil {
		log.Printf("Ошибка снятия объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка удаления объявления"})
	}

	if tag.RowsAffected() == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Объявление не найдено, принадлежит другому пользователю или участвует в обмене",
		})
	}

	// Удаляем изображения из Cloudinary (best-effort)
	imgRows, err := db.Pool.Query(ctx, `
		SELECT public_id FROM listing_images WHERE listing_id = $1
	`, listingID)
	if err == nil {
		defer imgRows.Close()
		for imgRows.Next() {
			var publicID string
			if err := imgRows.Scan(&publicID); err != nil {
				continue
			}
			s.cloudinary.DeleteImage(ctx, publicID)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Объявление снято с публикации",
	})
}

// scanListings обрабатывает строки выборки объявлений и подгружает изображения
func (s *ListingService) scanListings(ctx context.Context, rows pgx.Rows) []models.Listing {
	var listings []models.Listing
	for rows.Next() {
		var listing models.Listing
		if err := rows.Scan(
			&listing.ID, &listing.UserID, &listing.Title, &listing.Author, &listing.Description,
			&listing.Genres, &listing.Condition, &listing.ListingType, &listing.City,
			&listing.Status, &listing.InterestCount, &listing.ExpiresAt,
			&listing.CreatedAt, &listing.UpdatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}

		listing.Images = s.loadImages(ctx, listing.ID)
		listings = append(listings, listing)
	}
	return listings
}

// loadImages возвращает изображения объявления
func (s *ListingService) loadImages(ctx context.Context, listingID uuid.UUID) []models.ListingImage {
	imgRows, err := db.Pool.Query(ctx, `
		SELECT id, listing_id, url, preview_url, public_id, file_name, is_main, position, metadata, created_at
		FROM listing_images
		WHERE listing_id = $1
		ORDER BY position ASC
	`, listingID)

	if err != nil {
		log.Printf("Ошибка запроса изображений: %v", err)
		return nil
	}
	defer imgRows.Close()

	var images []models.ListingImage
	for imgRows.Next() {
		var img models.ListingImage
		var metadataBytes []byte

		if err := imgRows.Scan(
			&img.ID, &img.ListingID, &img.URL, &img.PreviewURL, &img.PublicID,
			&img.FileName, &img.IsMain, &img.Position, &metadataBytes, &img.CreatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования изображения: %v", err)
			continue
		}

		if metadataBytes != nil {
			if err := json.Unmarshal(metadataBytes, &img.Metadata); err != nil {
				log.Printf("Ошибка разбора метаданных: %v", err)
			}
		}

		images = append(images, img)
	}
	return images
}
