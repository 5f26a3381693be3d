package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/knigoswap/knigoswap-api/internal/clock"
	"github.com/knigoswap/knigoswap-api/internal/config"
	"github.com/knigoswap/knigoswap-api/internal/coordinator"
	"github.com/knigoswap/knigoswap-api/internal/db"
	"github.com/knigoswap/knigoswap-api/internal/events"
	"github.com/knigoswap/knigoswap-api/internal/ledger"
	"github.com/knigoswap/knigoswap-api/internal/middleware"
	"github.com/knigoswap/knigoswap-api/internal/rating"
	"github.com/knigoswap/knigoswap-api/internal/services/auth"
	"github.com/knigoswap/knigoswap-api/internal/services/cloudinary"
	exchangesvc "github.com/knigoswap/knigoswap-api/internal/services/exchange"
	"github.com/knigoswap/knigoswap-api/internal/services/listing"
	ratingsvc "github.com/knigoswap/knigoswap-api/internal/services/rating"
	"github.com/knigoswap/knigoswap-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	// Подключаемся к Redis для рассылки событий обмена
	var dispatcher events.Dispatcher = events.Noop{}
	var redisClient *redis.Client
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		log.Printf("⚠️ Неверный REDIS_URL, события обмена отключены: %v", err)
	} else {
		redisClient = redis.NewClient(opt)
		dispatcher = events.NewRedisDispatcher(redisClient)
		defer redisClient.Close()
	}

	// Собираем доменный слой
	clk := clock.System()
	listingLedger := ledger.NewPostgres(db.Pool)
	exchangeStore := db.NewExchangeStore(db.Pool)
	ratingStore := db.NewRatingStore(db.Pool)
	statsRecorder := db.NewUserStatsRecorder(db.Pool)

	coord := coordinator.New(exchangeStore, listingLedger, dispatcher, clk)
	ratingGate := rating.NewGate(ratingStore, exchangeStore, statsRecorder, clk, cfg.RatingVisibilityDelay)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "KnigoSwap API (MVP)",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	authService := auth.NewAuthService(cfg)
	cloudinaryService := cloudinary.NewCloudinaryService(cfg)
	listingService := listing.NewListingService(cfg, cloudinaryService)
	exchangeService := exchangesvc.NewExchangeService(cfg, coord)
	ratingService := ratingsvc.NewRatingService(cfg, ratingGate, ratingStore)

	// Настраиваем middleware для аутентификации
	authMiddleware := middleware.AuthMiddleware(authService.GetJWTService())

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app, authMiddleware)
	listingService.SetupRoutes(app)
	exchangeService.SetupRoutes(app, authMiddleware)
	ratingService.SetupRoutes(app, authMiddleware)

	// Запускаем фоновые процессы: истечение объявлений и открытие оценок
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.RunExpireSweeper(ctx, cfg.SweepInterval)
	go ratingGate.RunVisibilitySweeper(ctx, cfg.SweepInterval)

	// WebSocket для уведомлений об обменах живет на отдельном порту:
	// gorilla/websocket требует net/http, а Fiber работает поверх fasthttp
	wsManager := websocket.NewManager()
	defer wsManager.Shutdown()
	if redisClient != nil {
		go events.Subscribe(ctx, redisClient, wsManager.DispatchExchangeEvent)
	}
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", websocket.Handler(wsManager, authService.GetJWTService()))
		log.Println("✅ WebSocket сервер запущен на порту 8081")
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.Printf("❌ Ошибка WebSocket сервера: %v", err)
		}
	}()

	// Запускаем сервер
	log.Println("✅ KnigoSwap API запущен на порту 8080")
	log.Fatal(app.Listen(":8080"))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
