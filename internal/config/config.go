package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	RedisURL         string
	CloudinaryConfig CloudinaryConfig
	AppEnv           string

	// Размеры пула соединений с базой данных
	DBMaxConns int
	DBMinConns int

	// ListingTTL — срок жизни объявления до автоматического истечения
	ListingTTL time.Duration
	// RatingVisibilityDelay — окно, после которого скрытая оценка
	// становится видимой без встречной
	RatingVisibilityDelay time.Duration
	// SweepInterval — период фоновых проходов (истечение объявлений,
	// открытие оценок)
	SweepInterval time.Duration
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("PGUSER", "knigoswap_user"),
		getEnv("PGPASSWORD", "knigoswap_pass"),
		getEnv("PGHOST", "localhost"),
		getEnv("PGPORT", "5432"),
		getEnv("PGDATABASE", "knigoswap"),
		getEnv("PGSSLMODE", "disable"))

	cloudinaryConfig := CloudinaryConfig{
		CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
		APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
		APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
		UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "knigoswap_mvp"),
	}

	cfg := &Config{
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		DatabaseURL:           dbURL,
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CloudinaryConfig:      cloudinaryConfig,
		AppEnv:                getEnv("APP_ENV", "production"),
		DBMaxConns:            getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:            getEnvInt("DB_MIN_CONNS", 2),
		ListingTTL:            24 * time.Hour * time.Duration(getEnvInt("LISTING_TTL_DAYS", 30)),
		RatingVisibilityDelay: 24 * time.Hour * time.Duration(getEnvInt("RATING_VISIBILITY_DELAY_DAYS", 14)),
		SweepInterval:         time.Minute * time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 10)),
	}

	if cfg.TelegramBotToken == "" || cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не заданы обязательные переменные окружения")
	}

	return cfg
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("⚠️ Неверное значение %s, используем %d", key, defaultValue)
	}
	return defaultValue
}
