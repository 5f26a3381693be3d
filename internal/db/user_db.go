package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// CreateOrUpdateTelegramUser создает нового пользователя через Telegram
// или обновляет существующего и возвращает его профиль
func CreateOrUpdateTelegramUser(telegramID int64, username, firstName, lastName, photoURL, languageCode string, rawData []byte) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	// Начинаем транзакцию
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Проверяем, существует ли пользователь Telegram
	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)

	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка при поиске пользователя Telegram: %w", err)
	}

	if err == pgx.ErrNoRows {
		// Создаем запись в users
		err = tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			RETURNING id
		`, firstName, lastName, username, photoURL).Scan(&userID)

		if err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		// Создаем запись в telegram_users
		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, userID, telegramID, username, firstName, lastName, photoURL, languageCode, rawData)

		if err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
	} else {
		// Обновляем last_login_at и актуальные данные профиля
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET username = $2, first_name = $3, last_name = $4, avatar_url = $5,
			    last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1
		`, userID, username, firstName, lastName, photoURL)

		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении пользователя: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return GetUserByID(userID)
}

// GetUserByID возвращает профиль пользователя вместе с агрегатом оценок
func GetUserByID(userID uuid.UUID) (*models.User, error) {
	ctx, cancel := GetContext()
	defer cancel()

	var user models.User
	err := Pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, avatar_url, city, rating_average, rating_count
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.LastName,
		&user.AvatarURL, &user.City, &user.RatingAverage, &user.RatingCount,
	)

	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("пользователь не найден")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserStatsRecorder обновляет публичную статистику репутации пользователя.
// Средняя оценка пересчитывается инкрементально, без полного пересчета
// по всем оценкам.
type UserStatsRecorder struct {
	pool *pgxpool.Pool
}

// NewUserStatsRecorder создает потребитель статистики
func NewUserStatsRecorder(pool *pgxpool.Pool) *UserStatsRecorder {
	return &UserStatsRecorder{pool: pool}
}

// RecordExchangeOutcome добавляет новую оценку в скользящее среднее
func (r *UserStatsRecorder) RecordExchangeOutcome(ctx context.Context, userID uuid.UUID, value int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET rating_average = (rating_average * rating_count + $2) / (rating_count + 1),
		    rating_count = rating_count + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, userID, value)
	return err
}
