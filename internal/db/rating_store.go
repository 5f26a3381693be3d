package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// uniqueViolation — код ошибки PostgreSQL для нарушения уникальности
const uniqueViolation = "23505"

// RatingStore — хранилище оценок поверх PostgreSQL. Уникальный индекс по
// (exchange_id, rater_id) закрывает гонку двойной отправки.
type RatingStore struct {
	pool *pgxpool.Pool
}

// NewRatingStore создает хранилище оценок
func NewRatingStore(pool *pgxpool.Pool) *RatingStore {
	return &RatingStore{pool: pool}
}

// Create сохраняет оценку; дубликат по обмену и автору дает Conflict
func (s *RatingStore) Create(ctx context.Context, r *models.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratings (id, exchange_id, rater_id, rated_user_id, value, review, is_visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.ExchangeID, r.RaterID, r.RatedUserID, r.Value, r.Review, r.IsVisible, r.CreatedAt, r.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Conflict("вы уже оценили этот обмен")
	}
	return err
}

// Counterpart возвращает оценку второго участника обмена
func (s *RatingStore) Counterpart(ctx context.Context, exchangeID, raterID uuid.UUID) (*models.Rating, error) {
	var r models.Rating
	err := s.pool.QueryRow(ctx, `
		SELECT id, exchange_id, rater_id, rated_user_id, value, review, is_visible, created_at, updated_at
		FROM ratings
		WHERE exchange_id = $1 AND rater_id <> $2
	`, exchangeID, raterID).Scan(
		&r.ID, &r.ExchangeID, &r.RaterID, &r.RatedUserID,
		&r.Value, &r.Review, &r.IsVisible, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("встречная оценка не найдена")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkVisible делает перечисленные оценки видимыми
func (s *RatingStore) MarkVisible(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE ratings SET is_visible = true, updated_at = NOW() WHERE id = ANY($1)
	`, ids)
	return err
}

// SweepVisible открывает скрытые оценки по обменам, завершенным раньше
// completedBefore. Идемпотентна.
func (s *RatingStore) SweepVisible(ctx context.Context, completedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratings r
		SET is_visible = true, updated_at = NOW()
		FROM exchanges e
		WHERE r.exchange_id = e.id
		  AND r.is_visible = false
		  AND e.completed_at < $1
	`, completedBefore)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// VisibleForUser возвращает видимые оценки пользователя, новые первыми
func (s *RatingStore) VisibleForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Rating, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, exchange_id, rater_id, rated_user_id, value, review, is_visible, created_at, updated_at
		FROM ratings
		WHERE rated_user_id = $1 AND is_visible = true
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []models.Rating
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(
			&r.ID, &r.ExchangeID, &r.RaterID, &r.RatedUserID,
			&r.Value, &r.Review, &r.IsVisible, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}
