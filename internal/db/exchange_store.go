package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// ExchangeStore — хранилище агрегатов обмена поверх PostgreSQL.
// Запись идет через счетчик версий: UPDATE срабатывает только при
// совпадении версии, проигравший гонку получает Conflict.
type ExchangeStore struct {
	pool *pgxpool.Pool
}

// NewExchangeStore создает хранилище обменов
func NewExchangeStore(pool *pgxpool.Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

const exchangeColumns = `
	id, requester_id, owner_id, listing_id, offered_listing_id,
	status, message, response,
	requester_confirmed_meetup, owner_confirmed_meetup,
	requester_confirmed_completion, owner_confirmed_completion,
	meetup_latitude, meetup_longitude, meetup_address, meetup_scheduled_at,
	version, created_at, updated_at, completed_at`

func scanExchange(row pgx.Row) (*models.Exchange, error) {
	var ex models.Exchange
	err := row.Scan(
		&ex.ID, &ex.RequesterID, &ex.OwnerID, &ex.ListingID, &ex.OfferedListingID,
		&ex.Status, &ex.Message, &ex.Response,
		&ex.RequesterConfirmedMeetup, &ex.OwnerConfirmedMeetup,
		&ex.RequesterConfirmedCompletion, &ex.OwnerConfirmedCompletion,
		&ex.MeetupLatitude, &ex.MeetupLongitude, &ex.MeetupAddress, &ex.MeetupScheduledAt,
		&ex.Version, &ex.CreatedAt, &ex.UpdatedAt, &ex.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("обмен не найден")
	}
	if err != nil {
		return nil, err
	}
	return &ex, nil
}

// Create сохраняет новый обмен
func (s *ExchangeStore) Create(ctx context.Context, ex *models.Exchange) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchanges (
			id, requester_id, owner_id, listing_id, offered_listing_id,
			status, message, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
	`, ex.ID, ex.RequesterID, ex.OwnerID, ex.ListingID, ex.OfferedListingID,
		ex.Status, ex.Message, ex.CreatedAt, ex.UpdatedAt)
	return err
}

// Find возвращает обмен по ID
func (s *ExchangeStore) Find(ctx context.Context, id uuid.UUID) (*models.Exchange, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+exchangeColumns+`
		FROM exchanges
		WHERE id = $1
	`, id)
	return scanExchange(row)
}

// UpdateCAS сохраняет агрегат, если версия в базе совпадает с прочитанной.
// При несовпадении возвращает Conflict, вызывающий перечитывает агрегат.
func (s *ExchangeStore) UpdateCAS(ctx context.Context, ex *models.Exchange) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE exchanges
		SET status = $2, response = $3,
		    requester_confirmed_meetup = $4, owner_confirmed_meetup = $5,
		    requester_confirmed_completion = $6, owner_confirmed_completion = $7,
		    meetup_latitude = $8, meetup_longitude = $9,
		    meetup_address = $10, meetup_scheduled_at = $11,
		    version = version + 1, updated_at = $12, completed_at = $13
		WHERE id = $1 AND version = $14
	`, ex.ID, ex.Status, ex.Response,
		ex.RequesterConfirmedMeetup, ex.OwnerConfirmedMeetup,
		ex.RequesterConfirmedCompletion, ex.OwnerConfirmedCompletion,
		ex.MeetupLatitude, ex.MeetupLongitude,
		ex.MeetupAddress, ex.MeetupScheduledAt,
		ex.UpdatedAt, ex.CompletedAt, ex.Version)

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("обмен был изменен параллельной операцией")
	}
	ex.Version++
	return nil
}

// HasPendingFor проверяет, есть ли у пользователя ожидающий обмен по объявлению
func (s *ExchangeStore) HasPendingFor(ctx context.Context, requesterID, listingID uuid.UUID) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM exchanges
		WHERE requester_id = $1 AND listing_id = $2 AND status = $3
	`, requesterID, listingID, models.ExchangeStatusPending).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
