package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// Postgres — ведомость доступности поверх PostgreSQL. Все переходы
// выполняются условными UPDATE по текущему статусу, поэтому проверка
// предусловия и запись атомарны на уровне строки.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создает ведомость поверх пула соединений
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Find возвращает срез состояния объявления
func (p *Postgres) Find(ctx context.Context, listingID uuid.UUID) (*ListingState, error) {
	var st ListingState
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, status, reserved_by, expires_at
		FROM listings
		WHERE id = $1
	`, listingID).Scan(&st.ID, &st.OwnerID, &st.Status, &st.ReservedBy, &st.ExpiresAt)

	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("объявление не найдено")
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Claim бронирует объявление за обменом. Условие status = 'available'
// в самом UPDATE гарантирует, что из двух конкурирующих броней пройдет
// ровно одна.
func (p *Postgres) Claim(ctx context.Context, listingID, byExchangeID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE listings
		SET status = $3, reserved_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, listingID, byExchangeID, models.ListingStatusReserved, models.ListingStatusAvailable)

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, ferr := p.Find(ctx, listingID); ferr != nil {
			return ferr
		}
		return apperr.Conflict("объявление недоступно для бронирования")
	}
	return nil
}

// Release снимает бронь: reserved → available, либо → expired, если срок
// действия объявления уже истек
func (p *Postgres) Release(ctx context.Context, listingID, byExchangeID uuid.UUID, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE listings
		SET status = CASE WHEN expires_at < $3 THEN $4 ELSE $5 END,
		    reserved_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $6 AND reserved_by = $2
	`, listingID, byExchangeID, now,
		models.ListingStatusExpired, models.ListingStatusAvailable, models.ListingStatusReserved)

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, ferr := p.Find(ctx, listingID); ferr != nil {
			return ferr
		}
		return apperr.Precondition("бронь не удерживается этим обменом")
	}
	return nil
}

// Settle фиксирует состоявшийся обмен: reserved → exchanged
func (p *Postgres) Settle(ctx context.Context, listingID, byExchangeID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE listings
		SET status = $3, reserved_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND reserved_by = $2
	`, listingID, byExchangeID, models.ListingStatusExchanged, models.ListingStatusReserved)

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, ferr := p.Find(ctx, listingID); ferr != nil {
			return ferr
		}
		return apperr.Precondition("бронь не удерживается этим обменом")
	}
	return nil
}

// BumpInterest увеличивает информационный счетчик интереса к объявлению
func (p *Postgres) BumpInterest(ctx context.Context, listingID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE listings SET interest_count = interest_count + 1 WHERE id = $1
	`, listingID)
	return err
}

// ExpireDue переводит просроченные доступные объявления в expired
func (p *Postgres) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE listings
		SET status = $2, updated_at = NOW()
		WHERE status = $3 AND expires_at < $1
	`, now, models.ListingStatusExpired, models.ListingStatusAvailable)

	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
