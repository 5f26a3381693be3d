// Package ledger отвечает за жизненный цикл доступности объявления:
// available → reserved → exchanged, либо → expired / cancelled.
// Бронь (claim) атомарна относительно своей проверки, поэтому два обмена
// не могут одновременно забронировать одно объявление.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListingState — срез состояния объявления, нужный координатору для
// проверок предусловий. Метаданные книги ведомостью не читаются.
type ListingState struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Status     string
	ReservedBy *uuid.UUID
	ExpiresAt  time.Time
}

// Ledger — ведомость доступности объявлений
type Ledger interface {
	// Find возвращает срез состояния объявления
	Find(ctx context.Context, listingID uuid.UUID) (*ListingState, error)

	// Claim бронирует объявление за обменом. Успех только из статуса
	// available; иначе Conflict (в том числе при проигрыше гонки).
	Claim(ctx context.Context, listingID, byExchangeID uuid.UUID) error

	// Release снимает бронь, удерживаемую обменом. Объявление возвращается
	// в available, либо в expired, если срок его действия уже истек.
	// Precondition, если бронь удерживает не этот обмен.
	Release(ctx context.Context, listingID, byExchangeID uuid.UUID, now time.Time) error

	// Settle фиксирует состоявшийся обмен: reserved → exchanged (терминальный)
	Settle(ctx context.Context, listingID, byExchangeID uuid.UUID) error

	// BumpInterest увеличивает информационный счетчик интереса
	BumpInterest(ctx context.Context, listingID uuid.UUID) error

	// ExpireDue переводит все объявления со статусом available и истекшим
	// сроком в expired. Идемпотентна; возвращает число затронутых строк.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
