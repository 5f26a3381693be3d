package coordinator

import (
	"context"

	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/models"
)

// ExchangeStore — хранилище агрегатов обмена. Запись идет через
// оптимистичную блокировку по версии: UpdateCAS сохраняет агрегат только
// если версия в хранилище совпадает с прочитанной, иначе возвращает
// Conflict. Так два конкурирующих перехода по одному обмену не могут
// затереть друг друга.
type ExchangeStore interface {
	Create(ctx context.Context, ex *models.Exchange) error
	Find(ctx context.Context, id uuid.UUID) (*models.Exchange, error)

	// UpdateCAS сохраняет агрегат при совпадении версии и инкрементирует
	// ее. При несовпадении возвращает apperr.Conflict.
	UpdateCAS(ctx context.Context, ex *models.Exchange) error

	// HasPendingFor проверяет, есть ли у пользователя уже ожидающий обмен
	// по этому объявлению
	HasPendingFor(ctx context.Context, requesterID, listingID uuid.UUID) (bool, error)
}
