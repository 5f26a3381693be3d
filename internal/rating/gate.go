// Package rating управляет видимостью оценок по завершенным обменам.
// Оценка скрыта до появления встречной оценки либо до истечения окна
// видимости, чтобы ответная оценка не зависела от уже выставленной.
package rating

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/clock"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// Store — хранилище оценок
type Store interface {
	// Create сохраняет оценку; Conflict, если этот участник уже оценил
	// этот обмен
	Create(ctx context.Context, r *models.Rating) error

	// Counterpart возвращает встречную оценку по обмену (оценку второго
	// участника) либо NotFound
	Counterpart(ctx context.Context, exchangeID, raterID uuid.UUID) (*models.Rating, error)

	// MarkVisible делает перечисленные оценки видимыми
	MarkVisible(ctx context.Context, ids ...uuid.UUID) error

	// SweepVisible делает видимыми все скрытые оценки, чей обмен завершился
	// раньше completedBefore. Возвращает число затронутых оценок.
	SweepVisible(ctx context.Context, completedBefore time.Time) (int, error)
}

// ExchangeReader — доступ к агрегату обмена на чтение
type ExchangeReader interface {
	Find(ctx context.Context, id uuid.UUID) (*models.Exchange, error)
}

// StatsRecorder — внешний потребитель статистики репутации. Его сбой не
// влияет на судьбу самой оценки.
type StatsRecorder interface {
	RecordExchangeOutcome(ctx context.Context, userID uuid.UUID, value int) error
}

// Gate — шлюз видимости оценок
type Gate struct {
	ratings   Store
	exchanges ExchangeReader
	stats     StatsRecorder
	clock     clock.Clock
	// delay — окно, спустя которое скрытая оценка становится видимой
	// без встречной
	delay time.Duration
}

// NewGate создает шлюз видимости
func NewGate(ratings Store, exchanges ExchangeReader, stats StatsRecorder, clk clock.Clock, delay time.Duration) *Gate {
	return &Gate{
		ratings:   ratings,
		exchanges: exchanges,
		stats:     stats,
		clock:     clk,
		delay:     delay,
	}
}

// Submit создает оценку по завершенному обмену. Оцениваемым становится
// второй участник. Если встречная оценка уже есть, обе немедленно
// становятся видимыми; иначе новая оценка создается скрытой.
func (g *Gate) Submit(ctx context.Context, exchangeID, raterID uuid.UUID, value int, review string) (*models.Rating, error) {
	if value < 1 || value > 5 {
		return nil, apperr.BadRequest("оценка должна быть от 1 до 5")
	}

	ex, err := g.exchanges.Find(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if !ex.IsParticipant(raterID) {
		return nil, apperr.Authorization("пользователь не является участником обмена")
	}
	if ex.Status != models.ExchangeStatusCompleted {
		return nil, apperr.Precondition("оценить можно только завершенный обмен")
	}

	counterpart, err := g.ratings.Counterpart(ctx, exchangeID, raterID)
	if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	now := g.clock.Now()
	r := &models.Rating{
		ID:          uuid.New(),
		ExchangeID:  exchangeID,
		RaterID:     raterID,
		RatedUserID: ex.Counterpart(raterID),
		Value:       value,
		Review:      review,
		IsVisible:   counterpart != nil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := g.ratings.Create(ctx, r); err != nil {
		return nil, err
	}

	// Встречная оценка открывается вместе с новой
	if counterpart != nil && !counterpart.IsVisible {
		if err := g.ratings.MarkVisible(ctx, counterpart.ID); err != nil {
			log.Printf("Ошибка открытия встречной оценки %s: %v", counterpart.ID, err)
		}
	}

	// Статистика репутации — независимый побочный эффект
	if err := g.stats.RecordExchangeOutcome(ctx, r.RatedUserID, value); err != nil {
		log.Printf("Ошибка обновления статистики пользователя %s: %v", r.RatedUserID, err)
	}

	return r, nil
}

// SweepVisibility открывает скрытые оценки, чье окно видимости истекло.
// Идемпотентна и коммутирует с Submit.
func (g *Gate) SweepVisibility(ctx context.Context, now time.Time) (int, error) {
	return g.ratings.SweepVisible(ctx, now.Add(-g.delay))
}

// RunVisibilitySweeper периодически выполняет SweepVisibility до отмены
// контекста; ошибки прохода логируются
func (g *Gate) RunVisibilitySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := g.SweepVisibility(ctx, g.clock.Now())
			if err != nil {
				log.Printf("Ошибка прохода по скрытым оценкам: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Открыто оценок по истечении окна: %d", count)
			}
		}
	}
}
