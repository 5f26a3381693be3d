// Package coordinator связывает машину состояний обмена и ведомость
// доступности объявлений в атомарные операции. Переход статуса и парная
// операция над объявлениями выполняются как сага: сначала CAS-запись
// обмена, затем операция ведомости, при ее сбое — компенсирующий откат
// обмена. Частично примененное состояние снаружи не наблюдаемо.
package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/clock"
	"github.com/knigoswap/knigoswap-api/internal/events"
	"github.com/knigoswap/knigoswap-api/internal/exchange"
	"github.com/knigoswap/knigoswap-api/internal/ledger"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// casRetries — число повторов записи при проигрыше конкурентной записи,
// когда повторная проверка показывает, что действие все еще допустимо
// (например, два участника одновременно ставят свои флаги подтверждения)
const casRetries = 3

// Coordinator — оркестратор операций над обменом
type Coordinator struct {
	exchanges ExchangeStore
	listings  ledger.Ledger
	events    events.Dispatcher
	clock     clock.Clock
}

// New создает координатор
func New(exchanges ExchangeStore, listings ledger.Ledger, dispatcher events.Dispatcher, clk clock.Clock) *Coordinator {
	return &Coordinator{
		exchanges: exchanges,
		listings:  listings,
		events:    dispatcher,
		clock:     clk,
	}
}

// CreateInput — параметры создания обмена
type CreateInput struct {
	RequesterID      uuid.UUID
	ListingID        uuid.UUID
	OfferedListingID *uuid.UUID
	Message          string
}

// Create создает обмен в статусе pending. Объявление при этом не
// бронируется: бронь происходит только при принятии владельцем.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (*models.Exchange, error) {
	listing, err := c.listings.Find(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == in.RequesterID {
		return nil, apperr.BadRequest("нельзя запросить обмен на собственное объявление")
	}
	if listing.Status != models.ListingStatusAvailable {
		return nil, apperr.BadRequest("объявление недоступно для обмена")
	}

	if in.OfferedListingID != nil {
		offered, err := c.listings.Find(ctx, *in.OfferedListingID)
		if err != nil {
			return nil, err
		}
		if offered.OwnerID != in.RequesterID {
			return nil, apperr.BadRequest("предлагаемое объявление не принадлежит инициатору")
		}
		if offered.Status != models.ListingStatusAvailable {
			return nil, apperr.BadRequest("предлагаемое объявление недоступно")
		}
	}

	exists, err := c.exchanges.HasPendingFor(ctx, in.RequesterID, in.ListingID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("запрос на обмен по этому объявлению уже отправлен")
	}

	now := c.clock.Now()
	ex := &models.Exchange{
		ID:               uuid.New(),
		RequesterID:      in.RequesterID,
		OwnerID:          listing.OwnerID,
		ListingID:        in.ListingID,
		OfferedListingID: in.OfferedListingID,
		Status:           models.ExchangeStatusPending,
		Message:          in.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.exchanges.Create(ctx, ex); err != nil {
		return nil, err
	}

	// Счетчик интереса информационный: его сбой не откатывает создание
	if err := c.listings.BumpInterest(ctx, in.ListingID); err != nil {
		log.Printf("Ошибка увеличения счетчика интереса объявления %s: %v", in.ListingID, err)
	}

	c.publish(events.ExchangeCreated, ex, in.RequesterID)
	return ex, nil
}

// Accept принимает обмен: pending → accepted с бронированием объявлений
func (c *Coordinator) Accept(ctx context.Context, exchangeID, actorID uuid.UUID, response string) (*models.Exchange, error) {
	return c.transition(ctx, exchangeID, actorID, exchange.ActionAccept, response)
}

// Decline отклоняет обмен: pending → declined
func (c *Coordinator) Decline(ctx context.Context, exchangeID, actorID uuid.UUID, response string) (*models.Exchange, error) {
	return c.transition(ctx, exchangeID, actorID, exchange.ActionDecline, response)
}

// Cancel отменяет обмен из pending или accepted; во втором случае брони
// объявлений снимаются
func (c *Coordinator) Cancel(ctx context.Context, exchangeID, actorID uuid.UUID) (*models.Exchange, error) {
	return c.transition(ctx, exchangeID, actorID, exchange.ActionCancel, "")
}

// ConfirmMeetup выставляет флаг состоявшейся встречи для вызывающего
func (c *Coordinator) ConfirmMeetup(ctx context.Context, exchangeID, actorID uuid.UUID) (*models.Exchange, error) {
	return c.transition(ctx, exchangeID, actorID, exchange.ActionConfirmMeetup, "")
}

// ConfirmCompletion выставляет флаг завершения для вызывающего; когда
// подтвердили оба, обмен переходит в completed и объявления фиксируются
func (c *Coordinator) ConfirmCompletion(ctx context.Context, exchangeID, actorID uuid.UUID) (*models.Exchange, error) {
	return c.transition(ctx, exchangeID, actorID, exchange.ActionConfirmCompletion, "")
}

// MeetupInput — параметры встречи
type MeetupInput struct {
	Latitude    *float64
	Longitude   *float64
	Address     string
	ScheduledAt *time.Time
}

// SetMeetup сохраняет данные о встрече. Допустимо только участникам и
// только в статусе accepted.
func (c *Coordinator) SetMeetup(ctx context.Context, exchangeID, actorID uuid.UUID, in MeetupInput) (*models.Exchange, error) {
	ex, err := c.exchanges.Find(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if !ex.IsParticipant(actorID) {
		return nil, apperr.Authorization("пользователь не является участником обмена")
	}
	if ex.Status != models.ExchangeStatusAccepted {
		return nil, apperr.InvalidTransition(ex.Status, "set_meetup")
	}

	ex.MeetupLatitude = in.Latitude
	ex.MeetupLongitude = in.Longitude
	ex.MeetupAddress = in.Address
	ex.MeetupScheduledAt = in.ScheduledAt
	ex.UpdatedAt = c.clock.Now()

	if err := c.exchanges.UpdateCAS(ctx, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

// transition выполняет одно действие над обменом: читает агрегат,
// применяет машину состояний, пишет через CAS и выполняет парную
// операцию ведомости с компенсацией при сбое.
func (c *Coordinator) transition(ctx context.Context, exchangeID, actorID uuid.UUID, action exchange.Action, response string) (*models.Exchange, error) {
	var lastErr error

	for attempt := 0; attempt <= casRetries; attempt++ {
		ex, err := c.exchanges.Find(ctx, exchangeID)
		if err != nil {
			return nil, err
		}

		prev := *ex
		now := c.clock.Now()

		effect, err := exchange.Apply(ex, action, actorID, now)
		if err != nil {
			return nil, err
		}
		if response != "" && (action == exchange.ActionAccept || action == exchange.ActionDecline) {
			ex.Response = response
		}

		if err := c.exchanges.UpdateCAS(ctx, ex); err != nil {
			if apperr.IsKind(err, apperr.KindConflict) {
				// Проигрыш гонки записи: перечитываем и пробуем снова.
				// Если действие из нового состояния уже недопустимо,
				// следующая итерация вернет InvalidTransition.
				lastErr = err
				continue
			}
			return nil, err
		}

		if err := c.applyEffect(ctx, ex, &prev, effect, now); err != nil {
			return nil, err
		}

		c.publishTransition(ex, actorID, effect)
		return ex, nil
	}

	return nil, lastErr
}

// applyEffect выполняет операцию ведомости, парную переходу. При сбое
// бронирования или фиксации обмен компенсирующе откатывается к prev.
func (c *Coordinator) applyEffect(ctx context.Context, ex *models.Exchange, prev *models.Exchange, effect exchange.Effect, now time.Time) error {
	switch effect {
	case exchange.EffectClaim:
		if err := c.listings.Claim(ctx, ex.ListingID, ex.ID); err != nil {
			c.rollback(ctx, ex, prev)
			return err
		}
		if ex.OfferedListingID != nil {
			if err := c.listings.Claim(ctx, *ex.OfferedListingID, ex.ID); err != nil {
				// Возвращаем первую бронь и откатываем обмен
				if rerr := c.listings.Release(ctx, ex.ListingID, ex.ID, now); rerr != nil {
					log.Printf("Ошибка возврата брони объявления %s: %v", ex.ListingID, rerr)
				}
				c.rollback(ctx, ex, prev)
				return err
			}
		}

	case exchange.EffectRelease:
		// Бронь могла уже быть снята независимо (например, объявление
		// истекло): такой случай пропускается, а не считается ошибкой
		c.releaseQuiet(ctx, ex.ListingID, ex.ID, now)
		if ex.OfferedListingID != nil {
			c.releaseQuiet(ctx, *ex.OfferedListingID, ex.ID, now)
		}

	case exchange.EffectSettle:
		if err := c.listings.Settle(ctx, ex.ListingID, ex.ID); err != nil {
			c.rollback(ctx, ex, prev)
			return err
		}
		if ex.OfferedListingID != nil {
			if err := c.listings.Settle(ctx, *ex.OfferedListingID, ex.ID); err != nil {
				// Обратной операции к settle нет: основное объявление
				// остается exchanged. Расхождение фиксируется в логе,
				// сам обмен откатывается к accepted.
				log.Printf("Расхождение при фиксации обмена %s: объявление %s зафиксировано, %s — нет: %v",
					ex.ID, ex.ListingID, *ex.OfferedListingID, err)
				c.rollback(ctx, ex, prev)
				return err
			}
		}
	}
	return nil
}

// releaseQuiet снимает бронь, логируя, но не поднимая ошибку предусловия
func (c *Coordinator) releaseQuiet(ctx context.Context, listingID, exchangeID uuid.UUID, now time.Time) {
	if err := c.listings.Release(ctx, listingID, exchangeID, now); err != nil {
		log.Printf("Бронь объявления %s не снята обменом %s: %v", listingID, exchangeID, err)
	}
}

// rollback возвращает агрегат к состоянию до перехода компенсирующей
// записью. Версия при этом продолжает расти: откат — тоже запись.
func (c *Coordinator) rollback(ctx context.Context, cur *models.Exchange, prev *models.Exchange) {
	restored := *prev
	restored.Version = cur.Version
	if err := c.exchanges.UpdateCAS(ctx, &restored); err != nil {
		log.Printf("Ошибка компенсирующего отката обмена %s: %v", cur.ID, err)
		return
	}
	*cur = restored
}

func (c *Coordinator) publishTransition(ex *models.Exchange, actorID uuid.UUID, effect exchange.Effect) {
	switch ex.Status {
	case models.ExchangeStatusAccepted:
		if effect == exchange.EffectClaim {
			c.publish(events.ExchangeAccepted, ex, actorID)
		}
	case models.ExchangeStatusDeclined:
		c.publish(events.ExchangeDeclined, ex, actorID)
	case models.ExchangeStatusCompleted:
		c.publish(events.ExchangeCompleted, ex, actorID)
	case models.ExchangeStatusCancelled:
		c.publish(events.ExchangeCancelled, ex, actorID)
	}
}

func (c *Coordinator) publish(eventType string, ex *models.Exchange, actorID uuid.UUID) {
	c.events.Publish(events.Event{
		Type:       eventType,
		ExchangeID: ex.ID,
		ActorID:    actorID,
		Recipients: []uuid.UUID{ex.RequesterID, ex.OwnerID},
		OccurredAt: c.clock.Now(),
	})
}
