// Package events определяет доменные события обмена и интерфейс их
// доставки. Доставка — best-effort: сбой публикации никогда не влияет
// на результат перехода.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий обмена
const (
	ExchangeCreated   = "exchange.created"
	ExchangeAccepted  = "exchange.accepted"
	ExchangeDeclined  = "exchange.declined"
	ExchangeCompleted = "exchange.completed"
	ExchangeCancelled = "exchange.cancelled"
)

// Event представляет доменное событие обмена
type Event struct {
	Type       string    `json:"type"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	ActorID    uuid.UUID `json:"actor_id"`
	// Recipients — участники обмена, которым адресовано уведомление
	Recipients []uuid.UUID `json:"recipients"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Dispatcher публикует доменные события для внешних подписчиков
// (уведомления, websocket). Реализации не возвращают ошибок наружу:
// публикация не должна откатывать переход.
type Dispatcher interface {
	Publish(event Event)
}

// Noop — заглушка диспетчера для тестов и локального запуска без Redis
type Noop struct{}

// Publish ничего не делает
func (Noop) Publish(Event) {}
