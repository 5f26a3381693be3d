package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel — канал Redis Pub/Sub для широковещания событий обмена
const Channel = "exchange:events"

// RedisDispatcher публикует события в Redis Pub/Sub, откуда их забирают
// экземпляры API для доставки через websocket
type RedisDispatcher struct {
	client *redis.Client
}

// NewRedisDispatcher создает диспетчер поверх клиента Redis
func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client}
}

// Publish сериализует событие и публикует его в канал. Ошибки публикации
// только логируются: доставка уведомлений не должна влиять на переход.
func (d *RedisDispatcher) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Ошибка сериализации события %s: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.client.Publish(ctx, Channel, payload).Err(); err != nil {
		log.Printf("Ошибка публикации события %s: %v", event.Type, err)
	}
}

// Subscribe подписывается на канал событий и вызывает handler для каждого
// полученного события до отмены контекста
func Subscribe(ctx context.Context, client *redis.Client, handler func(Event)) {
	pubsub := client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("Ошибка разбора события из Redis: %v", err)
				continue
			}
			handler(event)
		}
	}
}
