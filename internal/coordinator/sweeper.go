package coordinator

import (
	"context"
	"log"
	"time"
)

// RunExpireSweeper периодически переводит просроченные объявления в
// expired. Ошибки отдельного прохода логируются, цикл продолжается.
// Завершается при отмене контекста.
func (c *Coordinator) RunExpireSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := c.listings.ExpireDue(ctx, c.clock.Now())
			if err != nil {
				log.Printf("Ошибка прохода по просроченным объявлениям: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Переведено в expired объявлений: %d", count)
			}
		}
	}
}
