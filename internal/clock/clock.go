package clock

import "time"

// Clock — источник текущего времени. Внедряется везде, где сравнивается
// время (видимость оценок, истечение объявлений), чтобы логика была
// детерминированно тестируемой.
type Clock interface {
	Now() time.Time
}

// System возвращает системные часы
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed возвращает часы, всегда показывающие t. Используется в тестах.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// FixedClock — управляемые часы для тестов
type FixedClock struct {
	t time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.t
}

// Set переводит часы на указанное время
func (c *FixedClock) Set(t time.Time) {
	c.t = t
}

// Advance сдвигает часы вперед на d
func (c *FixedClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}
