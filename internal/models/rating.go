package models

import (
	"time"

	"github.com/google/uuid"
)

// Rating представляет оценку участника по итогам завершенного обмена.
// Оценка скрыта (IsVisible = false) до появления встречной оценки либо
// до истечения окна видимости после завершения обмена.
type Rating struct {
	ID          uuid.UUID `json:"id"`
	ExchangeID  uuid.UUID `json:"exchange_id"`
	RaterID     uuid.UUID `json:"rater_id"`
	RatedUserID uuid.UUID `json:"rated_user_id"`
	Value       int       `json:"value"` // от 1 до 5
	Review      string    `json:"review,omitempty"`
	IsVisible   bool      `json:"is_visible"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Дополнительные поля для API
	Rater *User `json:"rater,omitempty"`
}
