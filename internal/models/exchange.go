package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы обмена
const (
	ExchangeStatusPending   = "pending"
	ExchangeStatusAccepted  = "accepted"
	ExchangeStatusDeclined  = "declined"
	ExchangeStatusCompleted = "completed"
	ExchangeStatusCancelled = "cancelled"
)

// Exchange представляет запрос на обмен книгами между двумя пользователями.
// Requester — инициатор, Owner — владелец запрашиваемого объявления.
type Exchange struct {
	ID          uuid.UUID `json:"id"`
	RequesterID uuid.UUID `json:"requester_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	ListingID   uuid.UUID `json:"listing_id"`
	// OfferedListingID — объявление инициатора, предложенное взамен (опционально)
	OfferedListingID *uuid.UUID `json:"offered_listing_id,omitempty"`
	Status           string     `json:"status"` // pending, accepted, declined, completed, cancelled
	Message          string     `json:"message,omitempty"`
	Response         string     `json:"response,omitempty"`

	// Флаги двустороннего подтверждения
	RequesterConfirmedMeetup     bool `json:"requester_confirmed_meetup"`
	OwnerConfirmedMeetup         bool `json:"owner_confirmed_meetup"`
	RequesterConfirmedCompletion bool `json:"requester_confirmed_completion"`
	OwnerConfirmedCompletion     bool `json:"owner_confirmed_completion"`

	// Данные о встрече (заполняются только после принятия обмена)
	MeetupLatitude    *float64   `json:"meetup_latitude,omitempty"`
	MeetupLongitude   *float64   `json:"meetup_longitude,omitempty"`
	MeetupAddress     string     `json:"meetup_address,omitempty"`
	MeetupScheduledAt *time.Time `json:"meetup_scheduled_at,omitempty"`

	// Version — счетчик версий для оптимистичной блокировки
	Version     int        `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Дополнительные поля для API
	Listing        *Listing `json:"listing,omitempty"`
	OfferedListing *Listing `json:"offered_listing,omitempty"`
	Requester      *User    `json:"requester,omitempty"`
	Owner          *User    `json:"owner,omitempty"`
}

// IsParticipant проверяет, является ли пользователь участником обмена
func (e *Exchange) IsParticipant(userID uuid.UUID) bool {
	return e.RequesterID == userID || e.OwnerID == userID
}

// Counterpart возвращает второго участника обмена относительно userID
func (e *Exchange) Counterpart(userID uuid.UUID) uuid.UUID {
	if e.RequesterID == userID {
		return e.OwnerID
	}
	return e.RequesterID
}

// User представляет минимальную информацию о пользователе для API
type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username,omitempty"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	City          string    `json:"city,omitempty"`
	RatingAverage float64   `json:"rating_average"`
	RatingCount   int       `json:"rating_count"`
}
