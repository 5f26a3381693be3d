package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// Memory — ведомость в памяти. Используется в тестах координатора и
// ведомости; повторяет CAS-семантику постгресовой реализации под мьютексом.
type Memory struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*ListingState
}

// NewMemory создает пустую ведомость в памяти
func NewMemory() *Memory {
	return &Memory{listings: make(map[uuid.UUID]*ListingState)}
}

// Put добавляет или замещает объявление в ведомости
func (m *Memory) Put(st ListingState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st
	m.listings[st.ID] = &cp
}

// Find возвращает копию среза состояния объявления
func (m *Memory) Find(ctx context.Context, listingID uuid.UUID) (*ListingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.listings[listingID]
	if !ok {
		return nil, apperr.NotFound("объявление не найдено")
	}
	cp := *st
	return &cp, nil
}

// Claim бронирует объявление за обменом (CAS по статусу available)
func (m *Memory) Claim(ctx context.Context, listingID, byExchangeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.listings[listingID]
	if !ok {
		return apperr.NotFound("объявление не найдено")
	}
	if st.Status != models.ListingStatusAvailable {
		return apperr.Conflict("объявление недоступно для бронирования")
	}
	ex := byExchangeID
	st.Status = models.ListingStatusReserved
	st.ReservedBy = &ex
	return nil
}

// Release снимает бронь, удерживаемую обменом
func (m *Memory) Release(ctx context.Context, listingID, byExchangeID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.listings[listingID]
	if !ok {
		return apperr.NotFound("объявление не найдено")
	}
	if st.Status != models.ListingStatusReserved || st.ReservedBy == nil || *st.ReservedBy != byExchangeID {
		return apperr.Precondition("бронь не удерживается этим обменом")
	}
	st.ReservedBy = nil
	if !st.ExpiresAt.IsZero() && st.ExpiresAt.Before(now) {
		st.Status = models.ListingStatusExpired
	} else {
		st.Status = models.ListingStatusAvailable
	}
	return nil
}

// Settle фиксирует состоявшийся обмен
func (m *Memory) Settle(ctx context.Context, listingID, byExchangeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.listings[listingID]
	if !ok {
		return apperr.NotFound("объявление не найдено")
	}
	if st.Status != models.ListingStatusReserved || st.ReservedBy == nil || *st.ReservedBy != byExchangeID {
		return apperr.Precondition("бронь не удерживается этим обменом")
	}
	st.Status = models.ListingStatusExchanged
	st.ReservedBy = nil
	return nil
}

// BumpInterest увеличивает информационный счетчик интереса
func (m *Memory) BumpInterest(ctx context.Context, listingID uuid.UUID) error {
	// Счетчик интереса в памяти не хранится: поле информационное и на
	// инварианты ведомости не влияет
	return nil
}

// ExpireDue переводит просроченные доступные объявления в expired
func (m *Memory) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, st := range m.listings {
		if st.Status == models.ListingStatusAvailable && !st.ExpiresAt.IsZero() && st.ExpiresAt.Before(now) {
			st.Status = models.ListingStatusExpired
			count++
		}
	}
	return count, nil
}
