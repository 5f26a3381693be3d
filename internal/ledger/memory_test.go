package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

func newAvailable(m *Memory, expiresAt time.Time) uuid.UUID {
	id := uuid.New()
	m.Put(ListingState{
		ID:        id,
		OwnerID:   uuid.New(),
		Status:    models.ListingStatusAvailable,
		ExpiresAt: expiresAt,
	})
	return id
}

func TestClaimReserves(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})
	exchangeID := uuid.New()

	require.NoError(t, m.Claim(context.Background(), listingID, exchangeID))

	st, err := m.Find(context.Background(), listingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusReserved, st.Status)
	require.NotNil(t, st.ReservedBy)
	assert.Equal(t, exchangeID, *st.ReservedBy)
}

func TestClaimReservedConflict(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})

	require.NoError(t, m.Claim(context.Background(), listingID, uuid.New()))

	err := m.Claim(context.Background(), listingID, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestClaimMissingListing(t *testing.T) {
	m := NewMemory()

	err := m.Claim(context.Background(), uuid.New(), uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestReleaseReturnsToAvailable(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})
	exchangeID := uuid.New()
	require.NoError(t, m.Claim(context.Background(), listingID, exchangeID))

	require.NoError(t, m.Release(context.Background(), listingID, exchangeID, time.Now()))

	st, err := m.Find(context.Background(), listingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAvailable, st.Status)
	assert.Nil(t, st.ReservedBy)
}

func TestReleaseExpiredListing(t *testing.T) {
	// Если срок объявления истек, пока оно было забронировано, снятие
	// брони переводит его сразу в expired, а не обратно в available
	m := NewMemory()
	now := time.Now()
	listingID := newAvailable(m, now.Add(-time.Hour))
	exchangeID := uuid.New()
	require.NoError(t, m.Claim(context.Background(), listingID, exchangeID))

	require.NoError(t, m.Release(context.Background(), listingID, exchangeID, now))

	st, err := m.Find(context.Background(), listingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusExpired, st.Status)
}

func TestReleaseByWrongExchange(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})
	require.NoError(t, m.Claim(context.Background(), listingID, uuid.New()))

	err := m.Release(context.Background(), listingID, uuid.New(), time.Now())
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestSettleFinalizes(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})
	exchangeID := uuid.New()
	require.NoError(t, m.Claim(context.Background(), listingID, exchangeID))

	require.NoError(t, m.Settle(context.Background(), listingID, exchangeID))

	st, err := m.Find(context.Background(), listingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusExchanged, st.Status)

	// exchanged — терминальный статус, повторная бронь невозможна
	err = m.Claim(context.Background(), listingID, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestSettleWithoutClaim(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})

	err := m.Settle(context.Background(), listingID, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestExpireDue(t *testing.T) {
	m := NewMemory()
	now := time.Now()

	expired1 := newAvailable(m, now.Add(-time.Hour))
	expired2 := newAvailable(m, now.Add(-time.Minute))
	alive := newAvailable(m, now.Add(time.Hour))
	forever := newAvailable(m, time.Time{})

	// Забронированные объявления проход не трогает
	reserved := newAvailable(m, now.Add(-time.Hour))
	require.NoError(t, m.Claim(context.Background(), reserved, uuid.New()))

	count, err := m.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for id, want := range map[uuid.UUID]string{
		expired1: models.ListingStatusExpired,
		expired2: models.ListingStatusExpired,
		alive:    models.ListingStatusAvailable,
		forever:  models.ListingStatusAvailable,
		reserved: models.ListingStatusReserved,
	} {
		st, err := m.Find(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, st.Status)
	}

	// Повторный проход идемпотентен
	count, err = m.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	m := NewMemory()
	listingID := newAvailable(m, time.Time{})

	const claimers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Claim(context.Background(), listingID, uuid.New()); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Из всех конкурирующих броней проходит ровно одна
	assert.Equal(t, 1, winners)
}
