package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/clock"
	"github.com/knigoswap/knigoswap-api/internal/events"
	"github.com/knigoswap/knigoswap-api/internal/ledger"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// memExchangeStore — хранилище обменов в памяти с той же CAS-семантикой,
// что и у постгресовой реализации
type memExchangeStore struct {
	mu        sync.Mutex
	exchanges map[uuid.UUID]models.Exchange
}

func newMemExchangeStore() *memExchangeStore {
	return &memExchangeStore{exchanges: make(map[uuid.UUID]models.Exchange)}
}

func (s *memExchangeStore) Create(ctx context.Context, ex *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges[ex.ID] = *ex
	return nil
}

func (s *memExchangeStore) Find(ctx context.Context, id uuid.UUID) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.exchanges[id]
	if !ok {
		return nil, apperr.NotFound("обмен не найден")
	}
	cp := ex
	return &cp, nil
}

func (s *memExchangeStore) UpdateCAS(ctx context.Context, ex *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.exchanges[ex.ID]
	if !ok {
		return apperr.NotFound("обмен не найден")
	}
	if stored.Version != ex.Version {
		return apperr.Conflict("обмен был изменен параллельно, повторите запрос")
	}
	ex.Version++
	s.exchanges[ex.ID] = *ex
	return nil
}

func (s *memExchangeStore) HasPendingFor(ctx context.Context, requesterID, listingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.exchanges {
		if ex.RequesterID == requesterID && ex.ListingID == listingID && ex.Status == models.ExchangeStatusPending {
			return true, nil
		}
	}
	return false, nil
}

// recordingDispatcher накапливает опубликованные события
type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(event events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	types := make([]string, 0, len(d.events))
	for _, e := range d.events {
		types = append(types, e.Type)
	}
	return types
}

type fixture struct {
	coord      *Coordinator
	store      *memExchangeStore
	listings   *ledger.Memory
	dispatcher *recordingDispatcher
	clk        *clock.FixedClock

	requesterID uuid.UUID
	ownerID     uuid.UUID
	listingID   uuid.UUID
	offeredID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:       newMemExchangeStore(),
		listings:    ledger.NewMemory(),
		dispatcher:  &recordingDispatcher{},
		clk:         clock.Fixed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		requesterID: uuid.New(),
		ownerID:     uuid.New(),
		listingID:   uuid.New(),
		offeredID:   uuid.New(),
	}
	f.coord = New(f.store, f.listings, f.dispatcher, f.clk)

	f.listings.Put(ledger.ListingState{
		ID:        f.listingID,
		OwnerID:   f.ownerID,
		Status:    models.ListingStatusAvailable,
		ExpiresAt: f.clk.Now().Add(30 * 24 * time.Hour),
	})
	f.listings.Put(ledger.ListingState{
		ID:        f.offeredID,
		OwnerID:   f.requesterID,
		Status:    models.ListingStatusAvailable,
		ExpiresAt: f.clk.Now().Add(30 * 24 * time.Hour),
	})
	return f
}

func (f *fixture) create(t *testing.T, offered bool) *models.Exchange {
	t.Helper()
	in := CreateInput{
		RequesterID: f.requesterID,
		ListingID:   f.listingID,
		Message:     "Обменяю на вашу книгу",
	}
	if offered {
		in.OfferedListingID = &f.offeredID
	}
	ex, err := f.coord.Create(context.Background(), in)
	require.NoError(t, err)
	return ex
}

func (f *fixture) listingStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	st, err := f.listings.Find(context.Background(), id)
	require.NoError(t, err)
	return st.Status
}

func TestCreatePending(t *testing.T) {
	f := newFixture(t)

	ex := f.create(t, true)

	assert.Equal(t, models.ExchangeStatusPending, ex.Status)
	assert.Equal(t, f.ownerID, ex.OwnerID)
	// Создание не бронирует объявления
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.listingID))
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.offeredID))
	assert.Equal(t, []string{events.ExchangeCreated}, f.dispatcher.types())
}

func TestCreateOwnListing(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Create(context.Background(), CreateInput{
		RequesterID: f.ownerID,
		ListingID:   f.listingID,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
}

func TestCreateUnavailableListing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.listings.Claim(context.Background(), f.listingID, uuid.New()))

	_, err := f.coord.Create(context.Background(), CreateInput{
		RequesterID: f.requesterID,
		ListingID:   f.listingID,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
}

func TestCreateOfferedNotOwned(t *testing.T) {
	f := newFixture(t)
	foreignID := uuid.New()
	f.listings.Put(ledger.ListingState{
		ID:      foreignID,
		OwnerID: uuid.New(),
		Status:  models.ListingStatusAvailable,
	})

	_, err := f.coord.Create(context.Background(), CreateInput{
		RequesterID:      f.requesterID,
		ListingID:        f.listingID,
		OfferedListingID: &foreignID,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
}

func TestCreateDuplicatePending(t *testing.T) {
	f := newFixture(t)
	f.create(t, false)

	_, err := f.coord.Create(context.Background(), CreateInput{
		RequesterID: f.requesterID,
		ListingID:   f.listingID,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestAcceptClaimsBothListings(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, true)

	accepted, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "Договорились")

	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusAccepted, accepted.Status)
	assert.Equal(t, "Договорились", accepted.Response)
	assert.Equal(t, models.ListingStatusReserved, f.listingStatus(t, f.listingID))
	assert.Equal(t, models.ListingStatusReserved, f.listingStatus(t, f.offeredID))
	assert.Equal(t, []string{events.ExchangeCreated, events.ExchangeAccepted}, f.dispatcher.types())
}

func TestAcceptByRequesterForbidden(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)

	_, err := f.coord.Accept(context.Background(), ex.ID, f.requesterID, "")

	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
}

func TestAcceptOfferedUnavailableRollsBack(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, true)

	// Предлагаемое объявление занято другим обменом к моменту принятия
	require.NoError(t, f.listings.Claim(context.Background(), f.offeredID, uuid.New()))

	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// Переход откачен целиком: обмен снова pending, основная бронь снята
	restored, ferr := f.store.Find(context.Background(), ex.ID)
	require.NoError(t, ferr)
	assert.Equal(t, models.ExchangeStatusPending, restored.Status)
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.listingID))
}

func TestDeclineStoresResponse(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)

	declined, err := f.coord.Decline(context.Background(), ex.ID, f.ownerID, "Книга уже обещана")

	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusDeclined, declined.Status)
	assert.Equal(t, "Книга уже обещана", declined.Response)
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.listingID))
}

func TestCancelPendingKeepsListingAvailable(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)

	cancelled, err := f.coord.Cancel(context.Background(), ex.ID, f.requesterID)

	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusCancelled, cancelled.Status)
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.listingID))
}

func TestCancelAcceptedReleasesListings(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, true)
	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)

	_, err = f.coord.Cancel(context.Background(), ex.ID, f.requesterID)

	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.listingID))
	assert.Equal(t, models.ListingStatusAvailable, f.listingStatus(t, f.offeredID))
}

func TestCancelAcceptedExpiredListing(t *testing.T) {
	// Срок объявления истек, пока обмен был в accepted: после отмены оно
	// уходит в expired, а не возвращается в выдачу
	f := newFixture(t)
	ex := f.create(t, false)
	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)

	f.clk.Advance(31 * 24 * time.Hour)

	_, err = f.coord.Cancel(context.Background(), ex.ID, f.requesterID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusExpired, f.listingStatus(t, f.listingID))
}

func TestDualConfirmationCompletes(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, true)
	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)

	first, err := f.coord.ConfirmCompletion(context.Background(), ex.ID, f.requesterID)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusAccepted, first.Status)

	second, err := f.coord.ConfirmCompletion(context.Background(), ex.ID, f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusCompleted, second.Status)
	require.NotNil(t, second.CompletedAt)

	// Оба объявления зафиксированы терминально
	assert.Equal(t, models.ListingStatusExchanged, f.listingStatus(t, f.listingID))
	assert.Equal(t, models.ListingStatusExchanged, f.listingStatus(t, f.offeredID))
	assert.Contains(t, f.dispatcher.types(), events.ExchangeCompleted)
}

// failingSettleLedger имитирует поломку инварианта брони внешней записью:
// фиксация одного из объявлений отказывает
type failingSettleLedger struct {
	*ledger.Memory
	failID uuid.UUID
}

func (l *failingSettleLedger) Settle(ctx context.Context, listingID, byExchangeID uuid.UUID) error {
	if listingID == l.failID {
		return apperr.Precondition("бронь не удерживается этим обменом")
	}
	return l.Memory.Settle(ctx, listingID, byExchangeID)
}

func TestSettleOfferedFailureRollsBackExchange(t *testing.T) {
	f := newFixture(t)
	coord := New(f.store, &failingSettleLedger{Memory: f.listings, failID: f.offeredID}, f.dispatcher, f.clk)

	ex := f.create(t, true)
	_, err := coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)
	_, err = coord.ConfirmCompletion(context.Background(), ex.ID, f.requesterID)
	require.NoError(t, err)

	_, err = coord.ConfirmCompletion(context.Background(), ex.ID, f.ownerID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	// Обмен возвращается к accepted с одним подтверждением: владелец
	// может повторить попытку после восстановления брони
	restored, ferr := f.store.Find(context.Background(), ex.ID)
	require.NoError(t, ferr)
	assert.Equal(t, models.ExchangeStatusAccepted, restored.Status)
	assert.True(t, restored.RequesterConfirmedCompletion)
	assert.False(t, restored.OwnerConfirmedCompletion)
	assert.Nil(t, restored.CompletedAt)
}

func TestConcurrentAcceptSecondExchangeLoses(t *testing.T) {
	// Два обмена на одно объявление: принятие второго после первого
	// проигрывает бронь и откатывается в pending
	f := newFixture(t)
	ex1 := f.create(t, false)

	otherRequester := uuid.New()
	ex2, err := f.coord.Create(context.Background(), CreateInput{
		RequesterID: otherRequester,
		ListingID:   f.listingID,
	})
	require.NoError(t, err)

	_, err = f.coord.Accept(context.Background(), ex1.ID, f.ownerID, "")
	require.NoError(t, err)

	_, err = f.coord.Accept(context.Background(), ex2.ID, f.ownerID, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	restored, ferr := f.store.Find(context.Background(), ex2.ID)
	require.NoError(t, ferr)
	assert.Equal(t, models.ExchangeStatusPending, restored.Status)

	// Бронь первого обмена не пострадала
	st, lerr := f.listings.Find(context.Background(), f.listingID)
	require.NoError(t, lerr)
	require.NotNil(t, st.ReservedBy)
	assert.Equal(t, ex1.ID, *st.ReservedBy)
}

func TestConcurrentAcceptSameExchange(t *testing.T) {
	// Две параллельные попытки принять один и тот же обмен: проходит
	// ровно одна, проигравшая после перечитывания получает недопустимый
	// переход, а не конфликт записи
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ex := f.create(t, false)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
			}(j)
		}
		wg.Wait()

		var wins, invalid int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case apperr.IsKind(err, apperr.KindInvalidTransition):
				invalid++
			default:
				t.Fatalf("неожиданная ошибка: %v", err)
			}
		}
		require.Equal(t, 1, wins)
		require.Equal(t, 1, invalid)

		// Бронь держит именно этот обмен, ровно один раз
		st, err := f.listings.Find(context.Background(), f.listingID)
		require.NoError(t, err)
		require.NotNil(t, st.ReservedBy)
		assert.Equal(t, ex.ID, *st.ReservedBy)
	}
}

func TestSetMeetup(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)
	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)

	lat, lon := 55.7558, 37.6173
	when := f.clk.Now().Add(48 * time.Hour)
	updated, err := f.coord.SetMeetup(context.Background(), ex.ID, f.requesterID, MeetupInput{
		Latitude:    &lat,
		Longitude:   &lon,
		Address:     "Метро Чистые пруды",
		ScheduledAt: &when,
	})

	require.NoError(t, err)
	assert.Equal(t, "Метро Чистые пруды", updated.MeetupAddress)
	require.NotNil(t, updated.MeetupScheduledAt)
	assert.Equal(t, when, *updated.MeetupScheduledAt)
}

func TestSetMeetupBeforeAccept(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)

	_, err := f.coord.SetMeetup(context.Background(), ex.ID, f.requesterID, MeetupInput{Address: "Где угодно"})

	assert.True(t, apperr.IsKind(err, apperr.KindInvalidTransition))
}

func TestSetMeetupByStranger(t *testing.T) {
	f := newFixture(t)
	ex := f.create(t, false)
	_, err := f.coord.Accept(context.Background(), ex.ID, f.ownerID, "")
	require.NoError(t, err)

	_, err = f.coord.SetMeetup(context.Background(), ex.ID, uuid.New(), MeetupInput{})

	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
}

func TestExpireSweep(t *testing.T) {
	f := newFixture(t)
	f.clk.Advance(31 * 24 * time.Hour)

	count, err := f.listings.ExpireDue(context.Background(), f.clk.Now())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, models.ListingStatusExpired, f.listingStatus(t, f.listingID))
}
