package exchange

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

func newExchange(status string) (*models.Exchange, uuid.UUID, uuid.UUID) {
	requesterID := uuid.New()
	ownerID := uuid.New()
	return &models.Exchange{
		ID:          uuid.New(),
		RequesterID: requesterID,
		OwnerID:     ownerID,
		ListingID:   uuid.New(),
		Status:      status,
	}, requesterID, ownerID
}

func TestApplyAcceptByOwner(t *testing.T) {
	ex, _, ownerID := newExchange(models.ExchangeStatusPending)
	now := time.Now()

	effect, err := Apply(ex, ActionAccept, ownerID, now)

	require.NoError(t, err)
	assert.Equal(t, EffectClaim, effect)
	assert.Equal(t, models.ExchangeStatusAccepted, ex.Status)
	assert.Equal(t, now, ex.UpdatedAt)
}

func TestApplyAcceptByRequesterForbidden(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusPending)

	_, err := Apply(ex, ActionAccept, requesterID, time.Now())

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
	// Агрегат не должен измениться при отклоненном действии
	assert.Equal(t, models.ExchangeStatusPending, ex.Status)
}

func TestApplyDeclineByOwner(t *testing.T) {
	ex, _, ownerID := newExchange(models.ExchangeStatusPending)

	effect, err := Apply(ex, ActionDecline, ownerID, time.Now())

	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)
	assert.Equal(t, models.ExchangeStatusDeclined, ex.Status)
}

func TestApplyDeclineByRequesterForbidden(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusPending)

	_, err := Apply(ex, ActionDecline, requesterID, time.Now())

	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
}

func TestApplyCancelPending(t *testing.T) {
	// Отменить ожидающий обмен может любой из участников
	for _, role := range []string{"requester", "owner"} {
		ex, requesterID, ownerID := newExchange(models.ExchangeStatusPending)
		actorID := requesterID
		if role == "owner" {
			actorID = ownerID
		}

		effect, err := Apply(ex, ActionCancel, actorID, time.Now())

		require.NoError(t, err, role)
		assert.Equal(t, EffectNone, effect, role)
		assert.Equal(t, models.ExchangeStatusCancelled, ex.Status, role)
	}
}

func TestApplyCancelAcceptedReleases(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusAccepted)

	effect, err := Apply(ex, ActionCancel, requesterID, time.Now())

	require.NoError(t, err)
	assert.Equal(t, EffectRelease, effect)
	assert.Equal(t, models.ExchangeStatusCancelled, ex.Status)
}

func TestApplyNonParticipant(t *testing.T) {
	ex, _, _ := newExchange(models.ExchangeStatusPending)

	_, err := Apply(ex, ActionCancel, uuid.New(), time.Now())

	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
}

func TestApplyConfirmMeetupSetsOwnFlag(t *testing.T) {
	ex, requesterID, ownerID := newExchange(models.ExchangeStatusAccepted)

	effect, err := Apply(ex, ActionConfirmMeetup, requesterID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)
	assert.True(t, ex.RequesterConfirmedMeetup)
	assert.False(t, ex.OwnerConfirmedMeetup)

	_, err = Apply(ex, ActionConfirmMeetup, ownerID, time.Now())
	require.NoError(t, err)
	assert.True(t, ex.OwnerConfirmedMeetup)
}

func TestApplyConfirmMeetupIdempotent(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusAccepted)

	_, err := Apply(ex, ActionConfirmMeetup, requesterID, time.Now())
	require.NoError(t, err)

	// Повторная установка собственного флага не является ошибкой
	_, err = Apply(ex, ActionConfirmMeetup, requesterID, time.Now())
	require.NoError(t, err)
	assert.True(t, ex.RequesterConfirmedMeetup)
}

func TestApplyConfirmCompletionSingle(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusAccepted)

	effect, err := Apply(ex, ActionConfirmCompletion, requesterID, time.Now())

	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)
	// Одного подтверждения недостаточно для завершения
	assert.Equal(t, models.ExchangeStatusAccepted, ex.Status)
	assert.Nil(t, ex.CompletedAt)
}

func TestApplyConfirmCompletionDual(t *testing.T) {
	ex, requesterID, ownerID := newExchange(models.ExchangeStatusAccepted)
	now := time.Now()

	_, err := Apply(ex, ActionConfirmCompletion, requesterID, now)
	require.NoError(t, err)

	effect, err := Apply(ex, ActionConfirmCompletion, ownerID, now.Add(time.Minute))
	require.NoError(t, err)

	// Второе подтверждение завершает обмен атомарно с установкой флага
	assert.Equal(t, EffectSettle, effect)
	assert.Equal(t, models.ExchangeStatusCompleted, ex.Status)
	require.NotNil(t, ex.CompletedAt)
	assert.Equal(t, now.Add(time.Minute), *ex.CompletedAt)
}

func TestApplyTerminalStatusesReject(t *testing.T) {
	actions := []Action{ActionAccept, ActionDecline, ActionCancel, ActionConfirmMeetup, ActionConfirmCompletion}
	for _, status := range []string{
		models.ExchangeStatusDeclined,
		models.ExchangeStatusCompleted,
		models.ExchangeStatusCancelled,
	} {
		for _, action := range actions {
			ex, _, ownerID := newExchange(status)

			_, err := Apply(ex, action, ownerID, time.Now())

			require.Error(t, err, "%s + %s", status, action)
			assert.True(t, apperr.IsKind(err, apperr.KindInvalidTransition), "%s + %s", status, action)
			assert.Equal(t, status, ex.Status)
		}
	}
}

func TestApplyConfirmBeforeAccept(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusPending)

	_, err := Apply(ex, ActionConfirmMeetup, requesterID, time.Now())

	assert.True(t, apperr.IsKind(err, apperr.KindInvalidTransition))
}

func TestAvailableActionsPending(t *testing.T) {
	ex, requesterID, ownerID := newExchange(models.ExchangeStatusPending)

	assert.ElementsMatch(t, []Action{ActionAccept, ActionDecline, ActionCancel}, AvailableActions(ex, ownerID))
	assert.ElementsMatch(t, []Action{ActionCancel}, AvailableActions(ex, requesterID))
	assert.Nil(t, AvailableActions(ex, uuid.New()))
}

func TestAvailableActionsAccepted(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusAccepted)

	assert.ElementsMatch(t,
		[]Action{ActionConfirmMeetup, ActionConfirmCompletion, ActionCancel},
		AvailableActions(ex, requesterID))

	// Уже выставленные собственные подтверждения из списка уходят
	ex.RequesterConfirmedMeetup = true
	assert.ElementsMatch(t,
		[]Action{ActionConfirmCompletion, ActionCancel},
		AvailableActions(ex, requesterID))
}

func TestAvailableActionsTerminal(t *testing.T) {
	ex, requesterID, _ := newExchange(models.ExchangeStatusCompleted)

	assert.Empty(t, AvailableActions(ex, requesterID))
}
