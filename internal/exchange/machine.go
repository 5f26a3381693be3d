package exchange

import (
	"time"

	"github.com/google/uuid"

	"github.com/knigoswap/knigoswap-api/internal/apperr"
	"github.com/knigoswap/knigoswap-api/internal/models"
)

// Action — действие над обменом
type Action string

const (
	ActionAccept            Action = "accept"
	ActionDecline           Action = "decline"
	ActionCancel            Action = "cancel"
	ActionConfirmMeetup     Action = "confirm_meetup"
	ActionConfirmCompletion Action = "confirm_completion"
)

// Effect — побочный эффект перехода по объявлениям обмена.
// Координатор выполняет его в одной единице работы с записью статуса.
type Effect int

const (
	// EffectNone — переход без побочных эффектов
	EffectNone Effect = iota
	// EffectClaim — бронирование объявлений (pending → accepted)
	EffectClaim
	// EffectRelease — снятие брони (accepted → cancelled)
	EffectRelease
	// EffectSettle — окончательная фиксация (accepted → completed)
	EffectSettle
)

// Apply применяет действие к агрегату обмена. Агрегат мутируется на месте,
// но только при успешном переходе; при ошибке он остается нетронутым.
// Возвращаемый Effect сообщает координатору, какую операцию над
// объявлениями нужно выполнить в той же единице работы.
//
// Таблица переходов:
//
//	pending  + accept (владелец)              → accepted  (бронь)
//	pending  + decline (владелец)             → declined
//	pending  + cancel (любой участник)        → cancelled
//	accepted + confirm_meetup (участник)      → accepted  (свой флаг)
//	accepted + confirm_completion (участник)  → accepted либо completed (фиксация)
//	accepted + cancel (любой участник)        → cancelled (снятие брони)
//
// Любое другое сочетание — InvalidTransition.
func Apply(ex *models.Exchange, action Action, actorID uuid.UUID, now time.Time) (Effect, error) {
	if !ex.IsParticipant(actorID) {
		return EffectNone, apperr.Authorization("пользователь не является участником обмена")
	}

	switch ex.Status {
	case models.ExchangeStatusPending:
		switch action {
		case ActionAccept:
			if actorID != ex.OwnerID {
				return EffectNone, apperr.Authorization("принять обмен может только владелец объявления")
			}
			ex.Status = models.ExchangeStatusAccepted
			ex.UpdatedAt = now
			return EffectClaim, nil

		case ActionDecline:
			if actorID != ex.OwnerID {
				return EffectNone, apperr.Authorization("отклонить обмен может только владелец объявления")
			}
			ex.Status = models.ExchangeStatusDeclined
			ex.UpdatedAt = now
			return EffectNone, nil

		case ActionCancel:
			ex.Status = models.ExchangeStatusCancelled
			ex.UpdatedAt = now
			return EffectNone, nil
		}

	case models.ExchangeStatusAccepted:
		switch action {
		case ActionConfirmMeetup:
			// Повторная установка собственного флага — не ошибка
			if actorID == ex.RequesterID {
				ex.RequesterConfirmedMeetup = true
			} else {
				ex.OwnerConfirmedMeetup = true
			}
			ex.UpdatedAt = now
			return EffectNone, nil

		case ActionConfirmCompletion:
			if actorID == ex.RequesterID {
				ex.RequesterConfirmedCompletion = true
			} else {
				ex.OwnerConfirmedCompletion = true
			}
			ex.UpdatedAt = now
			// Переход в completed происходит атомарно с установкой флага:
			// нет окна, где оба флага true, а статус еще accepted
			if ex.RequesterConfirmedCompletion && ex.OwnerConfirmedCompletion {
				ex.Status = models.ExchangeStatusCompleted
				completedAt := now
				ex.CompletedAt = &completedAt
				return EffectSettle, nil
			}
			return EffectNone, nil

		case ActionCancel:
			ex.Status = models.ExchangeStatusCancelled
			ex.UpdatedAt = now
			return EffectRelease, nil
		}
	}

	// Терминальные статусы и все не вошедшие в таблицу сочетания
	return EffectNone, apperr.InvalidTransition(ex.Status, string(action))
}

// AvailableActions возвращает действия, доступные пользователю прямо сейчас.
// Используется клиентом для отображения кнопок. Подтверждения, уже
// выставленные этим участником, в список не попадают (повторный вызов был
// бы холостым).
func AvailableActions(ex *models.Exchange, actorID uuid.UUID) []Action {
	if !ex.IsParticipant(actorID) {
		return nil
	}

	var actions []Action
	switch ex.Status {
	case models.ExchangeStatusPending:
		if actorID == ex.OwnerID {
			actions = append(actions, ActionAccept, ActionDecline)
		}
		actions = append(actions, ActionCancel)

	case models.ExchangeStatusAccepted:
		meetupConfirmed := ex.OwnerConfirmedMeetup
		completionConfirmed := ex.OwnerConfirmedCompletion
		if actorID == ex.RequesterID {
			meetupConfirmed = ex.RequesterConfirmedMeetup
			completionConfirmed = ex.RequesterConfirmedCompletion
		}
		if !meetupConfirmed {
			actions = append(actions, ActionConfirmMeetup)
		}
		if !completionConfirmed {
			actions = append(actions, ActionConfirmCompletion)
		}
		actions = append(actions, ActionCancel)
	}
	return actions
}
