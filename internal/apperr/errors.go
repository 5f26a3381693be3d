package apperr

import (
	"errors"
	"fmt"
)

// Kind определяет категорию ошибки доменного уровня
type Kind int

const (
	// KindBadRequest — некорректный или семантически неверный запрос
	KindBadRequest Kind = iota
	// KindAuthorization — действие запрещено для данной роли
	KindAuthorization
	// KindNotFound — запрошенный объект не существует
	KindNotFound
	// KindInvalidTransition — действие недопустимо из текущего статуса обмена
	KindInvalidTransition
	// KindConflict — проигрыш конкурентной гонки или дубликат
	KindConflict
	// KindPrecondition — нарушение внутреннего инварианта
	KindPrecondition
)

// Error представляет типизированную ошибку доменного уровня
type Error struct {
	Kind    Kind
	Message string
	// Status и Action заполняются только для KindInvalidTransition,
	// чтобы клиент мог синхронизировать своё представление
	Status string
	Action string
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidTransition && e.Status != "" {
		return fmt.Sprintf("%s (статус: %s, действие: %s)", e.Message, e.Status, e.Action)
	}
	return e.Message
}

// BadRequest создает ошибку некорректного запроса
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Authorization создает ошибку доступа
func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// NotFound создает ошибку отсутствия объекта
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition создает ошибку недопустимого перехода статуса
func InvalidTransition(status, action string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: "действие недопустимо из текущего статуса обмена",
		Status:  status,
		Action:  action,
	}
}

// Conflict создает ошибку конкурентного конфликта
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Precondition создает ошибку нарушенного инварианта
func Precondition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// IsKind проверяет, относится ли ошибка к указанной категории
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus возвращает HTTP-код для категории ошибки. Нетипизированные
// ошибки отображаются в 500.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return 500
	}
	switch kind {
	case KindBadRequest:
		return 400
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindInvalidTransition, KindConflict:
		return 409
	case KindPrecondition:
		return 422
	}
	return 500
}

// KindOf возвращает категорию ошибки; ok=false для нетипизированных ошибок
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
