package apperr

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибки движка мира.
// Классификация определяет, как ошибка доводится до вызывающей стороны:
// ошибки валидации/состояния/конфликта всегда возвращаются клиенту с деталями,
// инфраструктурные ошибки фатальны для операции и не ретраятся автоматически.
type Kind int

const (
	// KindValidation — некорректные входные данные: нечисловые координаты,
	// неизвестный тег анимации/типа/материала, размер вне допустимого диапазона.
	KindValidation Kind = iota

	// KindNotFound — неизвестный идентификатор агента или структуры.
	KindNotFound

	// KindState — операция недопустима в текущем состоянии:
	// движение неактивного агента, follow самого себя, чужая структура.
	KindState

	// KindConflict — конфликт при записи: пересечение с существующей структурой.
	KindConflict

	// KindInfrastructure — недоступность хранилища или кеша.
	KindInfrastructure
)

// String возвращает строковое представление класса ошибки
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindConflict:
		return "conflict"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error представляет классифицированную ошибку движка.
// Сообщение должно указывать проблемное поле, чтобы клиент мог исправить запрос.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap возвращает обернутую ошибку для errors.Is/errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// New создает новую классифицированную ошибку
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает существующую ошибку с классификацией
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf возвращает класс ошибки. Для неклассифицированных ошибок
// возвращает KindInfrastructure — безопасный дефолт для неожиданных сбоев.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsNotFound проверяет, является ли ошибка ошибкой "не найдено"
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsState проверяет, является ли ошибка ошибкой состояния
func IsState(err error) bool { return is(err, KindState) }

// IsConflict проверяет, является ли ошибка конфликтом
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsInfrastructure проверяет, является ли ошибка инфраструктурной
func IsInfrastructure(err error) bool { return is(err, KindInfrastructure) }

func is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
