package message

// ErrorCode классифицирует ожидаемые отказы обработки сообщения.
// Бизнес-отказы переносятся в значении Result и никогда не пересекают
// границу шины в виде ошибок; ошибки зарезервированы за инфраструктурными
// сбоями (недоступность хранилища, порча сериализации).
type ErrorCode uint8

const (
	// CodeNone означает отсутствие отказа.
	CodeNone ErrorCode = iota
	// CodeValidationFailed — сообщение не прошло валидацию.
	CodeValidationFailed
	// CodeHandlerNotFound — для типа сообщения не зарегистрирован обработчик.
	CodeHandlerNotFound
	// CodeHandlerFailed — обработчик сообщил о бизнес-отказе.
	CodeHandlerFailed
	// CodeTimeout — обработка не уложилась в отведенное время.
	CodeTimeout
	// CodeTransportUnavailable — транспорт недоступен (разомкнут circuit breaker).
	CodeTransportUnavailable
	// CodeDuplicateSuppressed — дубликат подавлен и возвращен закешированный
	// результат. Это не отказ, а успешное короткое замыкание.
	CodeDuplicateSuppressed
)

// String возвращает строковое представление кода отказа.
func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeValidationFailed:
		return "validation_failed"
	case CodeHandlerNotFound:
		return "handler_not_found"
	case CodeHandlerFailed:
		return "handler_failed"
	case CodeTimeout:
		return "timeout"
	case CodeTransportUnavailable:
		return "transport_unavailable"
	case CodeDuplicateSuppressed:
		return "duplicate_suppressed"
	default:
		return "unknown"
	}
}

// Result представляет собой размеченный исход обработки сообщения.
// Значение с Success=false описывает ожидаемый бизнес-отказ; такие исходы
// возвращаются вызывающей стороне синхронно и никогда не выбрасываются.
type Result[R any] struct {
	// Success указывает, завершилась ли обработка успешно.
	Success bool `json:"success"`
	// Value содержит полезный результат при Success=true.
	Value R `json:"value"`
	// Code классифицирует отказ или короткое замыкание.
	Code ErrorCode `json:"code"`
	// Message содержит человекочитаемое описание отказа.
	Message string `json:"message,omitempty"`
}

// Ok создает успешный результат с указанным значением.
func Ok[R any](value R) Result[R] {
	return Result[R]{Success: true, Value: value}
}

// Fail создает результат-отказ с указанным кодом и описанием.
func Fail[R any](code ErrorCode, msg string) Result[R] {
	return Result[R]{Success: false, Code: code, Message: msg}
}

// Duplicate помечает результат как возвращенный из кеша дедупликации.
// Success сохраняется от исходного результата.
func Duplicate[R any](cached Result[R]) Result[R] {
	cached.Code = CodeDuplicateSuppressed
	return cached
}
