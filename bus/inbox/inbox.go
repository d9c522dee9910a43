// Package inbox реализует дедупликацию на стороне потребителя: каждое входящее
// сообщение регистрируется атомарной операцией "начать обработку", и повторная
// доставка того же сообщения либо подавляется с выдачей сохраненного результата,
// либо отклоняется, пока первая обработка не завершилась. Вместе с outbox
// издателя это дает гарантию "ровно один раз" в пределах окна хранения.
package inbox

import (
	"context"
	"fmt"
	"time"
)

// Status определяет состояние записи inbox.
type Status uint8

const (
	// StatusProcessing — сообщение захвачено потребителем и обрабатывается.
	StatusProcessing Status = iota
	// StatusCompleted — обработка завершена, результат сохранен.
	StatusCompleted
	// StatusFailed — обработка завершилась ошибкой; сообщение подлежит
	// повторной обработке.
	StatusFailed
)

// String возвращает строковое представление статуса.
func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Record представляет одну запись inbox.
type Record struct {
	// MessageID — уникальный идентификатор сообщения.
	MessageID uint64
	// Status — текущее состояние обработки.
	Status Status
	// FirstSeenAt — момент первой доставки сообщения.
	FirstSeenAt time.Time
	// Result — сериализованный результат завершенной обработки.
	Result []byte
}

// Outcome определяет решение inbox по входящему сообщению.
type Outcome uint8

const (
	// Proceed — сообщение видится впервые, потребитель должен обработать его.
	Proceed Outcome = iota
	// CachedResult — сообщение уже обработано, сохраненный результат
	// возвращается без повторного вызова обработчика.
	CachedResult
	// AlreadyInProgress — сообщение обрабатывается другим потребителем;
	// доставку следует отклонить для повторной попытки позже.
	AlreadyInProgress
)

// String возвращает строковое представление решения.
func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case CachedResult:
		return "cached-result"
	case AlreadyInProgress:
		return "already-in-progress"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Decision — результат атомарной регистрации входящего сообщения.
type Decision struct {
	// Outcome — решение по сообщению.
	Outcome Outcome
	// Result содержит сохраненный результат при Outcome == CachedResult.
	Result []byte
}

// Store определяет контракт хранилища inbox. Операция TryBegin должна быть
// атомарной: из N конкурентных вызовов с одним идентификатором ровно один
// получает Proceed.
type Store interface {
	// TryBegin атомарно регистрирует начало обработки сообщения.
	// Для нового сообщения создается запись processing и возвращается Proceed.
	// Для завершенного — CachedResult с сохраненным результатом.
	// Для обрабатываемого — AlreadyInProgress; если обработка длится дольше
	// таймаута, запись перезахватывается и возвращается Proceed.
	TryBegin(ctx context.Context, messageID uint64) (Decision, error)

	// Complete фиксирует успешное завершение обработки и сохраняет результат.
	Complete(ctx context.Context, messageID uint64, result []byte) error

	// Fail фиксирует отказ обработки; сообщение становится доступным
	// для повторной обработки.
	Fail(ctx context.Context, messageID uint64) error

	// Sweep удаляет записи старше окна хранения и возвращает их количество.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}
