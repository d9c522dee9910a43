// Package outbox реализует паттерн "исходящие сообщения": публикация сообщения
// сначала атомарно фиксируется в хранилище, а фоновый диспетчер доводит его до
// транспорта с повторами и экспоненциальной задержкой. Это основа гарантии
// доставки "не менее одного раза".
package outbox

import (
	"fmt"
	"time"
)

// Status определяет состояние записи outbox.
type Status uint8

const (
	// StatusPending — запись ожидает публикации.
	StatusPending Status = iota
	// StatusDispatching — запись захвачена диспетчером и публикуется.
	StatusDispatching
	// StatusPublished — запись успешно опубликована в транспорт.
	StatusPublished
	// StatusDead — запись исчерпала лимит попыток и перемещена в dead-letter.
	StatusDead
)

// String возвращает строковое представление статуса.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatching:
		return "dispatching"
	case StatusPublished:
		return "published"
	case StatusDead:
		return "dead"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Record представляет одну запись outbox: сериализованное сообщение вместе
// с состоянием его доставки.
type Record struct {
	// MessageID — уникальный идентификатор сообщения.
	MessageID uint64
	// Destination — адрес назначения в транспорте (топик).
	Destination string
	// Payload — сериализованная полезная нагрузка.
	Payload []byte
	// Metadata — метаданные сообщения (контекст трассировки и пр.).
	Metadata map[string]string
	// DedupKey — ключ дедупликации для гарантии exactly-once; пустая строка
	// означает, что дедупликация на стороне транспорта не требуется.
	DedupKey string
	// Status — текущее состояние доставки.
	Status Status
	// Attempts — количество выполненных попыток публикации.
	Attempts int
	// NextAttemptAt — момент, раньше которого запись не подлежит захвату.
	NextAttemptAt time.Time
	// CreatedAt — момент фиксации записи.
	CreatedAt time.Time
	// PublishedAt — момент успешной публикации; нулевое значение для
	// неопубликованных записей.
	PublishedAt time.Time
	// LastError — текст последней ошибки публикации.
	LastError string
}
