// Package message определяет модель данных шины: идентичность сообщения,
// уровень гарантии доставки (QoS), типизированный результат обработки и
// конверт для передачи через транспорт.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/x-research-team/qbus/id"
)

// QoS определяет уровень гарантии доставки сообщения.
type QoS uint8

const (
	// AtMostOnce — доставка "не более одного раза": публикация без подтверждения,
	// без повторов; допускается потеря сообщения.
	AtMostOnce QoS = iota
	// AtLeastOnce — доставка "не менее одного раза": публикация через outbox
	// с подтверждением и повторами; допускаются дубликаты.
	AtLeastOnce
	// ExactlyOnce — доставка "ровно один раз" в пределах окон дедупликации:
	// outbox на стороне издателя плюс дедупликация на стороне потребителя.
	ExactlyOnce
)

// String возвращает строковое представление уровня QoS.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("qos(%d)", uint8(q))
	}
}

// Identity содержит идентичность сообщения: уникальный идентификатор,
// корреляционную цепочку и уровень QoS. Значение неизменяемо после создания.
type Identity struct {
	// ID — уникальный, монотонно возрастающий идентификатор сообщения.
	ID uint64
	// CorrelationID связывает все сообщения одной бизнес-операции.
	CorrelationID string
	// CausationID содержит идентификатор сообщения, породившего данное.
	// Пустая строка означает корневое сообщение.
	CausationID string
	// CreatedAt — момент создания идентичности.
	CreatedAt time.Time
	// QoS — требуемый уровень гарантии доставки.
	QoS QoS
}

// DedupKey возвращает ключ дедупликации, производный от идентификатора сообщения.
func (i Identity) DedupKey() string {
	return fmt.Sprintf("%d", i.ID)
}

// Identified определяет интерфейс для сообщений, несущих собственную идентичность.
// Middleware наблюдаемости используют его для извлечения атрибутов без рефлексии.
type Identified interface {
	MessageIdentity() Identity
}

// Factory создает идентичности сообщений на основе генератора идентификаторов.
type Factory struct {
	gen *id.Generator
}

// NewFactory создает новую фабрику идентичностей.
func NewFactory(gen *id.Generator) *Factory {
	return &Factory{gen: gen}
}

// New создает корневую идентичность с новым correlation-id.
func (f *Factory) New(qos QoS) (Identity, error) {
	next, err := f.gen.NextID()
	if err != nil {
		return Identity{}, fmt.Errorf("не удалось сгенерировать идентификатор сообщения: %w", err)
	}

	return Identity{
		ID:            next,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		QoS:           qos,
	}, nil
}

// Derive создает идентичность, причинно связанную с родительской: correlation-id
// наследуется, causation-id указывает на родителя.
func (f *Factory) Derive(parent Identity, qos QoS) (Identity, error) {
	next, err := f.gen.NextID()
	if err != nil {
		return Identity{}, fmt.Errorf("не удалось сгенерировать идентификатор сообщения: %w", err)
	}

	return Identity{
		ID:            next,
		CorrelationID: parent.CorrelationID,
		CausationID:   parent.DedupKey(),
		CreatedAt:     time.Now().UTC(),
		QoS:           qos,
	}, nil
}
