// Package qos отображает декларативный уровень гарантии доставки (QoS) на
// конкретную комбинацию механизмов: способ постановки в очередь (прямая
// публикация или outbox), необходимость подтверждений и стратегию дедупликации.
// Выбор стратегии зависит от возможностей транспорта: транспорт с нативным
// окном дедупликации освобождает потребителя от ведения inbox.
package qos

import (
	"fmt"

	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/transport"
)

// Staging определяет способ постановки сообщения в очередь на публикацию.
type Staging uint8

const (
	// StagingDirect — прямая публикация в транспорт без фиксации.
	StagingDirect Staging = iota
	// StagingOutbox — фиксация в outbox с последующей фоновой публикацией.
	StagingOutbox
)

// String возвращает строковое представление способа постановки.
func (s Staging) String() string {
	switch s {
	case StagingDirect:
		return "direct"
	case StagingOutbox:
		return "outbox"
	default:
		return fmt.Sprintf("staging(%d)", uint8(s))
	}
}

// Policy — план доставки для конкретного уровня QoS: комбинация механизмов,
// которую исполняют издатель и потребитель.
type Policy struct {
	// QoS — уровень гарантии, для которого построен план.
	QoS message.QoS
	// Staging — способ постановки сообщения в очередь.
	Staging Staging
	// Ack указывает, требуется ли подтверждение доставки потребителем.
	Ack bool
	// TransportDedup указывает, что издатель передает транспорту ключ
	// дедупликации для его нативного окна.
	TransportDedup bool
	// InboxDedup указывает, что потребитель ведет дедупликацию через inbox.
	InboxDedup bool
}

// Plan строит план доставки для уровня QoS с учетом возможностей транспорта.
//
// At-most-once: прямая публикация, без подтверждений и дедупликации —
// потеря сообщения допустима, дубликаты исключены по построению.
//
// At-least-once: outbox с повторами и подтверждение потребителем —
// потеря исключена, дубликаты допустимы.
//
// Exactly-once: at-least-once плюс дедупликация на обоих концах. Потребитель
// всегда ведет inbox; если транспорт объявляет нативное окно дедупликации
// (DedupCapable), издатель дополнительно передает ему ключ. Слои кооперируют:
// итоговая гарантия ограничена более слабым из окна транспорта и срока
// хранения inbox, поэтому ни один слой не отключает другой.
func Plan(qos message.QoS, t transport.Transport) Policy {
	switch qos {
	case message.AtMostOnce:
		return Policy{
			QoS:     qos,
			Staging: StagingDirect,
			Ack:     false,
		}
	case message.AtLeastOnce:
		return Policy{
			QoS:     qos,
			Staging: StagingOutbox,
			Ack:     true,
		}
	case message.ExactlyOnce:
		transportDedup := false
		if capable, ok := t.(transport.DedupCapable); ok && capable.DedupWindow() > 0 {
			transportDedup = true
		}
		return Policy{
			QoS:            qos,
			Staging:        StagingOutbox,
			Ack:            true,
			TransportDedup: transportDedup,
			InboxDedup:     true,
		}
	default:
		// Неизвестный уровень трактуется как самый строгий.
		return Plan(message.ExactlyOnce, t)
	}
}
