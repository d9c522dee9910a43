// Package transport определяет абстрактный контракт транспорта сообщений.
// Ядро шины никогда не предполагает конкретный проводной формат: реализация
// (in-memory, Kafka, иной брокер) подбирается при конфигурации и заполняет
// транспортно-нативные примитивы подтверждения и дедупликации.
package transport

import (
	"context"
	"time"

	"github.com/x-research-team/qbus/bus/message"
)

// PublishHint передает транспорту требования к публикации: уровень QoS
// и ключ дедупликации для транспортов с нативным окном дедупликации.
type PublishHint struct {
	QoS      message.QoS
	DedupKey string
}

// Token — непрозрачный маркер доставки, используемый для подтверждения.
type Token any

// Delivery представляет доставленное сообщение и маркер для его подтверждения.
type Delivery struct {
	Destination string
	Payload     []byte
	Token       Token
}

// Handler — функция-обработчик входящей доставки.
type Handler func(ctx context.Context, d Delivery)

// Publisher определяет контракт публикации.
type Publisher interface {
	// Publish отправляет сообщение по адресу назначения. Возврат без ошибки
	// означает подтверждение транспортом в соответствии с уровнем QoS подсказки.
	Publish(ctx context.Context, destination string, payload []byte, hint PublishHint) error
}

// Subscriber определяет контракт подписки.
type Subscriber interface {
	// Subscribe подписывает обработчик на адрес назначения.
	// Возвращает функцию остановки подписки.
	Subscribe(ctx context.Context, destination string, h Handler) (stop func(), err error)
}

// Acker определяет контракт подтверждения доставок.
type Acker interface {
	// Ack подтверждает успешную обработку доставки.
	Ack(token Token) error

	// Nack отклоняет доставку; транспорт выполняет повторную доставку.
	Nack(token Token) error
}

// Transport объединяет полный контракт транспорта.
type Transport interface {
	Publisher
	Subscriber
	Acker
}

// DedupCapable объявляет наличие у транспорта нативного окна дедупликации
// по ключу из PublishHint. Маппер QoS делегирует дедупликацию транспорту,
// когда тот реализует данный интерфейс, и откатывается на outbox/inbox
// в противном случае.
type DedupCapable interface {
	// DedupWindow возвращает длительность окна дедупликации.
	DedupWindow() time.Duration
}
