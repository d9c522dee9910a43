// Package id реализует распределенный генератор 64-битных идентификаторов
// в стиле Snowflake. Идентификаторы монотонно возрастают в рамках одного
// экземпляра генератора и уникальны между экземплярами при условии
// уникальности worker-id, за которую отвечает оператор.
package id

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	// timestampBits определяет количество бит под смещение времени в миллисекундах.
	timestampBits = 41
	// workerBits определяет количество бит под идентификатор воркера.
	workerBits = 8
	// sequenceBits определяет количество бит под последовательность внутри миллисекунды.
	sequenceBits = 14

	// MaxWorkerID — максимально допустимый идентификатор воркера.
	MaxWorkerID = 1<<workerBits - 1
	// maxSequence — максимальное значение последовательности внутри одной миллисекунды.
	maxSequence = 1<<sequenceBits - 1

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits
)

// ErrClockSkew возвращается, когда системные часы ушли назад дальше допустимого
// порога. Ошибка фатальна для экземпляра генератора: продолжение выдачи
// идентификаторов нарушило бы их монотонность.
var ErrClockSkew = errors.New("id: обнаружен откат системных часов за пределы допуска")

// defaultEpoch — начало отсчета времени генератора: 2024-01-01T00:00:00Z.
const defaultEpoch = int64(1704067200000)

// Generator — потокобезопасный генератор идентификаторов. Горячий путь
// использует единственный CAS-цикл над упакованным словом (timestamp, sequence),
// без мьютексов.
type Generator struct {
	workerID  uint64
	epoch     int64
	tolerance int64

	// state хранит упакованное слово: [timestamp << sequenceBits | sequence].
	state atomic.Uint64

	now func() time.Time
}

// Option определяет тип для функциональных опций генератора.
type Option func(*Generator)

// WithEpoch устанавливает пользовательское начало отсчета времени.
func WithEpoch(epoch time.Time) Option {
	return func(g *Generator) {
		g.epoch = epoch.UnixMilli()
	}
}

// WithClockTolerance устанавливает допустимую величину отката часов,
// в пределах которой генератор продолжает работу на последней известной
// метке времени.
func WithClockTolerance(d time.Duration) Option {
	return func(g *Generator) {
		g.tolerance = d.Milliseconds()
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator создает новый экземпляр генератора для указанного workerID.
// Генератор не координирует выделение worker-id: уникальность значений между
// экземплярами — контракт вызывающей стороны.
func NewGenerator(workerID uint64, opts ...Option) (*Generator, error) {
	if workerID > MaxWorkerID {
		return nil, fmt.Errorf("id: workerID %d превышает максимум %d", workerID, MaxWorkerID)
	}

	g := &Generator{
		workerID:  workerID,
		epoch:     defaultEpoch,
		tolerance: (5 * time.Millisecond).Milliseconds(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// NextID возвращает следующий уникальный идентификатор. Метод безопасен для
// конкурентного вызова из множества горутин. При переполнении последовательности
// внутри одной миллисекунды выполняется активное ожидание следующей миллисекунды.
func (g *Generator) NextID() (uint64, error) {
	for {
		state := g.state.Load()
		lastTS := int64(state >> sequenceBits)
		seq := state & maxSequence

		now := g.now().UnixMilli() - g.epoch

		var candidate uint64
		switch {
		case now > lastTS:
			// Время продвинулось вперед: последовательность начинается заново.
			candidate = uint64(now) << sequenceBits
		case now == lastTS:
			if seq == maxSequence {
				// Последовательность исчерпана: ждем следующую миллисекунду.
				runtime.Gosched()
				continue
			}
			candidate = state + 1
		default:
			if lastTS-now > g.tolerance {
				return 0, fmt.Errorf("%w: откат на %d мс", ErrClockSkew, lastTS-now)
			}
			// Откат в пределах допуска: продолжаем на последней метке времени.
			if seq == maxSequence {
				runtime.Gosched()
				continue
			}
			candidate = state + 1
		}

		if g.state.CompareAndSwap(state, candidate) {
			ts := candidate >> sequenceBits
			seq := candidate & maxSequence
			return ts<<timestampShift | g.workerID<<workerShift | seq, nil
		}
	}
}

// WorkerID возвращает идентификатор воркера, с которым был создан генератор.
func (g *Generator) WorkerID() uint64 {
	return g.workerID
}

// Decode разбирает идентификатор на составные части: момент создания,
// идентификатор воркера и номер в последовательности.
func (g *Generator) Decode(id uint64) (createdAt time.Time, workerID uint64, sequence uint64) {
	ts := int64(id >> timestampShift)
	return time.UnixMilli(g.epoch + ts), (id >> workerShift) & MaxWorkerID, id & maxSequence
}
