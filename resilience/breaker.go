// Package resilience содержит процесс-локальные примитивы устойчивости:
// circuit breaker для изоляции отказывающего транспорта и ограничитель
// параллелизма для операций обработки и публикации.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State определяет состояние circuit breaker.
type State uint8

const (
	// Closed — нормальный режим: вызовы проходят, отказы подсчитываются.
	Closed State = iota
	// Open — защитный режим: вызовы отклоняются без обращения к зависимости.
	Open
	// HalfOpen — пробный режим: разрешен ровно один зондирующий вызов.
	HalfOpen
)

// String возвращает строковое представление состояния.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen возвращается, когда breaker разомкнут и вызов отклонен
// без обращения к зависимости.
var ErrOpen = errors.New("resilience: circuit breaker разомкнут")

// StateChangeHook вызывается при каждом переходе состояния breaker.
// Используется внешним коллаборатором наблюдаемости.
type StateChangeHook func(from, to State)

// Breaker реализует конечный автомат circuit breaker:
// Closed -> Open при достижении порога последовательных отказов;
// Open -> HalfOpen по истечении периода охлаждения;
// HalfOpen -> Closed при успехе зонда, HalfOpen -> Open при его отказе.
type Breaker struct {
	mu sync.Mutex

	state    State
	failures int
	openedAt time.Time
	probing  bool

	threshold int
	coolDown  time.Duration
	onChange  StateChangeHook
	now       func() time.Time
}

// BreakerOption определяет тип для функциональных опций breaker.
type BreakerOption func(*Breaker)

// WithStateChangeHook устанавливает хук переходов состояния.
func WithStateChangeHook(hook StateChangeHook) BreakerOption {
	return func(b *Breaker) {
		b.onChange = hook
	}
}

// WithBreakerClock подменяет источник времени. Используется в тестах.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker создает breaker с указанным порогом последовательных отказов
// и периодом охлаждения.
func NewBreaker(threshold int, coolDown time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     Closed,
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do выполняет fn под защитой breaker. В состоянии Open вызов завершается
// ErrOpen без обращения к fn. Контекст передается в fn без изменений.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// allow решает, пропускать ли очередной вызов.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false
		}
		b.transition(HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		// В полуоткрытом состоянии разрешен ровно один зонд.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// record фиксирует исход выполненного вызова.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probing = false
		if success {
			b.failures = 0
			b.transition(Closed)
		} else {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case Closed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	}
}

// transition переводит автомат в новое состояние и уведомляет хук.
// Вызывается только под мьютексом.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
