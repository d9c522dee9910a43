package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore — внутрипроцессная реализация Store. Используется в тестах
// и в конфигурациях без требования долговечности между перезапусками.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uint64]*Record

	// startedAt хранит момент захвата processing-записей для перезахвата
	// после сбоя потребителя.
	startedAt map[uint64]time.Time

	processingTimeout time.Duration
	now               func() time.Time
}

// MemoryStoreOption определяет тип для функциональных опций хранилища.
type MemoryStoreOption func(*MemoryStore)

// WithProcessingTimeout устанавливает таймаут, после которого processing-запись
// считается брошенной и подлежит перезахвату.
func WithProcessingTimeout(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.processingTimeout = d
	}
}

// WithStoreClock подменяет источник времени. Используется в тестах.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore создает новое внутрипроцессное хранилище inbox.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records:           make(map[uint64]*Record),
		startedAt:         make(map[uint64]time.Time),
		processingTimeout: time.Minute,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryBegin атомарно регистрирует начало обработки сообщения.
func (s *MemoryStore) TryBegin(ctx context.Context, messageID uint64) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	r, exists := s.records[messageID]
	if !exists {
		s.records[messageID] = &Record{
			MessageID:   messageID,
			Status:      StatusProcessing,
			FirstSeenAt: now,
		}
		s.startedAt[messageID] = now
		return Decision{Outcome: Proceed}, nil
	}

	switch r.Status {
	case StatusCompleted:
		return Decision{Outcome: CachedResult, Result: r.Result}, nil
	case StatusFailed:
		r.Status = StatusProcessing
		s.startedAt[messageID] = now
		return Decision{Outcome: Proceed}, nil
	case StatusProcessing:
		// Перезахват брошенной обработки после таймаута.
		if started, ok := s.startedAt[messageID]; ok && now.Sub(started) >= s.processingTimeout {
			s.startedAt[messageID] = now
			return Decision{Outcome: Proceed}, nil
		}
		return Decision{Outcome: AlreadyInProgress}, nil
	default:
		return Decision{}, fmt.Errorf("недопустимое состояние записи inbox %d: %s", messageID, r.Status)
	}
}

// Complete фиксирует успешное завершение обработки.
func (s *MemoryStore) Complete(ctx context.Context, messageID uint64, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return fmt.Errorf("запись inbox %d не найдена", messageID)
	}
	if r.Status != StatusProcessing {
		return fmt.Errorf("запись inbox %d не в состоянии processing: %s", messageID, r.Status)
	}

	r.Status = StatusCompleted
	r.Result = result
	delete(s.startedAt, messageID)

	return nil
}

// Fail фиксирует отказ обработки.
func (s *MemoryStore) Fail(ctx context.Context, messageID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return fmt.Errorf("запись inbox %d не найдена", messageID)
	}
	if r.Status != StatusProcessing {
		return fmt.Errorf("запись inbox %d не в состоянии processing: %s", messageID, r.Status)
	}

	r.Status = StatusFailed
	delete(s.startedAt, messageID)

	return nil
}

// Sweep удаляет записи, впервые увиденные раньше olderThan.
func (s *MemoryStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, r := range s.records {
		if r.FirstSeenAt.Before(olderThan) {
			delete(s.records, id)
			delete(s.startedAt, id)
			removed++
		}
	}

	return removed, nil
}
