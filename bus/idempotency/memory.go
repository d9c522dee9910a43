package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryRecord — внутренняя запись in-memory хранилища.
type memoryRecord struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore — внутрипроцессная реализация Store с TTL.
// Используется в тестах и как хранилище по умолчанию.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

// MemoryStoreOption определяет тип для функциональных опций хранилища.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock подменяет источник времени. Используется в тестах.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore создает новое in-memory хранилище.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает непросроченную запись по ключу.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()

	if !ok || s.now().After(rec.expiresAt) {
		return nil, false, nil
	}
	return rec.value, true, nil
}

// Put сохраняет запись с временем жизни ttl.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = memoryRecord{
		value:     value,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Sweep удаляет просроченные записи и возвращает их количество.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
