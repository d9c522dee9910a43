package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStorage — внутрипроцессная реализация Storage. Используется в тестах
// и в конфигурациях, где долговечность между перезапусками не требуется.
type MemoryStorage struct {
	mu      sync.Mutex
	records map[uint64]*Record

	// claimedAt хранит момент захвата dispatching-записей для восстановления
	// застрявших после сбоя диспетчера.
	claimedAt map[uint64]time.Time

	claimTimeout time.Duration
	now          func() time.Time
}

// MemoryStorageOption определяет тип для функциональных опций хранилища.
type MemoryStorageOption func(*MemoryStorage)

// WithClaimTimeout устанавливает таймаут, после которого захваченная запись
// считается застрявшей и подлежит повторному захвату.
func WithClaimTimeout(d time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.claimTimeout = d
	}
}

// WithStorageClock подменяет источник времени. Используется в тестах.
func WithStorageClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage создает новое внутрипроцессное хранилище outbox.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		records:      make(map[uint64]*Record),
		claimedAt:    make(map[uint64]time.Time),
		claimTimeout: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save фиксирует новую запись в состоянии pending.
func (s *MemoryStorage) Save(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("запись outbox не может быть nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.MessageID]; exists {
		return fmt.Errorf("запись outbox %d уже существует", record.MessageID)
	}

	clone := *record
	clone.Status = StatusPending
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	s.records[record.MessageID] = &clone

	return nil
}

// Claim захватывает готовые к публикации записи и переводит их в dispatching.
func (s *MemoryStorage) Claim(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*Record
	for id, r := range s.records {
		switch r.Status {
		case StatusPending:
			if !r.NextAttemptAt.After(now) {
				ready = append(ready, r)
			}
		case StatusDispatching:
			// Восстановление записей, застрявших после сбоя диспетчера.
			if claimed, ok := s.claimedAt[id]; ok && now.Sub(claimed) >= s.claimTimeout {
				ready = append(ready, r)
			}
		}
	}

	// Порядок захвата — по идентификатору, то есть по времени создания.
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].MessageID < ready[j].MessageID
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]*Record, 0, len(ready))
	for _, r := range ready {
		r.Status = StatusDispatching
		s.claimedAt[r.MessageID] = now

		clone := *r
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

// MarkPublished переводит запись в состояние published и засчитывает
// успешную попытку.
func (s *MemoryStorage) MarkPublished(ctx context.Context, messageID uint64, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return fmt.Errorf("запись outbox %d не найдена", messageID)
	}

	r.Status = StatusPublished
	r.Attempts++
	r.PublishedAt = publishedAt
	delete(s.claimedAt, messageID)

	return nil
}

// MarkFailed возвращает запись в pending с отложенной следующей попыткой.
func (s *MemoryStorage) MarkFailed(ctx context.Context, messageID uint64, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return fmt.Errorf("запись outbox %d не найдена", messageID)
	}

	r.Status = StatusPending
	r.Attempts++
	r.NextAttemptAt = nextAttemptAt
	r.LastError = lastError
	delete(s.claimedAt, messageID)

	return nil
}

// MarkDead переводит запись в dead-letter.
func (s *MemoryStorage) MarkDead(ctx context.Context, messageID uint64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return fmt.Errorf("запись outbox %d не найдена", messageID)
	}

	r.Status = StatusDead
	r.Attempts++
	r.LastError = lastError
	delete(s.claimedAt, messageID)

	return nil
}

// DeadLetters возвращает записи в состоянии dead.
func (s *MemoryStorage) DeadLetters(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*Record
	for _, r := range s.records {
		if r.Status == StatusDead {
			clone := *r
			dead = append(dead, &clone)
		}
	}

	sort.Slice(dead, func(i, j int) bool {
		return dead[i].MessageID < dead[j].MessageID
	})
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}

	return dead, nil
}

// Record возвращает копию записи по идентификатору.
// Используется в тестах и диагностике.
func (s *MemoryStorage) Record(messageID uint64) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[messageID]
	if !exists {
		return nil, false
	}
	clone := *r
	return &clone, true
}
