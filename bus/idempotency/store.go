// Package idempotency реализует кеш результатов по ключу дедупликации.
// Он позволяет вызывающей стороне безопасно повторять команду (например,
// после таймаута): повторный запрос с тем же ключом возвращает ранее
// вычисленный результат без повторного выполнения.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/x-research-team/qbus/bus/message"
)

// Store определяет контракт персистентного хранилища записей идемпотентности.
// Все операции должны быть потокобезопасными; Put обязан быть атомарным
// по отношению к конкурентным записям одного ключа.
type Store interface {
	// Get возвращает сериализованный результат по ключу, если запись
	// существует и не истекла.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put сохраняет результат с временем жизни ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache объединяет хранилище с подавлением конкурентных вычислений одного
// ключа: при одновременных запросах compute выполняется ровно один раз,
// остальные вызывающие получают тот же результат.
type Cache struct {
	store      Store
	group      singleflight.Group
	serializer message.Serializer
}

// CacheOption определяет тип для функциональных опций кеша.
type CacheOption func(*Cache)

// WithSerializer устанавливает кодек результатов.
func WithSerializer(s message.Serializer) CacheOption {
	return func(c *Cache) {
		c.serializer = s
	}
}

// NewCache создает кеш идемпотентности поверх указанного хранилища.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:      store,
		serializer: message.JSONSerializer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute возвращает закешированный результат для ключа либо вычисляет
// и сохраняет новый. Закешированный результат помечается кодом
// DuplicateSuppressed. Инфраструктурные ошибки compute не кешируются.
func GetOrCompute[R any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) (message.Result[R], error),
) (message.Result[R], error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("не удалось прочитать запись идемпотентности: %w", err)
		}
		if ok {
			var cached message.Result[R]
			if err := c.serializer.Unmarshal(data, &cached); err != nil {
				return nil, fmt.Errorf("не удалось десериализовать закешированный результат: %w", err)
			}
			return message.Duplicate(cached), nil
		}

		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		data, err = c.serializer.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("не удалось сериализовать результат: %w", err)
		}
		if err := c.store.Put(ctx, key, data, ttl); err != nil {
			return nil, fmt.Errorf("не удалось сохранить запись идемпотентности: %w", err)
		}

		return result, nil
	})
	if err != nil {
		var zero message.Result[R]
		return zero, err
	}

	return v.(message.Result[R]), nil
}
