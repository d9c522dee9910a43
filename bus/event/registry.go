package event

import (
	"context"
	"fmt"
	"sync"
)

// Registry - это потокобезопасный реестр для управления экземплярами шин событий.
// Реестр заполняется на этапе инициализации приложения; поиск шины по топику —
// это амортизированно константная операция.
type Registry struct {
	buses map[string]any
	mu    sync.RWMutex
}

// NewRegistry создает новый экземпляр реестра шин.
func NewRegistry() *Registry {
	return &Registry{
		buses: make(map[string]any),
	}
}

// Bus возвращает строго типизированный экземпляр шины для указанного топика.
// При первом обращении шина создается с переданными опциями; при повторных —
// возвращается существующий экземпляр.
func Bus[T Event](r *Registry, topic string, opts ...Option[T]) (IBus[T], error) {
	r.mu.RLock()
	bus, exists := r.buses[topic]
	r.mu.RUnlock()

	if exists {
		if typedBus, ok := bus.(IBus[T]); ok {
			return typedBus, nil
		}
		return nil, fmt.Errorf("шина для топика '%s' уже существует с другим типом события", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bus, exists := r.buses[topic]; exists {
		if typedBus, ok := bus.(IBus[T]); ok {
			return typedBus, nil
		}
		return nil, fmt.Errorf("шина для топика '%s' уже существует с другим типом события", topic)
	}

	newBus, err := NewBus[T](topic, opts...)
	if err != nil {
		return nil, err
	}
	r.buses[topic] = newBus

	return newBus, nil
}

// Shutdown корректно завершает работу всех зарегистрированных шин.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for topic, bus := range r.buses {
		if b, ok := bus.(interface{ Shutdown(context.Context) error }); ok {
			if err := b.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("ошибка при завершении работы шины '%s': %w", topic, err)
			}
		}
	}

	return firstErr
}
