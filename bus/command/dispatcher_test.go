package command_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/x-research-team/qbus/bus/command"
	"github.com/x-research-team/qbus/bus/idempotency"
	"github.com/x-research-team/qbus/bus/message"
)

// Тестовая команда для проверки.
type testCommand struct {
	Value string
}

// Тестовая команда для проверки несовпадения типов.
type anotherTestCommand struct {
	Value int
}

// Команда с валидацией обязательных полей.
type createOrderCommand struct {
	CustomerID string
	Amount     int
}

// Validate реализует validation.Validatable.
func (c createOrderCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CustomerID, validation.Required),
		validation.Field(&c.Amount, validation.Min(1)),
	)
}

// Команда с ключом дедупликации.
type chargeCommand struct {
	Key    string
	Amount int
}

// DedupKey возвращает ключ дедупликации команды.
func (c chargeCommand) DedupKey() string { return c.Key }

// Тестовый обработчик команды.
func testCommandHandler(ctx context.Context, cmd testCommand) (message.Result[string], error) {
	return message.Ok("processed: " + cmd.Value), nil
}

// Тест успешной регистрации и выполнения команды.
func TestDispatcher_Success(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[testCommand, string]()
	err := dispatcher.Register(testCommandHandler)
	require.NoError(t, err, "Регистрация обработчика не должна вызывать ошибку")

	cmd := testCommand{Value: "test"}
	result, err := dispatcher.Dispatch(context.Background(), cmd)

	require.NoError(t, err, "Выполнение команды не должно вызывать ошибку")
	require.True(t, result.Success)
	assert.Equal(t, "processed: test", result.Value, "Результат выполнения команды некорректен")
}

// Тест отказа HandlerNotFound при отправке команды без зарегистрированного обработчика.
func TestDispatcher_Dispatch_NoHandler(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[testCommand, string]()

	result, err := dispatcher.Dispatch(context.Background(), testCommand{Value: "test"})

	require.NoError(t, err, "Отсутствие обработчика — ожидаемый отказ, а не инфраструктурный сбой")
	require.False(t, result.Success)
	assert.Equal(t, message.CodeHandlerNotFound, result.Code)
	assert.Contains(t, result.Message, "не найден")
}

// Тест ошибки при повторной регистрации обработчика.
func TestDispatcher_Register_AlreadyRegistered(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[testCommand, string]()
	err := dispatcher.Register(testCommandHandler)
	require.NoError(t, err, "Первая регистрация обработчика не должна вызывать ошибку")

	err = dispatcher.Register(testCommandHandler)

	require.Error(t, err, "Повторная регистрация обработчика должна вызывать ошибку")
	assert.Contains(t, err.Error(), "уже зарегистрирован")
}

// Тест короткого замыкания валидации до вызова обработчика.
func TestDispatcher_ValidationShortCircuit(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[createOrderCommand, uint64]()

	handlerCalled := false
	err := dispatcher.Register(func(ctx context.Context, cmd createOrderCommand) (message.Result[uint64], error) {
		handlerCalled = true
		return message.Ok(uint64(1)), nil
	})
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), createOrderCommand{Amount: 0})

	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, message.CodeValidationFailed, result.Code)
	assert.False(t, handlerCalled, "Обработчик не должен вызываться для невалидной команды")

	result, err = dispatcher.Dispatch(context.Background(), createOrderCommand{CustomerID: "c-1", Amount: 10})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, handlerCalled)
}

// Тест повторов транзиентных сбоев.
func TestDispatcher_RetryTransientFailures(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[testCommand, string](
		command.WithRetry[testCommand, string](command.RetryStrategy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		}),
	)

	attempts := 0
	err := dispatcher.Register(func(ctx context.Context, cmd testCommand) (message.Result[string], error) {
		attempts++
		if attempts < 3 {
			return message.Fail[string](message.CodeTransportUnavailable, "транспорт недоступен"), nil
		}
		return message.Ok("готово"), nil
	})
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), testCommand{Value: "x"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts, "Транзиентные отказы должны повторяться до успеха")
}

// Тест отсутствия повторов для бизнес-отказов.
func TestDispatcher_NoRetryForBusinessFailure(t *testing.T) {
	t.Parallel()

	dispatcher := command.NewDispatcher[testCommand, string](
		command.WithRetry[testCommand, string](command.DefaultRetryStrategy()),
	)

	attempts := 0
	err := dispatcher.Register(func(ctx context.Context, cmd testCommand) (message.Result[string], error) {
		attempts++
		return message.Fail[string](message.CodeHandlerFailed, "отказ бизнес-логики"), nil
	})
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), testCommand{Value: "x"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts, "Бизнес-отказ не подлежит повтору")
}

// Сценарий: два конкурентных Dispatch с одинаковым ключом "order-42" —
// ровно один вызов обработчика, оба вызывающих получают один результат.
func TestDispatcher_IdempotentDispatch(t *testing.T) {
	t.Parallel()

	cache := idempotency.NewCache(idempotency.NewMemoryStore())
	dispatcher := command.NewDispatcher[chargeCommand, string](
		command.WithIdempotency[chargeCommand, string](cache, time.Minute),
	)

	var (
		mu    sync.Mutex
		calls int
	)
	err := dispatcher.Register(func(ctx context.Context, cmd chargeCommand) (message.Result[string], error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return message.Ok(fmt.Sprintf("charged %d", cmd.Amount)), nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]message.Result[string], 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := dispatcher.Dispatch(context.Background(), chargeCommand{Key: "order-42", Amount: 100})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "Обработчик должен вызваться ровно один раз")
	assert.Equal(t, results[0].Value, results[1].Value, "Оба вызывающих получают один и тот же результат")
}

// Тест сбора метрик диспетчеризации.
func TestDispatcher_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dispatcher := command.NewDispatcher[testCommand, string](
		command.WithMeterProvider[testCommand, string](provider),
	)
	require.NoError(t, dispatcher.Register(testCommandHandler))

	_, err := dispatcher.Dispatch(context.Background(), testCommand{Value: "m"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics, "Диспетчеризация должна порождать метрики")

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["messaging.dispatch.count"])
	assert.True(t, names["messaging.process.duration"])
}

// Тест успешного получения диспетчера из реестра.
func TestRegistry_GetDispatcher_Success(t *testing.T) {
	t.Parallel()

	registry := command.NewRegistry()
	commandName := "test.command"

	dispatcher1, err := command.Dispatcher[testCommand, string](registry, commandName)
	require.NoError(t, err, "Первое получение диспетчера не должно вызывать ошибку")
	require.NotNil(t, dispatcher1)

	dispatcher2, err := command.Dispatcher[testCommand, string](registry, commandName)
	require.NoError(t, err, "Второе получение диспетчера не должно вызывать ошибку")
	require.NotNil(t, dispatcher2)

	assert.Same(t, dispatcher1, dispatcher2, "Реестр должен возвращать один и тот же экземпляр диспетчера для одного имени")
}

// Тест ошибки при несовпадении типов в реестре.
func TestRegistry_GetDispatcher_TypeMismatch(t *testing.T) {
	t.Parallel()

	registry := command.NewRegistry()
	commandName := "test.command"

	_, err := command.Dispatcher[testCommand, string](registry, commandName)
	require.NoError(t, err)

	_, err = command.Dispatcher[anotherTestCommand, int](registry, commandName)

	require.Error(t, err, "Получение диспетчера с другим типом должно вызывать ошибку")
	assert.Equal(t, fmt.Sprintf("диспетчер для команды '%s' уже существует с другим типом", commandName), err.Error())
}

// Тест на потокобезопасность реестра.
func TestRegistry_GetDispatcher_Concurrency(t *testing.T) {
	t.Parallel()

	registry := command.NewRegistry()
	commandName := "concurrent.command"
	goroutines := 100
	var wg sync.WaitGroup
	wg.Add(goroutines)

	dispatchers := make([]command.IDispatcher[testCommand, string], goroutines)

	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			dispatcher, err := command.Dispatcher[testCommand, string](registry, commandName)
			require.NoError(t, err)
			require.NotNil(t, dispatcher)
			dispatchers[i] = dispatcher
		}(i)
	}

	wg.Wait()

	firstDispatcher := dispatchers[0]
	for i := 1; i < goroutines; i++ {
		assert.Same(t, firstDispatcher, dispatchers[i], "Все горутины должны получать один и тот же экземпляр диспетчера")
	}
}
