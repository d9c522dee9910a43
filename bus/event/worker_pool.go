package event

import (
	"sync"
)

// workerPool - это пул горутин для асинхронной обработки событий.
type workerPool[T Event] struct {
	minWorkers int
	maxWorkers int
	tasks      chan *Task[T]
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// newWorkerPool создает новый пул воркеров.
func newWorkerPool[T Event](min, max, queueSize int) *workerPool[T] {
	return &workerPool[T]{
		minWorkers: min,
		maxWorkers: max,
		tasks:      make(chan *Task[T], queueSize),
		stopCh:     make(chan struct{}),
	}
}

// run запускает воркеров пула.
func (p *workerPool[T]) run() {
	for i := 0; i < p.minWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop останавливает всех воркеров и дожидается их завершения.
func (p *workerPool[T]) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// enqueue добавляет задачу в очередь на выполнение.
func (p *workerPool[T]) enqueue(task *Task[T]) {
	select {
	case p.tasks <- task:
	case <-p.stopCh:
	}
}

// worker - это основная функция горутины-воркера.
func (p *workerPool[T]) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := task.sub.handler(task.ctx, task.event); err != nil && task.sub.errorHandler != nil {
				task.sub.errorHandler(err, task.event)
			}
		case <-p.stopCh:
			// Дорабатываем оставшиеся в очереди задачи перед выходом.
			for {
				select {
				case task := <-p.tasks:
					if err := task.sub.handler(task.ctx, task.event); err != nil && task.sub.errorHandler != nil {
						task.sub.errorHandler(err, task.event)
					}
				default:
					return
				}
			}
		}
	}
}
