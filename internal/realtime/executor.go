package realtime

import (
	"context"
	"log/slog"
	"sync"

	"lingochat/internal/metrics"
)

// Executor runs background tasks on a fixed pool fed by a bounded queue.
// Submit never blocks: when the queue is full the task is dropped.
type Executor struct {
	tasks chan func(context.Context)
	log   *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	workers int
}

func NewExecutor(workers, queue int, log *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		tasks:   make(chan func(context.Context), queue),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
	}
}

func (e *Executor) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
}

func (e *Executor) work() {
	defer e.wg.Done()
	for task := range e.tasks {
		e.run(task)
	}
}

func (e *Executor) run(task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("background task panicked", "panic", r)
		}
	}()
	task(e.ctx)
}

func (e *Executor) Submit(task func(context.Context)) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return false
	}
	select {
	case e.tasks <- task:
		return true
	default:
		metrics.RefineQueueDroppedTotal.Inc()
		e.log.Warn("background queue full, dropping task", "capacity", cap(e.tasks))
		return false
	}
}

// Stop drains queued tasks and waits for the workers. Tasks still running
// when ctx ends see their context cancelled.
func (e *Executor) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.tasks)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		<-done
	}
	e.cancel()
}
