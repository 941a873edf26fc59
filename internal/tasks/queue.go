// Package tasks runs fire-and-forget background work on a bounded
// worker pool, keeping request handlers free of long-running goroutines.
package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Queue executes tasks on a fixed set of workers. Submissions after
// Stop are refused, and submissions past a full buffer are dropped with a
// warning; advisory work is always safe to drop.
type Queue struct {
	tasks    chan Task
	workers  int
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// NewQueue creates a queue. workers defaults to 2 when non-positive.
func NewQueue(workers int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		tasks:    make(chan Task, workers*4),
		workers:  workers,
		shutdown: make(chan struct{}),
		logger:   logger.With(slog.String("component", "taskqueue")),
	}
}

// Start launches the workers. ctx cancellation stops intake and the
// in-flight tasks observe it through their own contexts.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("starting task queue", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.shutdown:
			return
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.logger.Debug("task started",
				slog.String("task", task.Name),
				slog.Int("worker", id))
			task.Run(ctx)
			q.logger.Debug("task finished",
				slog.String("task", task.Name),
				slog.Int("worker", id))
		}
	}
}

// Submit enqueues a task. Returns false when the queue is stopping or
// full.
func (q *Queue) Submit(task Task) bool {
	select {
	case <-q.shutdown:
		return false
	default:
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.logger.Warn("task queue full, dropping task", slog.String("task", task.Name))
		return false
	}
}

// Stop signals shutdown and waits for in-flight tasks to finish; tasks
// still in the buffer are not run.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.shutdown) })
	q.wg.Wait()
}
