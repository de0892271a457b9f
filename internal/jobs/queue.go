package jobs

import (
	"context"
	"log/slog"
	"sync"
)

// Handler обрабатывает задачу, извлеченную из очереди.
type Handler func(ctx context.Context, task Task) error

// LocalQueue реализует очередь FIFO в памяти с фиксированным пулом исполнителей.
type LocalQueue struct {
	tasks   chan Task
	workers int
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewLocalQueue создает очередь с буфером size и workers исполнителями.
func NewLocalQueue(size, workers int, log *slog.Logger) *LocalQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &LocalQueue{
		tasks:   make(chan Task, size),
		workers: workers,
		log:     log.With(slog.String("component", "local-queue")),
	}
}

// Enqueue ставит задачу в очередь без блокировки.
func (q *LocalQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start запускает исполнителей. Они завершаются после отмены ctx.
func (q *LocalQueue) Start(ctx context.Context, handle Handler) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					if err := handle(ctx, task); err != nil {
						q.log.Error("task handling failed",
							slog.Int("worker", worker), slog.String("job_id", task.JobID), slog.Any("err", err))
					}
				}
			}
		}(i)
	}
}

// Wait блокируется до остановки всех исполнителей.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Pending возвращает число задач, ожидающих исполнителя.
func (q *LocalQueue) Pending() int {
	return len(q.tasks)
}
