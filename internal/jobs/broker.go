package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Options настраивает брокер.
type Options struct {
	// Retention задает срок хранения задания с момента создания.
	Retention time.Duration
	// Timeout ограничивает выполнение одного задания. 0 отключает ограничение.
	Timeout  time.Duration
	Observer Observer
}

// Broker связывает хранилище, очередь и исполнителя заданий.
type Broker struct {
	store Store
	queue Queue
	exec  Executor
	log   *slog.Logger
	opts  Options

	now   func() time.Time
	newID func() string
}

// NewBroker создает брокер. queue может быть nil у процесса, который только
// выполняет задания, exec может быть nil у процесса, который только принимает их.
func NewBroker(store Store, queue Queue, exec Executor, log *slog.Logger, opts Options) *Broker {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	return &Broker{
		store: store,
		queue: queue,
		exec:  exec,
		log:   log.With(slog.String("component", "job-broker")),
		opts:  opts,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Submit создает задание в состоянии pending и ставит его в очередь.
func (b *Broker) Submit(ctx context.Context, work Work) (string, error) {
	switch work.Kind {
	case WorkAggregate, WorkExport:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, work.Kind)
	}
	if b.queue == nil {
		return "", errors.New("broker has no queue")
	}

	job := Job{ID: b.newID(), Status: StatusPending, Kind: work.Kind, CreatedAt: b.now()}
	if err := b.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := b.queue.Enqueue(ctx, Task{JobID: job.ID, Work: work}); err != nil {
		if delErr := b.store.Delete(ctx, job.ID); delErr != nil {
			b.log.Warn("failed to remove unqueued job", slog.String("job_id", job.ID), slog.Any("err", delErr))
		}
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	if b.opts.Observer != nil {
		b.opts.Observer.JobSubmitted(string(work.Kind))
	}
	b.log.Info("job submitted", slog.String("job_id", job.ID), slog.String("kind", string(work.Kind)))
	return job.ID, nil
}

// Poll возвращает состояние задания. Завершенное задание выдается один раз и
// удаляется, последующие опросы получают StatusNotFound.
func (b *Broker) Poll(ctx context.Context, id string) (PollResult, error) {
	job, err := b.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return PollResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to get job: %w", err)
	}

	switch job.Status {
	case StatusPending:
		return PollResult{Status: StatusPending}, nil
	case StatusFailed:
		return PollResult{Status: StatusFailed, Error: FailureMessage}, nil
	}

	job, err = b.store.Consume(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return PollResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to consume job: %w", err)
	}
	return PollResult{Status: StatusCompleted, Result: job.Result}, nil
}

// Run выполняет задачу и записывает итог. Ошибки и паники исполнителя
// переводят задание в failed, подробности остаются только в журнале.
func (b *Broker) Run(ctx context.Context, task Task) error {
	start := b.now()
	log := b.log.With(slog.String("job_id", task.JobID), slog.String("kind", string(task.Work.Kind)))

	result, err := b.execute(ctx, task.Work)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		result = Result{}
		log.Error("job failed", slog.Any("err", err))
	}

	elapsed := b.now().Sub(start)
	if b.opts.Observer != nil {
		b.opts.Observer.JobFinished(string(task.Work.Kind), string(status), elapsed)
	}

	if err := b.store.Finish(ctx, task.JobID, status, result); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("job expired before completion")
			return nil
		}
		return fmt.Errorf("failed to store job result: %w", err)
	}
	log.Info("job finished", slog.String("status", string(status)), slog.Duration("elapsed", elapsed))
	return nil
}

func (b *Broker) execute(ctx context.Context, work Work) (result Result, err error) {
	if b.exec == nil {
		return Result{}, errors.New("broker has no executor")
	}
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return b.exec.Execute(ctx, work)
}

// Sweep удаляет задания старше срока хранения в любом состоянии.
func (b *Broker) Sweep(ctx context.Context) (int, error) {
	n, err := b.store.DeleteBefore(ctx, b.now().Add(-b.opts.Retention))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep jobs: %w", err)
	}
	if b.opts.Observer != nil {
		b.opts.Observer.JobsSwept(n)
	}
	if n > 0 {
		b.log.Info("expired jobs removed", slog.Int("count", n))
	}
	return n, nil
}

// StartSweeper запускает периодическую очистку до отмены ctx.
func (b *Broker) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Sweep(ctx); err != nil {
					b.log.Error("sweep failed", slog.Any("err", err))
				}
			}
		}
	}()
}
