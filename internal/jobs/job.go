// Package jobs реализует асинхронный брокер заданий: отправку, выполнение,
// опрос с однократной выдачей результата и очистку по сроку хранения.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/models"
)

// Status описывает состояние задания.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusNotFound возвращается опросом для неизвестных или уже выданных заданий.
	StatusNotFound Status = "not-found"
)

// WorkKind определяет вид работы задания.
type WorkKind string

const (
	WorkAggregate WorkKind = "aggregate"
	WorkExport    WorkKind = "export"
)

// FailureMessage единственное описание ошибки, которое видит клиент.
const FailureMessage = "job failed"

var (
	// ErrNotFound возвращается хранилищем для отсутствующего задания.
	ErrNotFound = errors.New("job not found")
	// ErrQueueFull возвращается очередью, когда буфер заполнен.
	ErrQueueFull = errors.New("job queue is full")
	// ErrUnknownKind возвращается при отправке работы неизвестного вида.
	ErrUnknownKind = errors.New("unknown work kind")
)

// Work описывает, что нужно вычислить.
type Work struct {
	Kind   WorkKind          `json:"kind"`
	Filter models.FilterSpec `json:"filter"`
}

// Result содержит готовый результат задания.
type Result struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Job представляет запись задания в хранилище.
type Job struct {
	ID        string
	Status    Status
	Kind      WorkKind
	Result    Result
	CreatedAt time.Time
}

// Task представляет сообщение очереди: задание и работа для него.
type Task struct {
	JobID string `json:"job_id"`
	Work  Work   `json:"work"`
}

// PollResult содержит ответ на опрос задания.
type PollResult struct {
	Status Status
	Result Result
	Error  string
}

// Store хранит записи заданий.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Consume атомарно удаляет и возвращает задание, если оно завершено.
	// Для остальных состояний и отсутствующих заданий возвращает ErrNotFound.
	Consume(ctx context.Context, id string) (Job, error)
	Finish(ctx context.Context, id string, status Status, result Result) error
	// Delete не возвращает ошибку для отсутствующего задания.
	Delete(ctx context.Context, id string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Queue доставляет задачи исполнителям.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Executor выполняет работу задания.
type Executor interface {
	Execute(ctx context.Context, work Work) (Result, error)
}

// Observer получает события жизненного цикла заданий.
type Observer interface {
	JobSubmitted(kind string)
	JobFinished(kind, status string, elapsed time.Duration)
	JobsSwept(n int)
}
