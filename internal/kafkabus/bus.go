// Package kafkabus доставляет задачи заданий через Kafka: API публикует их,
// воркеры читают в составе consumer group.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
)

// Config содержит параметры подключения к Kafka.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Bus создает читателей и писателей топика заданий.
type Bus struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Bus {
	return &Bus{cfg: cfg, log: log.With(slog.String("component", "kafka-bus"))}
}

func (b *Bus) Reader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID,
		Topic:    b.cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

func (b *Bus) Writer() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(b.cfg.Brokers...),
		Topic:                  b.cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
}

// MessageWriter описывает часть kafka.Writer, нужную очереди.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader описывает часть kafka.Reader, нужную потребителю.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue реализует jobs.Queue публикацией задачи в топик. Ключом сообщения служит id задания.
type Queue struct {
	w MessageWriter
}

func NewQueue(w MessageWriter) *Queue {
	return &Queue{w: w}
}

func (q *Queue) Enqueue(ctx context.Context, task jobs.Task) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.w.WriteMessages(ctx, kafka.Message{Key: []byte(task.JobID), Value: value}); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.w.Close()
}

// Consumer читает задачи и передает их обработчику. Смещение фиксируется после
// обработки, задание получает итог даже при ошибке исполнителя.
type Consumer struct {
	r      MessageReader
	handle jobs.Handler
	log    *slog.Logger
}

func NewConsumer(r MessageReader, handle jobs.Handler, log *slog.Logger) *Consumer {
	return &Consumer{r: r, handle: handle, log: log.With(slog.String("component", "kafka-consumer"))}
}

// Run обрабатывает сообщения до отмены ctx.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Error("reader_close", slog.Any("err", err))
		}
	}()
	c.log.Info("consumer_start")

	backoff := time.Second
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.log.Info("consumer_stop", slog.String("reason", "context"))
				return
			}
			c.log.Error("fetch_err", slog.Any("err", err))
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				c.log.Info("consumer_stop", slog.String("reason", "shutdown"))
				return
			}
		}
		backoff = time.Second

		c.process(ctx, msg)
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit_err", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var task jobs.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil || task.JobID == "" {
		c.log.Error("decode_err", slog.Any("err", err), slog.Int64("offset", msg.Offset), slog.Int("partition", msg.Partition))
		return
	}
	if err := c.handle(ctx, task); err != nil {
		c.log.Error("handle_err", slog.String("job_id", task.JobID), slog.Any("err", err))
	}
}
