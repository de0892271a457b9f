package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
)

// PostgresJobStore хранит задания в таблице job, общей для API и воркеров.
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore создает хранилище и при необходимости таблицу job.
func NewPostgresJobStore(ctx context.Context, db *sql.DB) (*PostgresJobStore, error) {
	s := &PostgresJobStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate job table: %w", err)
	}
	return s, nil
}

func (s *PostgresJobStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS job (
			id           TEXT        PRIMARY KEY,
			status       VARCHAR(16) NOT NULL,
			kind         VARCHAR(16) NOT NULL,
			content_type TEXT        NOT NULL DEFAULT '',
			result       BYTEA,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_job_created_at ON job(created_at);
	`)
	return err
}

const jobColumns = `id, status, kind, content_type, result, created_at`

func scanJob(row *sql.Row) (jobs.Job, error) {
	var j jobs.Job
	var status, kind string
	if err := row.Scan(&j.ID, &status, &kind, &j.Result.ContentType, &j.Result.Body, &j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Job{}, jobs.ErrNotFound
		}
		return jobs.Job{}, err
	}
	j.Status = jobs.Status(status)
	j.Kind = jobs.WorkKind(kind)
	return j, nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job jobs.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job (id, status, kind, created_at) VALUES ($1, $2, $3, $4)`,
		job.ID, string(job.Status), string(job.Kind), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job WHERE id = $1`, id))
	if err != nil && !errors.Is(err, jobs.ErrNotFound) {
		return jobs.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return j, err
}

// Consume удаляет завершенное задание одним запросом, поэтому результат
// получает только один из конкурирующих опросов.
func (s *PostgresJobStore) Consume(ctx context.Context, id string) (jobs.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`DELETE FROM job WHERE id = $1 AND status = $2 RETURNING `+jobColumns,
		id, string(jobs.StatusCompleted)))
	if err != nil && !errors.Is(err, jobs.ErrNotFound) {
		return jobs.Job{}, fmt.Errorf("failed to consume job: %w", err)
	}
	return j, err
}

func (s *PostgresJobStore) Finish(ctx context.Context, id string, status jobs.Status, result jobs.Result) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job SET status = $2, content_type = $3, result = $4 WHERE id = $1`,
		id, string(status), result.ContentType, result.Body)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired jobs: %w", err)
	}
	return int(n), nil
}
