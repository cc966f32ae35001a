package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/cutout/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS cutout_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	source_key TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	params JSONB NOT NULL DEFAULT '{}'::jsonb,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, status, filename, webhook_url, source_key, output_key, params, error, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	params := job.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO cutout_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.Status,
		job.Filename,
		job.WebhookURL,
		job.SourceKey,
		job.OutputKey,
		paramsJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM cutout_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(ctx,
		`UPDATE cutout_jobs SET status = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+jobColumns,
		id, status, time.Now().UTC(),
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id, outputKey string) (domain.Job, error) {
	return s.update(ctx,
		`UPDATE cutout_jobs SET status = $2, output_key = $3, error = '', updated_at = $4 WHERE id = $1
		 RETURNING `+jobColumns,
		id, domain.JobStatusSucceeded, outputKey, time.Now().UTC(),
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, message string) (domain.Job, error) {
	return s.update(ctx,
		`UPDATE cutout_jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1
		 RETURNING `+jobColumns,
		id, domain.JobStatusFailed, message, time.Now().UTC(),
	)
}

func (s *PostgresJobStore) update(ctx context.Context, query string, args ...any) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var (
		job        domain.Job
		paramsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Filename,
		&job.WebhookURL,
		&job.SourceKey,
		&job.OutputKey,
		&paramsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job params: %w", err)
		}
	}
	return job, nil
}
