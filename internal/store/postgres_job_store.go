package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/flagbooth/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	location TEXT NOT NULL,
	format TEXT NOT NULL,
	framing JSONB NOT NULL,
	output_format TEXT NOT NULL DEFAULT '',
	quality INTEGER NOT NULL DEFAULT 0,
	outputs JSONB NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS render_stats (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	location TEXT NOT NULL,
	format TEXT NOT NULL,
	pixels_rendered BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// framing is the JSONB shape of a job's transform or gesture log.
type framing struct {
	Transform *json.RawMessage `json:"transform,omitempty"`
	Gestures  *json.RawMessage `json:"gestures,omitempty"`
}

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
		return fmt.Errorf("ensure render schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func marshalFraming(job domain.RenderJob) ([]byte, error) {
	var f framing
	if job.Transform != nil {
		raw, err := json.Marshal(job.Transform)
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		f.Transform = &msg
	}
	if len(job.Gestures) > 0 {
		raw, err := json.Marshal(job.Gestures)
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		f.Gestures = &msg
	}
	return json.Marshal(f)
}

func unmarshalFraming(data []byte, job *domain.RenderJob) error {
	var f framing
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Transform != nil {
		if err := json.Unmarshal(*f.Transform, &job.Transform); err != nil {
			return err
		}
	}
	if f.Gestures != nil {
		if err := json.Unmarshal(*f.Gestures, &job.Gestures); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.RenderJob) error {
	framingJSON, err := marshalFraming(job)
	if err != nil {
		return fmt.Errorf("marshal job framing: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO render_jobs (id, status, source_type, webhook_url, object_key, location, format, framing, output_format, quality, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ObjectKey,
		job.Location,
		job.Format,
		framingJSON,
		job.OutputFormat,
		job.Quality,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.RenderJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source_type, webhook_url, object_key, location, format, framing, output_format, quality, outputs, error, created_at, updated_at
		 FROM render_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.RenderJob
		framingJSON []byte
		outputsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.Location,
		&job.Format,
		&framingJSON,
		&job.OutputFormat,
		&job.Quality,
		&outputsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RenderJob{}, false, nil
		}
		return domain.RenderJob{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := unmarshalFraming(framingJSON, &job); err != nil {
		return domain.RenderJob{}, false, fmt.Errorf("unmarshal job framing: %w", err)
	}
	if err := json.Unmarshal(outputsJSON, &job.Outputs); err != nil {
		return domain.RenderJob{}, false, fmt.Errorf("unmarshal job outputs: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.RenderJob, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("update job status: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status string, outputs []domain.RenderOutput, failure string) (domain.RenderJob, error) {
	if outputs == nil {
		outputs = []domain.RenderOutput{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("marshal job outputs: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
		 SET status = $1, outputs = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		outputsJSON,
		failure,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("finish job: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) mustGet(ctx context.Context, id string) (domain.RenderJob, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.RenderJob{}, err
	}
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresJobStore) CreateRenderStat(ctx context.Context, stat domain.RenderStat) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO render_stats (job_id, location, format, pixels_rendered, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stat.JobID,
		stat.Location,
		stat.Format,
		stat.PixelsRendered,
		stat.OutputBytes,
		stat.ComputeTimeMS,
		stat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert render stat: %w", err)
	}
	return nil
}
