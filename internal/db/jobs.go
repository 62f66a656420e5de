package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// ErrJobNotFound is returned when no job row exists for an id.
var ErrJobNotFound = errors.New("job not found")

// Schema for the jobs table:
//
//	CREATE TABLE jobs (
//	    id         TEXT PRIMARY KEY,
//	    image_ref  TEXT NOT NULL,
//	    state      TEXT NOT NULL,
//	    progress   INT  NOT NULL DEFAULT 0,
//	    error      TEXT NOT NULL DEFAULT '',
//	    receipt    JSONB,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);

// JobStore is the PostgreSQL-backed job repository.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore wraps a connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// CreateJob inserts a fresh PENDING job. Re-submitting an existing id resets
// it to PENDING with a cleared receipt, matching the at-least-once queue
// contract.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, image_ref, state, progress, error, receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', NULL, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET image_ref = EXCLUDED.image_ref,
		    state = EXCLUDED.state,
		    progress = EXCLUDED.progress,
		    error = '',
		    receipt = NULL,
		    updated_at = now()`,
		job.ID, job.ImageRef, models.StatePending, models.StatePending.Progress())
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// SetState records a state transition with its derived progress and optional
// failure cause.
func (s *JobStore) SetState(ctx context.Context, jobID string, state models.JobState, cause string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, progress = $3, error = $4, updated_at = now()
		WHERE id = $1`,
		jobID, state, state.Progress(), cause)
	if err != nil {
		return fmt.Errorf("updating job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SaveReceipt overwrites the job's receipt with a fresh one. Serialized as
// JSONB; decimal fields round-trip as strings through the receipt's JSON
// tags.
func (s *JobStore) SaveReceipt(ctx context.Context, jobID string, receipt *models.ReconciledReceipt) error {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET receipt = $2, updated_at = now() WHERE id = $1`,
		jobID, payload)
	if err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob loads one job with its receipt, if any.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, image_ref, state, progress, error, receipt, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// ListJobs returns the most recent jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, image_ref, state, progress, error, receipt, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job     models.Job
		receipt []byte
		created time.Time
		updated time.Time
	)
	err := row.Scan(&job.ID, &job.ImageRef, &job.State, &job.Progress, &job.Error,
		&receipt, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.CreatedAt = created
	job.UpdatedAt = updated

	if len(receipt) > 0 {
		var r models.ReconciledReceipt
		if err := json.Unmarshal(receipt, &r); err != nil {
			return nil, fmt.Errorf("unmarshaling receipt: %w", err)
		}
		job.Receipt = &r
	}
	return &job, nil
}
