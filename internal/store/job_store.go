package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/jobchat/internal/model"
)

type jobRow struct {
	ID               string `db:"id"`
	Title            string `db:"title"`
	Status           string `db:"status"`
	EmployerID       string `db:"employer_id"`
	AssignedWorkerID string `db:"assigned_worker_id"`
	UpdatedAt        int64  `db:"updated_at"`
}

// GetJob returns a job by ID or ErrNotFound.
func (r *repos) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, title, status, employer_id, assigned_worker_id, updated_at
		FROM jobs WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, notFound(err))
	}
	return &model.Job{
		ID:               row.ID,
		Title:            row.Title,
		Status:           row.Status,
		EmployerID:       row.EmployerID,
		AssignedWorkerID: row.AssignedWorkerID,
		UpdatedAt:        fromNanos(row.UpdatedAt),
	}, nil
}

// UpsertJob inserts job or replaces the stored copy.
func (r *repos) UpsertJob(ctx context.Context, job model.Job) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobStatusOpen
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO jobs (id, title, status, employer_id, assigned_worker_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			employer_id = excluded.employer_id,
			assigned_worker_id = excluded.assigned_worker_id,
			updated_at = excluded.updated_at`,
		job.ID, job.Title, job.Status, job.EmployerID, job.AssignedWorkerID, toNanos(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", job.ID, err)
	}
	return nil
}
