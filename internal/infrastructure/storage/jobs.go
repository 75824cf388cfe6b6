package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"RecipeAcquisition/internal/domain"
)

var jobColumns = []string{"id", "url", "requested_by", "status", "cause", "error", "draft_id", "submitted_at", "finished_at"}

// CreateJob inserts a new scrape job.
func (q *queries) CreateJob(ctx context.Context, job domain.ScrapeJob) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = q.now()
	}
	_, err := q.exec(ctx, q.sb.Insert("scrape_jobs").
		Columns(jobColumns...).
		Values(job.ID, job.URL, job.RequestedBy, string(job.Status), job.Cause, job.Error, job.DraftID,
			formatTime(job.SubmittedAt), formatTime(job.FinishedAt)))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob overwrites the mutable job columns.
func (q *queries) UpdateJob(ctx context.Context, job domain.ScrapeJob) error {
	res, err := q.exec(ctx, q.sb.Update("scrape_jobs").
		Set("status", string(job.Status)).
		Set("cause", job.Cause).
		Set("error", job.Error).
		Set("draft_id", job.DraftID).
		Set("finished_at", formatTime(job.FinishedAt)).
		Where(sq.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// GetJob loads a job or returns ErrNotFound.
func (q *queries) GetJob(ctx context.Context, id string) (domain.ScrapeJob, error) {
	row, err := q.queryRow(ctx, q.sb.Select(jobColumns...).From("scrape_jobs").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.ScrapeJob{}, err
	}
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeJob{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, err
}

// ListJobs returns the most recently submitted jobs first.
func (q *queries) ListJobs(ctx context.Context, limit int) ([]domain.ScrapeJob, error) {
	b := q.sb.Select(jobColumns...).From("scrape_jobs").OrderBy("submitted_at DESC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := q.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// FailStaleJobs marks non-terminal jobs submitted before the cutoff as failed.
func (q *queries) FailStaleJobs(ctx context.Context, startedBefore time.Time, reason string) (int, error) {
	res, err := q.exec(ctx, q.sb.Update("scrape_jobs").
		Set("status", string(domain.JobFailed)).
		Set("cause", domain.CauseTimeout).
		Set("error", reason).
		Set("finished_at", formatTime(q.now())).
		Where(sq.Eq{"status": []string{string(domain.JobPending), string(domain.JobFetching)}}).
		Where(sq.Lt{"submitted_at": formatTime(startedBefore)}))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(affected(res)), nil
}

func scanJob(row scanner) (domain.ScrapeJob, error) {
	var (
		job                 domain.ScrapeJob
		status              string
		submitted, finished string
	)
	if err := row.Scan(&job.ID, &job.URL, &job.RequestedBy, &status, &job.Cause, &job.Error, &job.DraftID, &submitted, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, err
		}
		return job, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.SubmittedAt = parseTime(submitted)
	job.FinishedAt = parseTime(finished)
	return job, nil
}
