package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promptbot/internal/domain"
	"promptbot/internal/infra"
	"promptbot/internal/sqlinline"
)

// JobArchivePG implements domain.JobArchive on PostgreSQL.
type JobArchivePG struct {
	sql infra.SQLExecutor
}

// NewJobArchive constructs the repository. sql is usually an *infra.SQLRunner.
func NewJobArchive(sql infra.SQLExecutor) *JobArchivePG {
	return &JobArchivePG{sql: sql}
}

// EnsureSchema creates the archive table and index when missing.
func (r *JobArchivePG) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{sqlinline.QCreateJobArchiveTable, sqlinline.QCreateJobArchiveUserIndex} {
		if _, err := r.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("archive: ensure schema: %w", err)
		}
	}
	return nil
}

// Save upserts job by id.
func (r *JobArchivePG) Save(ctx context.Context, job domain.Job) error {
	var result []byte
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("archive: encode result: %w", err)
		}
		result = b
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertArchivedJob,
		job.ID,
		job.UserID,
		job.Prompt,
		string(job.Status),
		string(job.FailureKind),
		job.ErrorMessage,
		result,
		job.CreatedAt,
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("archive: save job %s: %w", job.ID, err)
	}
	return nil
}

// ListByUser returns the user's archived jobs, newest first.
func (r *JobArchivePG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListArchivedJobsByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		var (
			job                   domain.Job
			status, kind          string
			result                []byte
			startedAt, finishedAt *time.Time
		)
		if err := rows.Scan(&job.ID, &job.UserID, &job.Prompt, &status, &kind, &job.ErrorMessage, &result, &job.CreatedAt, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("archive: scan job: %w", err)
		}
		job.Status = domain.JobStatus(status)
		job.FailureKind = domain.FailureKind(kind)
		if len(result) > 0 {
			var artifact domain.Artifact
			if err := json.Unmarshal(result, &artifact); err != nil {
				return nil, fmt.Errorf("archive: decode result of %s: %w", job.ID, err)
			}
			job.Result = &artifact
		}
		if startedAt != nil {
			job.StartedAt = *startedAt
		}
		if finishedAt != nil {
			job.FinishedAt = *finishedAt
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate jobs: %w", err)
	}
	return jobs, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.JobArchive = (*JobArchivePG)(nil)
