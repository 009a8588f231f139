package domain

import "context"

// JobArchive persists terminal jobs beyond the in-memory history window.
type JobArchive interface {
	Save(ctx context.Context, job Job) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
}
