// Package repo defines the persistence interfaces the services depend on.
package repo

import (
	"context"
	"errors"

	"github.com/scicloud-labs/jobgate/internal/domain"
)

var (
	ErrNotFound = errors.New("not_found")
	// ErrConflict signals a uniqueness violation (duplicate job name per user).
	ErrConflict = errors.New("conflict")
)

type JobFilter struct {
	UserID string
	Offset int
	Limit  int
}

// JobRepository persists job records.
type JobRepository interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	// List returns the user's jobs in creation order, paginated by
	// offset/limit so that consecutive pages are disjoint and contiguous.
	List(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// UpdateStatus sets the status, appends runtime details, stamps the
	// started/finished timestamps, and returns the updated record.
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, appendDetails string) (domain.Job, error)
	Delete(ctx context.Context, id string) error
}
