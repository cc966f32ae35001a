package store

import (
	"context"
	"errors"

	"github.com/dunamismax/cutout/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists async job state shared by the API and worker.
type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	Complete(ctx context.Context, id, outputKey string) (domain.Job, error)
	Fail(ctx context.Context, id, message string) (domain.Job, error)
}
