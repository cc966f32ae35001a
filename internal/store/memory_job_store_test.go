package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/cutout/internal/domain"
)

var _ JobStore = (*MemoryJobStore)(nil)
var _ JobStore = (*PostgresJobStore)(nil)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	params := map[string]string{"width": "500"}
	if err := s.Create(ctx, domain.Job{
		ID:        "job-1",
		Status:    domain.JobStatusQueued,
		SourceKey: "uploads/job-1/source",
		Params:    params,
		CreatedAt: created,
		UpdatedAt: created,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	params["width"] = "9"

	job, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if job.Param("width") != "500" {
		t.Fatalf("expected stored params to be isolated from caller, got %q", job.Param("width"))
	}

	job, err = s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if job.Status != domain.JobStatusProcessing || !job.UpdatedAt.After(created) {
		t.Fatalf("unexpected job after status update: %+v", job)
	}

	job, err = s.Complete(ctx, "job-1", "outputs/job-1/result.png")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded || job.OutputKey != "outputs/job-1/result.png" || !job.Terminal() {
		t.Fatalf("unexpected completed job: %+v", job)
	}
}

func TestMemoryJobStoreFail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, domain.Job{ID: "job-2", Status: domain.JobStatusQueued})

	job, err := s.Fail(ctx, "job-2", "remove stage: boom")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.Error != "remove stage: boom" {
		t.Fatalf("unexpected failed job: %+v", job)
	}
}

func TestMemoryJobStoreMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected missing job, ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.JobStatusFailed); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
