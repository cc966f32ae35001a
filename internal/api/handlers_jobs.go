package api

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/id"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/queue"
	"github.com/dunamismax/cutout/internal/upload"
)

// parameters that configure the job itself rather than the pipeline
var jobOnlyFields = map[string]struct{}{
	"webhook_url": {},
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.asyncJobs {
		s.writeError(w, r, errAsyncDisabled)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	file, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	webhookURL := strings.TrimSpace(r.FormValue("webhook_url"))
	if err := domain.ValidateWebhookURL(webhookURL); err != nil {
		s.writeError(w, r, err)
		return
	}
	params := formParams(r)
	get := func(key string) string { return params[key] }
	if _, err := domain.ParseProcessRequest(get, s.limits.Defaults(true, domain.ModeFit)); err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceKey := pipeline.SourceKey(jobID)
	if err := s.storage.WriteObject(ctx, sourceKey, file.Data, http.DetectContentType(file.Data)); err != nil {
		s.logger.Printf("store source failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, httpError{Message: "failed to store upload", Details: err.Error()})
		return
	}

	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusCreated,
		Filename:   file.Name,
		WebhookURL: webhookURL,
		SourceKey:  sourceKey,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, httpError{Message: "failed to create job", Details: err.Error()})
		return
	}

	// queued before enqueue so a fast worker never sees its status rolled back
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", jobID, err)
	}

	info, err := s.queueClient.EnqueueProcessJob(ctx, queue.ProcessJobPayload{JobID: jobID, RequestedAt: now})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", jobID, err)
		if _, failErr := s.jobStore.Fail(ctx, jobID, "failed to enqueue job"); failErr != nil {
			s.logger.Printf("mark job failed job_id=%s err=%v", jobID, failErr)
		}
		writeJSON(w, http.StatusInternalServerError, httpError{Message: "failed to enqueue job", Details: err.Error()})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	s.logger.Printf("job queued job_id=%s file=%q queue=%s", jobID, file.Name, info.Queue)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"status":     domain.JobStatusQueued,
		"queue":      info.Queue,
		"status_url": fmt.Sprintf("/v1/jobs/%s", jobID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		s.writeError(w, r, errAsyncDisabled)
		return
	}

	jobID := strings.TrimSpace(r.PathValue("id"))
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, httpError{Message: "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, httpError{Message: "job not found"})
		return
	}

	body := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"filename":   job.Filename,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	if job.Status == domain.JobStatusSucceeded && job.OutputKey != "" {
		body["output_key"] = job.OutputKey
		url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.jobDownloadName(job), s.presignTTL)
		if err != nil {
			s.logger.Printf("presign output failed job_id=%s err=%v", job.ID, err)
		} else {
			body["output_url"] = url
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// formParams flattens query and form values, keeping the first value of
// each key. The image field and job-only fields are skipped.
func formParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.Form))
	for key, values := range r.Form {
		if key == upload.Field || len(values) == 0 {
			continue
		}
		if _, skip := jobOnlyFields[key]; skip {
			continue
		}
		if v := strings.TrimSpace(values[0]); v != "" {
			params[key] = v
		}
	}
	return params
}

func (s *Server) jobDownloadName(job domain.Job) string {
	format, err := domain.ParseFormat(strings.TrimPrefix(path.Ext(job.OutputKey), "."))
	if err != nil {
		format = domain.FormatPNG
	}
	suffix := "_no_bg"
	if req, err := domain.ParseProcessRequest(job.Param, s.limits.Defaults(true, domain.ModeFit)); err == nil {
		suffix = processSuffix(req)
	}
	return attachmentName(upload.File{Name: job.Filename}.Stem(), suffix, format)
}
