package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/queue"
	"github.com/dunamismax/cutout/internal/store"
	"github.com/dunamismax/cutout/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type objectProcessor interface {
	ProcessObject(ctx context.Context, jobID, sourceKey string, req domain.ProcessRequest) (pipeline.Output, pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, event webhook.Event) error
}

type presigner interface {
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

// Server consumes async jobs: it loads parameters from the job store, runs
// the object-store pipeline and reports the outcome by webhook.
type Server struct {
	logger     *log.Logger
	server     *asynq.Server
	queueName  string
	sem        chan struct{}
	processor  objectProcessor
	presigner  presigner
	webhooks   webhookSender
	jobStore   store.JobStore
	defaults   domain.Defaults
	catalog    domain.ModelCatalog
	presignTTL time.Duration
	metrics    *metrics
	tracer     trace.Tracer
}

func NewServer(
	logger *log.Logger,
	cfg config.Config,
	processor *pipeline.Processor,
	presign presigner,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("pipeline processor is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}

	s := newServer(logger, cfg, processor, presign, webhookClient, jobStore)
	s.server = asynq.NewServer(
		cfg.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, cfg config.Config, processor objectProcessor, presign presigner, webhooks *webhook.Client, jobStore store.JobStore) *Server {
	s := &Server{
		logger:     logger,
		queueName:  cfg.Queue.Name,
		sem:        make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		processor:  processor,
		presigner:  presign,
		jobStore:   jobStore,
		defaults:   cfg.Processing.Defaults(true, domain.ModeFit),
		catalog:    domain.NewModelCatalog(cfg.Rembg.DefaultModel),
		presignTTL: cfg.API.PresignTTL,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("cutout/worker"),
	}
	if webhooks != nil {
		s.webhooks = webhooks
	}
	return s
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessJob, s.handleProcessJob)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessJob(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "error"

	payload, err := queue.ParseProcessJobPayload(task)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_job", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("job.id", payload.JobID))
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	job, ok, err := s.jobStore.Get(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		outcome = "missing"
		return fmt.Errorf("%w: %s: %w", store.ErrJobNotFound, payload.JobID, asynq.SkipRetry)
	}
	if job.Terminal() {
		outcome = "duplicate"
		s.logger.Printf("job already finished job_id=%s status=%s", job.ID, job.Status)
		return nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Working... job_id=%s source_key=%s queued_for=%s", job.ID, job.SourceKey, time.Since(payload.RequestedAt).Round(time.Millisecond))
	s.updateJobStatus(ctx, job.ID, domain.JobStatusProcessing)

	req, err := domain.ParseProcessRequest(job.Param, s.defaults)
	if err != nil {
		outcome = domain.JobStatusFailed
		s.fail(ctx, span, job, err)
		return fmt.Errorf("parse job params: %w: %w", err, asynq.SkipRetry)
	}
	if req.RemoveBackground {
		model, fellBack := s.catalog.Resolve(req.Model)
		if fellBack {
			s.logger.Printf("unknown model job_id=%s model=%q fallback=%s", job.ID, req.Model, model)
		}
		req.Model = model
	}
	span.SetAttributes(
		attribute.Bool("job.remove_background", req.RemoveBackground),
		attribute.String("job.model", req.Model),
		attribute.String("job.format", string(req.Output.Format)),
	)

	out, res, err := s.processor.ProcessObject(ctx, job.ID, job.SourceKey, req)
	if err != nil {
		if !finalAttempt(ctx) {
			outcome = "retry"
			s.updateJobStatus(ctx, job.ID, domain.JobStatusQueued)
			span.RecordError(err)
			return fmt.Errorf("run pipeline: %w", err)
		}
		outcome = domain.JobStatusFailed
		s.fail(ctx, span, job, err)
		return fmt.Errorf("run pipeline: %w", err)
	}

	if _, err := s.jobStore.Complete(ctx, job.ID, out.ObjectKey); err != nil {
		s.logger.Printf("job completion update failed job_id=%s err=%v", job.ID, err)
	}
	outcome = domain.JobStatusSucceeded
	s.metrics.outputBytesTotal.Add(float64(out.Bytes))
	s.metrics.pixelsTotal.Add(float64(res.Width * res.Height))
	s.logger.Printf("Processed job_id=%s output=%s bytes=%d size=%dx%d", job.ID, out.ObjectKey, out.Bytes, out.Width, out.Height)

	event := webhook.Event{
		Type:      webhook.EventJobSucceeded,
		JobID:     job.ID,
		Status:    domain.JobStatusSucceeded,
		OutputKey: out.ObjectKey,
		OutputURL: s.outputURL(ctx, job, out),
		Width:     out.Width,
		Height:    out.Height,
	}
	s.dispatchWebhook(ctx, job, event)

	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) fail(ctx context.Context, span trace.Span, job domain.Job, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "job failed")

	if _, storeErr := s.jobStore.Fail(ctx, job.ID, err.Error()); storeErr != nil {
		s.logger.Printf("job failure update failed job_id=%s err=%v", job.ID, storeErr)
	}
	s.dispatchWebhook(ctx, job, webhook.Event{
		Type:   webhook.EventJobFailed,
		JobID:  job.ID,
		Status: domain.JobStatusFailed,
		Error:  err.Error(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook never fails the task: the job result is already stored.
func (s *Server) dispatchWebhook(ctx context.Context, job domain.Job, event webhook.Event) {
	if job.WebhookURL == "" || s.webhooks == nil {
		return
	}
	if err := s.webhooks.Send(ctx, job.WebhookURL, event); err != nil {
		s.metrics.webhookFailures.Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", job.ID, event.Type, err)
	}
}

func (s *Server) outputURL(ctx context.Context, job domain.Job, out pipeline.Output) string {
	if s.presigner == nil {
		return ""
	}
	filename := OutputFilename(job.Filename, out.Format)
	u, err := s.presigner.PresignedGetURL(ctx, out.ObjectKey, filename, s.presignTTL)
	if err != nil {
		s.logger.Printf("presign output failed job_id=%s err=%v", job.ID, err)
		return ""
	}
	return u
}

// OutputFilename mirrors the synchronous endpoints' attachment name.
func OutputFilename(source string, format domain.Format) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "image"
	}
	return stem + "_no_bg." + format.Extension()
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

