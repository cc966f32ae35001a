package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/facedetect"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/queue"
	"github.com/dunamismax/cutout/internal/requestip"
	"github.com/dunamismax/cutout/internal/security"
	"github.com/dunamismax/cutout/internal/store"
	"github.com/dunamismax/cutout/internal/upload"
	"github.com/dunamismax/cutout/internal/xnconvert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// multipart framing allowance on top of the upload limit
	formOverheadBytes = 1 << 20

	// non-standard status recorded when the client hangs up mid-request
	statusClientClosedRequest = 499
)

var errAsyncDisabled = errors.New("async jobs are disabled")

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

// Options carries the collaborators built by cmd/api. Processor is
// required; the rest are optional and disable their feature when nil.
type Options struct {
	Processor   *pipeline.Processor
	Converter   *xnconvert.Converter
	Faces       facedetect.Detector
	RateLimiter RateLimiter
	Queue       queue.Enqueuer
	Storage     objectStorage
	Jobs        store.JobStore
}

type Server struct {
	logger         *log.Logger
	debug          bool
	startedAt      time.Time
	requestTimeout time.Duration
	presignTTL     time.Duration
	tempDir        string

	processor *pipeline.Processor
	converter *xnconvert.Converter
	faces     facedetect.Detector
	catalog   domain.ModelCatalog
	uploads   *upload.Validator
	limits    config.ProcessingConfig

	allowedOrigins []string
	allowList      *security.AllowList
	verifier       *security.Verifier
	adminHash      []byte
	trusted        []netip.Prefix

	rateLimiter RateLimiter

	asyncJobs   bool
	queueClient queue.Enqueuer
	storage     objectStorage
	jobStore    store.JobStore

	metrics *metrics
	tracer  trace.Tracer
	mux     *http.ServeMux
}

func NewServer(logger *log.Logger, cfg config.Config, opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("pipeline processor is required")
	}

	allowList, err := security.NewAllowList(cfg.Security.AuthorizedIPs)
	if err != nil {
		return nil, err
	}
	trusted, err := requestip.ParsePrefixes([]string{cfg.Security.TrustedProxies})
	if err != nil {
		return nil, err
	}

	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	presignTTL := cfg.API.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	converter := opts.Converter
	if converter == nil {
		converter = xnconvert.New("")
	}
	storage := opts.Storage
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:         logger,
		debug:          cfg.Debug,
		startedAt:      time.Now(),
		requestTimeout: timeout,
		presignTTL:     presignTTL,
		tempDir:        cfg.Upload.TempDir,
		processor:      opts.Processor,
		converter:      converter,
		faces:          opts.Faces,
		catalog:        domain.NewModelCatalog(cfg.Rembg.DefaultModel),
		uploads:        upload.NewValidator(cfg.Upload.AllowedExtensions, cfg.Upload.MaxBytes),
		limits:         cfg.Processing,
		allowedOrigins: cfg.Security.AllowedOrigins,
		allowList:      allowList,
		verifier:       security.NewVerifier(cfg.Security.APIKeySecret, cfg.Security.SignatureSkew),
		adminHash:      cfg.Security.AdminPasswordHash,
		trusted:        trusted,
		rateLimiter:    opts.RateLimiter,
		asyncJobs:      cfg.API.AsyncJobs && opts.Queue != nil && opts.Jobs != nil && opts.Storage != nil,
		queueClient:    opts.Queue,
		storage:        storage,
		jobStore:       opts.Jobs,
		metrics:        newMetrics(opts.Processor.Pool()),
		tracer:         otel.Tracer("cutout/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) WriteObject(context.Context, string, []byte, string) error {
	return errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

// Handler wraps the routes with the middleware chain. Outermost first:
// recovery, metrics, tracing, CORS, IP allow-list, API key, rate limit.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withAPIKey(h)
	h = s.withAllowList(h)
	h = s.withCORS(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withRecover(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /remove-background", s.handleRemoveBackground)
	s.mux.HandleFunc("POST /process-image", s.handleProcessImage)
	s.mux.HandleFunc("POST /resize", s.handleResize)
	s.mux.HandleFunc("POST /resize-crop", s.handleResizeCrop)
	s.mux.HandleFunc("POST /convert-image", s.handleConvert)
	s.mux.HandleFunc("POST /xnresize", s.handleXnResize)
	s.mux.HandleFunc("POST /crop-below-mouth", s.handleCropBelowMouth)

	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /test-image", s.handleTestImage)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

// httpError is the JSON body of every failed request.
type httpError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func classify(err error) httpError {
	switch {
	case upload.IsClientError(err),
		errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, pipeline.ErrEmptySource),
		errors.Is(err, pipeline.ErrInvalidDimensions):
		return httpError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, security.ErrIPNotAllowed):
		return httpError{Status: http.StatusForbidden, Message: err.Error()}
	case errors.Is(err, security.ErrMissingCredentials),
		errors.Is(err, security.ErrInvalidTimestamp),
		errors.Is(err, security.ErrInvalidSignature):
		return httpError{Status: http.StatusUnauthorized, Message: err.Error()}
	case errors.Is(err, store.ErrJobNotFound):
		return httpError{Status: http.StatusNotFound, Message: "job not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return httpError{Status: http.StatusGatewayTimeout, Message: "processing timed out"}
	case errors.Is(err, context.Canceled):
		return httpError{Status: statusClientClosedRequest, Message: "request canceled"}
	case errors.Is(err, facedetect.ErrUnavailable):
		return httpError{Status: http.StatusNotImplemented, Message: err.Error()}
	case errors.Is(err, facedetect.ErrNoFace):
		return httpError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, xnconvert.ErrNotConfigured), errors.Is(err, errAsyncDisabled):
		return httpError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	case errors.Is(err, pipeline.ErrDecodeImage):
		return httpError{Status: http.StatusInternalServerError, Message: pipeline.ErrDecodeImage.Error(), Details: err.Error()}
	default:
		return httpError{
			Status:  http.StatusInternalServerError,
			Message: "error during processing: " + rootCause(err).Error(),
			Details: err.Error(),
		}
	}
}

// rootCause follows single-error wrapping down to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := classify(err)
	if he.Status == statusClientClosedRequest {
		if s.debug {
			s.logger.Printf("client went away method=%s path=%s", r.Method, r.URL.Path)
		}
		writeJSON(w, he.Status, he)
		return
	}
	if he.Status >= http.StatusInternalServerError {
		s.logger.Printf("request failed method=%s path=%s status=%d err=%v", r.Method, r.URL.Path, he.Status, err)
	} else if s.debug {
		s.logger.Printf("request rejected method=%s path=%s status=%d err=%v", r.Method, r.URL.Path, he.Status, err)
	}
	writeJSON(w, he.Status, he)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
