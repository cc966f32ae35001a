package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/cutout/internal/domain"
)

var ErrStagesNotConfigured = errors.New("object store stages are not configured")

// Fetcher loads job sources.
type Fetcher interface {
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
}

// Emitter persists job outputs.
type Emitter interface {
	Emit(ctx context.Context, jobID string, res Result) (Output, error)
}

type Output struct {
	ObjectKey   string        `json:"object_key"`
	Format      domain.Format `json:"format"`
	ContentType string        `json:"content_type"`
	Bytes       int           `json:"bytes"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
}

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage objectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(objectKey) == "" {
		return nil, errors.New("source object key is required")
	}
	return f.Storage.ReadObject(ctx, objectKey)
}

type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, jobID string, res Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := OutputKey(e.OutputPrefix, jobID, res.Format)
	if err := e.Storage.WriteObject(ctx, objectKey, res.Data, res.Format.MIME()); err != nil {
		return Output{}, err
	}

	return Output{
		ObjectKey:   objectKey,
		Format:      res.Format,
		ContentType: res.Format.MIME(),
		Bytes:       len(res.Data),
		Width:       res.Width,
		Height:      res.Height,
	}, nil
}

// SourceKey is where the API stores an async job's upload.
func SourceKey(jobID string) string {
	return path.Join("uploads", sanitizePathToken(jobID), "source")
}

func OutputKey(prefix, jobID string, format domain.Format) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "outputs"
	}
	return path.Join(prefix, sanitizePathToken(jobID), "result."+format.Extension())
}

// WithStages attaches object store stages for ProcessObject.
func (p *Processor) WithStages(fetcher Fetcher, emitter Emitter) *Processor {
	p.fetcher = fetcher
	p.emitter = emitter
	return p
}

// ProcessObject fetches sourceKey, runs the pipeline and stores the result.
func (p *Processor) ProcessObject(ctx context.Context, jobID, sourceKey string, req domain.ProcessRequest) (Output, Result, error) {
	if p.fetcher == nil || p.emitter == nil {
		return Output{}, Result{}, ErrStagesNotConfigured
	}

	source, err := p.fetcher.Fetch(ctx, sourceKey)
	if err != nil {
		return Output{}, Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	res, err := p.Process(ctx, Request{Source: source, Process: req})
	if err != nil {
		return Output{}, Result{}, err
	}

	out, err := p.emitter.Emit(ctx, jobID, res)
	if err != nil {
		return Output{}, Result{}, fmt.Errorf("emit stage: %w", err)
	}
	return out, res, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
