package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/rembg"
	"github.com/dunamismax/cutout/internal/tempfile"
	"github.com/dunamismax/cutout/internal/workpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrEmptySource = errors.New("source image is empty")

type Request struct {
	Source  []byte
	Process domain.ProcessRequest
}

type Result struct {
	Data        []byte
	Format      domain.Format
	Width       int
	Height      int
	SourceBytes int
	Removed     bool
}

// Processor runs decode, background removal, transform and encode for one
// image on the shared worker pool.
type Processor struct {
	remover     rembg.Remover
	transformer Transformer
	pool        *workpool.Pool
	tempDir     string
	tracer      trace.Tracer

	fetcher Fetcher
	emitter Emitter
}

func NewProcessor(remover rembg.Remover, transformer Transformer, pool *workpool.Pool, tempDir string) (*Processor, error) {
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	if remover == nil {
		remover = rembg.NoopRemover{}
	}
	if transformer == nil {
		t, err := newTransformer()
		if err != nil {
			return nil, fmt.Errorf("build transformer: %w", err)
		}
		transformer = t
	}

	return &Processor{
		remover:     remover,
		transformer: transformer,
		pool:        pool,
		tempDir:     tempDir,
		tracer:      otel.Tracer("cutout/pipeline"),
	}, nil
}

func (p *Processor) Remover() rembg.Remover { return p.remover }

func (p *Processor) Transformer() Transformer { return p.transformer }

func (p *Processor) Pool() *workpool.Pool { return p.pool }

// Process runs the full pipeline. Callers bound it with ctx; on expiry the
// error is ctx.Err().
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if len(req.Source) == 0 {
		return Result{}, ErrEmptySource
	}
	return workpool.Do(ctx, p.pool, func(ctx context.Context) (Result, error) {
		return p.run(ctx, req)
	})
}

// Run executes fn on the worker pool. Handlers with custom stages use it to
// stay behind the same concurrency bound.
func (p *Processor) Run(ctx context.Context, fn func(context.Context) (Result, error)) (Result, error) {
	return workpool.Do(ctx, p.pool, fn)
}

func (p *Processor) run(ctx context.Context, req Request) (Result, error) {
	scope := tempfile.NewScope(p.tempDir)
	defer scope.Close()

	img, err := p.decode(ctx, req.Source)
	if err != nil {
		return Result{}, err
	}

	removed := false
	if req.Process.RemoveBackground {
		img, err = p.removeBackground(ctx, img, rembg.Options{
			Model:             req.Process.Model,
			ContentModeration: req.Process.ContentModeration,
			Scope:             scope,
		})
		if err != nil {
			return Result{}, err
		}
		removed = true
	}

	if !req.Process.Transform.Empty() {
		img, err = p.transform(ctx, img, req.Process.Transform)
		if err != nil {
			return Result{}, err
		}
	}

	res, err := p.Encode(ctx, img, req.Process.Output)
	if err != nil {
		return Result{}, err
	}
	res.SourceBytes = len(req.Source)
	res.Removed = removed
	return res, nil
}

func (p *Processor) decode(ctx context.Context, data []byte) (image.Image, error) {
	_, span := p.tracer.Start(ctx, "pipeline.decode")
	defer span.End()

	img, format, err := Decode(data)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("decode stage: %w", err)
	}
	span.SetAttributes(
		attribute.String("image.format", format),
		attribute.Int("image.width", img.Bounds().Dx()),
		attribute.Int("image.height", img.Bounds().Dy()),
	)
	return img, nil
}

func (p *Processor) removeBackground(ctx context.Context, img image.Image, opts rembg.Options) (image.Image, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.remove_background")
	defer span.End()
	span.SetAttributes(
		attribute.String("rembg.backend", p.remover.Name()),
		attribute.String("rembg.model", opts.Model),
	)

	out, err := p.remover.Remove(ctx, img, opts)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("remove stage: %w", err)
	}
	return out, nil
}

func (p *Processor) transform(ctx context.Context, img image.Image, req domain.TransformRequest) (image.Image, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.transform")
	defer span.End()
	span.SetAttributes(
		attribute.String("transform.engine", p.transformer.Name()),
		attribute.String("transform.mode", string(req.Mode)),
		attribute.Int("transform.width", req.Width),
		attribute.Int("transform.height", req.Height),
	)

	out, err := p.transformer.Transform(ctx, img, req)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("transform stage: %w", err)
	}
	return out, nil
}

// Encode serializes img and reports the final dimensions.
func (p *Processor) Encode(ctx context.Context, img image.Image, opts domain.OutputOptions) (Result, error) {
	_, span := p.tracer.Start(ctx, "pipeline.encode")
	defer span.End()
	span.SetAttributes(attribute.String("image.output_format", string(opts.Format)))

	data, err := Encode(img, opts)
	if err != nil {
		failSpan(span, err)
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	format := opts.Format
	if format == "" {
		format = domain.FormatPNG
	}
	b := img.Bounds()
	return Result{
		Data:   data,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
