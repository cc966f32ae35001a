// Package rembg removes image backgrounds through one of several backends
// chosen at startup.
package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/tempfile"
)

var (
	ErrMissingCredential = errors.New("BRIA_API_TOKEN is not configured")
	ErrMissingResult     = errors.New("background removal response has no result_url")
	ErrCommandFailed     = errors.New("background removal command failed")
	ErrUnknownBackend    = errors.New("unknown background removal backend")
)

// Options are per-call settings. Scope, when set, owns any temp files the
// backend needs.
type Options struct {
	Model             string
	ContentModeration bool
	Scope             *tempfile.Scope
}

// Remover returns a copy of img whose background pixels carry reduced alpha.
type Remover interface {
	Name() string
	Remove(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error)
}

// New builds the backend named by cfg.Backend.
func New(cfg config.RembgConfig, logger *log.Logger) (Remover, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "onnx", "local", "":
		return NewONNXRemover(cfg.ModelDir, cfg.ONNXLibPath), nil
	case "bria", "remote":
		if cfg.BriaToken == "" && logger != nil {
			logger.Printf("bria backend selected without BRIA_API_TOKEN; requests will fail")
		}
		return NewBriaRemover(BriaConfig{
			Token:        cfg.BriaToken,
			Endpoint:     cfg.BriaURL,
			PollAttempts: cfg.BriaPollAttempts,
			PollInterval: cfg.BriaPollInterval,
		}), nil
	case "command", "subprocess":
		return NewCommandRemover(cfg.Command)
	case "none":
		return NoopRemover{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// NoopRemover passes images through unchanged, for deployments that only
// resize and convert.
type NoopRemover struct{}

func (NoopRemover) Name() string { return "none" }

func (NoopRemover) Remove(ctx context.Context, img image.Image, _ Options) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}
