//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/cutout/internal/domain"
)

type govipsTransformer struct{}

func (govipsTransformer) Name() string { return "govips" }

func (govipsTransformer) Transform(ctx context.Context, img image.Image, req domain.TransformRequest) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b := img.Bounds()
	plan, err := PlanTransform(b.Dx(), b.Dy(), req)
	if err != nil {
		return nil, err
	}
	if plan.Op == OpNone {
		return img, nil
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("stage image for vips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load image into vips: %w", err)
	}
	defer ref.Close()

	hScale := float64(plan.ResizeW) / float64(b.Dx())
	vScale := float64(plan.ResizeH) / float64(b.Dy())
	if err := ref.ResizeWithVScale(hScale, vScale, vipsKernel(req.Filter)); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	switch plan.Op {
	case OpFit:
		if !ref.HasAlpha() {
			if err := ref.AddAlpha(); err != nil {
				return nil, fmt.Errorf("add alpha: %w", err)
			}
		}
		bg := &vips.ColorRGBA{R: req.Background.R, G: req.Background.G, B: req.Background.B, A: req.Background.A}
		if err := ref.EmbedBackgroundRGBA(plan.OffsetX, plan.OffsetY, plan.CanvasW, plan.CanvasH, bg); err != nil {
			return nil, fmt.Errorf("embed on canvas: %w", err)
		}
	case OpFill:
		if err := ref.ExtractArea(plan.OffsetX, plan.OffsetY, plan.CanvasW, plan.CanvasH); err != nil {
			return nil, fmt.Errorf("crop image: %w", err)
		}
	}

	out, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("export vips image: %w", err)
	}
	return out, nil
}

func vipsKernel(f domain.Filter) vips.Kernel {
	switch f {
	case domain.FilterNearest:
		return vips.KernelNearest
	case domain.FilterBox, domain.FilterLinear:
		return vips.KernelLinear
	case domain.FilterCatmullRom:
		return vips.KernelCubic
	case domain.FilterMitchell:
		return vips.KernelMitchell
	default:
		return vips.KernelLanczos3
	}
}
