package pipeline

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/domain"
)

type imagingTransformer struct{}

func (imagingTransformer) Name() string { return "imaging" }

func (imagingTransformer) Transform(ctx context.Context, img image.Image, req domain.TransformRequest) (image.Image, error) {
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

	filter := resampleFilter(req.Filter)
	switch plan.Op {
	case OpNone:
		return img, nil
	case OpResize:
		return imaging.Resize(img, plan.ResizeW, plan.ResizeH, filter), nil
	case OpFit:
		resized := imaging.Resize(img, plan.ResizeW, plan.ResizeH, filter)
		canvas := imaging.New(plan.CanvasW, plan.CanvasH, req.Background)
		return imaging.Overlay(canvas, resized, image.Pt(plan.OffsetX, plan.OffsetY), 1.0), nil
	case OpFill:
		resized := imaging.Resize(img, plan.ResizeW, plan.ResizeH, filter)
		area := image.Rect(plan.OffsetX, plan.OffsetY, plan.OffsetX+plan.CanvasW, plan.OffsetY+plan.CanvasH)
		return imaging.Crop(resized, area), nil
	default:
		return img, nil
	}
}

func resampleFilter(f domain.Filter) imaging.ResampleFilter {
	switch f {
	case domain.FilterNearest:
		return imaging.NearestNeighbor
	case domain.FilterBox:
		return imaging.Box
	case domain.FilterLinear:
		return imaging.Linear
	case domain.FilterCatmullRom:
		return imaging.CatmullRom
	case domain.FilterMitchell:
		return imaging.MitchellNetravali
	default:
		return imaging.Lanczos
	}
}
