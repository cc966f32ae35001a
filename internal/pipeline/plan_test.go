package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/cutout/internal/domain"
)

func TestPlanTransform(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		req        domain.TransformRequest
		want       Plan
	}{
		{
			name: "fit letterboxes a square into a tall canvas",
			srcW: 1000, srcH: 1000,
			req:  domain.TransformRequest{Width: 500, Height: 800, Mode: domain.ModeFit},
			want: Plan{Op: OpFit, ResizeW: 500, ResizeH: 500, CanvasW: 500, CanvasH: 800, OffsetX: 0, OffsetY: 150},
		},
		{
			name: "fit honors top-left anchor",
			srcW: 1000, srcH: 1000,
			req:  domain.TransformRequest{Width: 500, Height: 800, Mode: domain.ModeFit, Anchor: domain.AnchorTopLeft},
			want: Plan{Op: OpFit, ResizeW: 500, ResizeH: 500, CanvasW: 500, CanvasH: 800},
		},
		{
			name: "empty mode behaves as fit",
			srcW: 400, srcH: 200,
			req:  domain.TransformRequest{Width: 200, Height: 200},
			want: Plan{Op: OpFit, ResizeW: 200, ResizeH: 100, CanvasW: 200, CanvasH: 200, OffsetY: 50},
		},
		{
			name: "fill covers then crops centered",
			srcW: 400, srcH: 200,
			req:  domain.TransformRequest{Width: 200, Height: 200, Mode: domain.ModeFill},
			want: Plan{Op: OpFill, ResizeW: 400, ResizeH: 200, CanvasW: 200, CanvasH: 200, OffsetX: 100},
		},
		{
			name: "fill with right anchor keeps the right edge",
			srcW: 400, srcH: 200,
			req:  domain.TransformRequest{Width: 100, Height: 100, Mode: domain.ModeFill, Anchor: domain.AnchorRight},
			want: Plan{Op: OpFill, ResizeW: 200, ResizeH: 100, CanvasW: 100, CanvasH: 100, OffsetX: 100},
		},
		{
			name: "stretch ignores aspect",
			srcW: 300, srcH: 100,
			req:  domain.TransformRequest{Width: 150, Height: 150, Mode: domain.ModeStretch},
			want: Plan{Op: OpResize, ResizeW: 150, ResizeH: 150, CanvasW: 150, CanvasH: 150},
		},
		{
			name: "matching dimensions are a no-op",
			srcW: 640, srcH: 480,
			req:  domain.TransformRequest{Width: 640, Height: 480, Mode: domain.ModeFill},
			want: Plan{Op: OpNone, CanvasW: 640, CanvasH: 480},
		},
		{
			name: "width only keeps aspect",
			srcW: 800, srcH: 600,
			req:  domain.TransformRequest{Width: 400},
			want: Plan{Op: OpResize, ResizeW: 400, ResizeH: 300, CanvasW: 400, CanvasH: 300},
		},
		{
			name: "height only keeps aspect",
			srcW: 800, srcH: 600,
			req:  domain.TransformRequest{Height: 150},
			want: Plan{Op: OpResize, ResizeW: 200, ResizeH: 150, CanvasW: 200, CanvasH: 150},
		},
		{
			name: "max size downscales the longest side",
			srcW: 2000, srcH: 1000,
			req:  domain.TransformRequest{MaxSize: 500},
			want: Plan{Op: OpResize, ResizeW: 500, ResizeH: 250, CanvasW: 500, CanvasH: 250},
		},
		{
			name: "max size never upscales",
			srcW: 300, srcH: 200,
			req:  domain.TransformRequest{MaxSize: 500},
			want: Plan{Op: OpNone, CanvasW: 300, CanvasH: 200},
		},
		{
			name: "extreme aspect keeps at least one pixel",
			srcW: 10000, srcH: 10,
			req:  domain.TransformRequest{Width: 100},
			want: Plan{Op: OpResize, ResizeW: 100, ResizeH: 1, CanvasW: 100, CanvasH: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PlanTransform(tc.srcW, tc.srcH, tc.req)
			if err != nil {
				t.Fatalf("plan transform: %v", err)
			}
			if got != tc.want {
				t.Fatalf("plan mismatch:\n got %+v\nwant %+v", got, tc.want)
			}
		})
	}
}

func TestPlanTransformRejectsInvalidInput(t *testing.T) {
	if _, err := PlanTransform(0, 10, domain.TransformRequest{Width: 5}); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}

	_, err := PlanTransform(10, 10, domain.TransformRequest{Width: 5, Height: 6, Mode: "sideways"})
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestOpString(t *testing.T) {
	for op, want := range map[Op]string{OpNone: "none", OpResize: "resize", OpFit: "fit", OpFill: "fill"} {
		if op.String() != want {
			t.Fatalf("op %d: expected %q, got %q", op, want, op.String())
		}
	}
}
