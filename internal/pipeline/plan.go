package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/cutout/internal/domain"
)

var ErrInvalidDimensions = errors.New("source image has invalid dimensions")

type Op int

const (
	// OpNone leaves the image untouched.
	OpNone Op = iota
	// OpResize resamples to ResizeW x ResizeH.
	OpResize
	// OpFit resamples, then pastes at Offset on a CanvasW x CanvasH background.
	OpFit
	// OpFill resamples, then crops CanvasW x CanvasH starting at Offset.
	OpFill
)

func (o Op) String() string {
	switch o {
	case OpResize:
		return "resize"
	case OpFit:
		return "fit"
	case OpFill:
		return "fill"
	default:
		return "none"
	}
}

// Plan is the backend-independent geometry of a transform.
type Plan struct {
	Op      Op
	ResizeW int
	ResizeH int
	CanvasW int
	CanvasH int
	OffsetX int
	OffsetY int
}

// PlanTransform computes the geometry for a srcW x srcH image. Intermediate
// sizes are computed in float64 and truncated.
func PlanTransform(srcW, srcH int, req domain.TransformRequest) (Plan, error) {
	if srcW <= 0 || srcH <= 0 {
		return Plan{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, srcW, srcH)
	}

	w, h := req.Width, req.Height
	switch {
	case w > 0 && h > 0:
		return planBoth(srcW, srcH, w, h, req)
	case w > 0:
		return planResize(srcW, srcH, w, truncDim(float64(srcH)*float64(w)/float64(srcW))), nil
	case h > 0:
		return planResize(srcW, srcH, truncDim(float64(srcW)*float64(h)/float64(srcH)), h), nil
	case req.MaxSize > 0:
		longest := max(srcW, srcH)
		if longest <= req.MaxSize {
			return Plan{Op: OpNone, CanvasW: srcW, CanvasH: srcH}, nil
		}
		scale := float64(req.MaxSize) / float64(longest)
		return planResize(srcW, srcH, truncDim(float64(srcW)*scale), truncDim(float64(srcH)*scale)), nil
	default:
		return Plan{Op: OpNone, CanvasW: srcW, CanvasH: srcH}, nil
	}
}

func planBoth(srcW, srcH, w, h int, req domain.TransformRequest) (Plan, error) {
	if srcW == w && srcH == h {
		return Plan{Op: OpNone, CanvasW: w, CanvasH: h}, nil
	}

	sx := float64(w) / float64(srcW)
	sy := float64(h) / float64(srcH)
	fx, fy := req.Anchor.Fractions()

	switch req.Mode {
	case domain.ModeStretch:
		return planResize(srcW, srcH, w, h), nil

	case domain.ModeFill:
		rw, rh := w, h
		if sx >= sy {
			rh = max(h, truncDim(float64(srcH)*sx))
		} else {
			rw = max(w, truncDim(float64(srcW)*sy))
		}
		return Plan{
			Op:      OpFill,
			ResizeW: rw,
			ResizeH: rh,
			CanvasW: w,
			CanvasH: h,
			OffsetX: int(float64(rw-w) * fx),
			OffsetY: int(float64(rh-h) * fy),
		}, nil

	case domain.ModeFit, "":
		rw, rh := w, h
		if sx <= sy {
			rh = min(h, truncDim(float64(srcH)*sx))
		} else {
			rw = min(w, truncDim(float64(srcW)*sy))
		}
		return Plan{
			Op:      OpFit,
			ResizeW: rw,
			ResizeH: rh,
			CanvasW: w,
			CanvasH: h,
			OffsetX: int(float64(w-rw) * fx),
			OffsetY: int(float64(h-rh) * fy),
		}, nil

	default:
		return Plan{}, fmt.Errorf("%w: mode %q", domain.ErrInvalidParameter, req.Mode)
	}
}

func planResize(srcW, srcH, w, h int) Plan {
	if srcW == w && srcH == h {
		return Plan{Op: OpNone, CanvasW: w, CanvasH: h}
	}
	return Plan{Op: OpResize, ResizeW: w, ResizeH: h, CanvasW: w, CanvasH: h}
}

func truncDim(v float64) int {
	return max(1, int(v))
}
