package domain

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
)

// ErrInvalidParameter marks request values that can never be processed.
var ErrInvalidParameter = errors.New("invalid parameter")

type ResizeMode string

const (
	ModeFit     ResizeMode = "fit"
	ModeStretch ResizeMode = "stretch"
	ModeFill    ResizeMode = "fill"
)

func ParseResizeMode(value string) (ResizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fit", "contain", "pad":
		return ModeFit, nil
	case "stretch", "exact":
		return ModeStretch, nil
	case "fill", "cover", "crop":
		return ModeFill, nil
	default:
		return "", fmt.Errorf("%w: mode %q (expected fit, stretch or fill)", ErrInvalidParameter, value)
	}
}

// Anchor selects which region survives a fill crop, or where a fit pastes.
type Anchor string

const (
	AnchorCenter      Anchor = "center"
	AnchorTop         Anchor = "top"
	AnchorBottom      Anchor = "bottom"
	AnchorLeft        Anchor = "left"
	AnchorRight       Anchor = "right"
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

var anchorAliases = map[string]Anchor{
	"center":       AnchorCenter,
	"centre":       AnchorCenter,
	"middle":       AnchorCenter,
	"top":          AnchorTop,
	"north":        AnchorTop,
	"bottom":       AnchorBottom,
	"south":        AnchorBottom,
	"left":         AnchorLeft,
	"west":         AnchorLeft,
	"right":        AnchorRight,
	"east":         AnchorRight,
	"top-left":     AnchorTopLeft,
	"northwest":    AnchorTopLeft,
	"top-right":    AnchorTopRight,
	"northeast":    AnchorTopRight,
	"bottom-left":  AnchorBottomLeft,
	"southwest":    AnchorBottomLeft,
	"bottom-right": AnchorBottomRight,
	"southeast":    AnchorBottomRight,
}

func ParseAnchor(value string) (Anchor, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	if a, ok := anchorAliases[key]; ok {
		return a, nil
	}
	// topleft, bottomright, ...
	for _, a := range []Anchor{AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight} {
		if key == strings.ReplaceAll(string(a), "-", "") {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: crop_position %q", ErrInvalidParameter, value)
}

// Fractions returns the horizontal and vertical placement of the anchor in [0, 1].
func (a Anchor) Fractions() (fx, fy float64) {
	fx, fy = 0.5, 0.5
	switch a {
	case AnchorTop, AnchorTopLeft, AnchorTopRight:
		fy = 0
	case AnchorBottom, AnchorBottomLeft, AnchorBottomRight:
		fy = 1
	}
	switch a {
	case AnchorLeft, AnchorTopLeft, AnchorBottomLeft:
		fx = 0
	case AnchorRight, AnchorTopRight, AnchorBottomRight:
		fx = 1
	}
	return fx, fy
}

type Filter string

const (
	FilterNearest    Filter = "nearest"
	FilterBox        Filter = "box"
	FilterLinear     Filter = "linear"
	FilterCatmullRom Filter = "catmullrom"
	FilterMitchell   Filter = "mitchell"
	FilterLanczos    Filter = "lanczos"
)

// ParseFilter never fails: unknown names select Lanczos.
func ParseFilter(value string) Filter {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "nearest", "nearestneighbor", "nearest_neighbor":
		return FilterNearest
	case "box":
		return FilterBox
	case "linear", "bilinear", "triangle":
		return FilterLinear
	case "catmullrom", "bicubic", "cubic":
		return FilterCatmullRom
	case "mitchell", "mitchellnetravali":
		return FilterMitchell
	default:
		return FilterLanczos
	}
}

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	default:
		return "", fmt.Errorf("%w: format %q", ErrInvalidParameter, value)
	}
}

func (f Format) SupportsAlpha() bool {
	switch f {
	case FormatPNG, FormatWebP, FormatAVIF, FormatTIFF:
		return true
	default:
		return false
	}
}

func (f Format) Lossy() bool {
	switch f {
	case FormatJPEG, FormatWebP, FormatAVIF:
		return true
	default:
		return false
	}
}

func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	if f == "" {
		return string(FormatPNG)
	}
	return string(f)
}

// TransformRequest describes the geometry applied after background removal.
// Zero Width/Height/MaxSize mean "unset".
type TransformRequest struct {
	Width      int
	Height     int
	MaxSize    int
	Mode       ResizeMode
	KeepAspect bool
	Filter     Filter
	Anchor     Anchor
	Background color.NRGBA
}

// Empty reports whether no geometric change was requested.
func (r TransformRequest) Empty() bool {
	return r.Width <= 0 && r.Height <= 0 && r.MaxSize <= 0
}

// Bounds clamps target dimensions to [min, max]. Unset dimensions stay unset.
func (r TransformRequest) Bounds(min, max int) TransformRequest {
	r.Width = clampDim(r.Width, min, max)
	r.Height = clampDim(r.Height, min, max)
	r.MaxSize = clampDim(r.MaxSize, min, max)
	return r
}

func clampDim(v, lo, hi int) int {
	if v <= 0 {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// OutputOptions controls encoding of the final image.
type OutputOptions struct {
	Format  Format
	Quality int
	Flatten color.NRGBA
}
