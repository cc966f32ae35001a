package facedetect

import (
	"context"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// MouthRatio places the mouth line at this fraction of the face box height.
const MouthRatio = 0.78

var (
	ErrUnavailable = errors.New("face detection is not available in this build")
	ErrNoFace      = errors.New("no face detected")
)

// Detector finds face boxes in image coordinates.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
	Close() error
}

// New returns the detector compiled into this build. Without one, the
// returned detector reports ErrUnavailable on every call.
func New(cascadePath string) (Detector, error) {
	return newDetector(cascadePath)
}

type unavailable struct{}

func (unavailable) Name() string { return "none" }

func (unavailable) Detect(context.Context, image.Image) ([]image.Rectangle, error) {
	return nil, ErrUnavailable
}

func (unavailable) Close() error { return nil }

// Largest returns the face with the biggest area.
func Largest(faces []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	for _, f := range faces {
		if f.Empty() {
			continue
		}
		if !found || area(f) > area(best) {
			best = f
			found = true
		}
	}
	return best, found
}

// MouthLine is the estimated y coordinate of the mouth inside face.
func MouthLine(face image.Rectangle) int {
	return face.Min.Y + int(float64(face.Dy())*MouthRatio)
}

// CropBelowMouth detects the largest face and keeps everything from the top
// of the image down to its mouth line.
func CropBelowMouth(ctx context.Context, d Detector, img image.Image) (*image.NRGBA, image.Rectangle, error) {
	faces, err := d.Detect(ctx, img)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	face, ok := Largest(faces)
	if !ok {
		return nil, image.Rectangle{}, ErrNoFace
	}

	b := img.Bounds()
	bottom := min(max(MouthLine(face), b.Min.Y+1), b.Max.Y)
	keep := image.Rect(b.Min.X, b.Min.Y, b.Max.X, bottom)
	return imaging.Crop(img, keep), face, nil
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
