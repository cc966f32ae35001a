package facedetect

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDetector []image.Rectangle

func (fixedDetector) Name() string { return "fixed" }

func (f fixedDetector) Detect(context.Context, image.Image) ([]image.Rectangle, error) {
	return f, nil
}

func (fixedDetector) Close() error { return nil }

func TestCropBelowMouthKeepsTopThroughMouth(t *testing.T) {
	img := imaging.New(200, 300, color.NRGBA{A: 255})
	d := fixedDetector{
		image.Rect(10, 10, 30, 30),
		image.Rect(50, 40, 150, 140),
	}

	out, face, err := CropBelowMouth(context.Background(), d, img)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(50, 40, 150, 140), face)
	assert.Equal(t, 118, MouthLine(face))
	assert.Equal(t, image.Rect(0, 0, 200, 118), out.Bounds())
}

func TestCropBelowMouthNoFace(t *testing.T) {
	_, _, err := CropBelowMouth(context.Background(), fixedDetector{}, imaging.New(10, 10, color.NRGBA{}))
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestUnavailableDetector(t *testing.T) {
	_, _, err := CropBelowMouth(context.Background(), unavailable{}, imaging.New(10, 10, color.NRGBA{}))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLargestSkipsEmpty(t *testing.T) {
	_, ok := Largest([]image.Rectangle{{}})
	assert.False(t, ok)

	r, ok := Largest([]image.Rectangle{image.Rect(0, 0, 5, 5), image.Rect(0, 0, 2, 20)})
	assert.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 2, 20), r)
}
