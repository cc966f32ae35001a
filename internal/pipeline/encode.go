package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	webp "github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/domain"
	"github.com/gen2brain/avif"
)

const (
	DefaultQuality   = 90
	DefaultAVIFSpeed = 6
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encode serializes img. Formats without an alpha channel get translucent
// pixels composited onto opts.Flatten first. Quality only affects lossy formats.
func Encode(img image.Image, opts domain.OutputOptions) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}

	format := opts.Format
	if format == "" {
		format = domain.FormatPNG
	}
	if !format.SupportsAlpha() && HasTransparency(img) {
		img = Flatten(img, opts.Flatten)
	}

	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var (
		buf bytes.Buffer
		err error
	)
	switch format {
	case domain.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case domain.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case domain.FormatTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case domain.FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case domain.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case domain.FormatAVIF:
		err = avif.Encode(&buf, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: DefaultAVIFSpeed})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Flatten composites img onto an opaque background of the given color.
func Flatten(img image.Image, bg color.NRGBA) *image.NRGBA {
	bg.A = 255
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// HasTransparency reports whether any pixel is not fully opaque.
func HasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}
