package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/domain"
)

func TestEncodeFormats(t *testing.T) {
	img := imaging.New(16, 12, color.NRGBA{R: 200, G: 10, B: 10, A: 128})

	for _, format := range []domain.Format{
		domain.FormatPNG,
		domain.FormatJPEG,
		domain.FormatWebP,
		domain.FormatTIFF,
		domain.FormatBMP,
	} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(img, domain.OutputOptions{Format: format, Quality: 80})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, name, err := Decode(data)
			if err != nil {
				t.Fatalf("decode %s output: %v", format, err)
			}
			if decoded.Bounds().Dx() != 16 || decoded.Bounds().Dy() != 12 {
				t.Fatalf("unexpected bounds %v", decoded.Bounds())
			}
			if !format.SupportsAlpha() && HasTransparency(decoded) {
				t.Fatalf("%s output (%s) should be opaque", format, name)
			}
		})
	}
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	_, err := Encode(imaging.New(1, 1, color.NRGBA{A: 255}), domain.OutputOptions{Format: "gif"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFlattenUsesOpaqueBackground(t *testing.T) {
	img := imaging.New(2, 1, color.NRGBA{})
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	out := Flatten(img, color.NRGBA{R: 255, G: 255, B: 255})
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("expected white background, got %+v", got)
	}
	if got := out.NRGBAAt(1, 0); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Fatalf("expected subject pixel, got %+v", got)
	}
	if HasTransparency(out) {
		t.Fatalf("flattened image should be opaque")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode(bytes.Repeat([]byte{0x42}, 64)); !errors.Is(err, ErrDecodeImage) {
		t.Fatalf("expected ErrDecodeImage, got %v", err)
	}
}

func TestTransformerFillCropsExactly(t *testing.T) {
	src := imaging.New(400, 200, color.NRGBA{A: 255})
	for y := 0; y < 200; y++ {
		for x := 300; x < 400; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}

	out, err := imagingTransformer{}.Transform(t.Context(), src, domain.TransformRequest{
		Width:  100,
		Height: 100,
		Mode:   domain.ModeFill,
		Anchor: domain.AnchorRight,
		Filter: domain.FilterNearest,
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 100, 100) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if r, _, _, _ := out.At(90, 50).RGBA(); r>>8 != 255 {
		t.Fatalf("expected right edge to survive crop")
	}
	if r, _, _, _ := out.At(5, 50).RGBA(); r>>8 != 0 {
		t.Fatalf("expected left region to be black")
	}
}

func TestTransformerNoOpReturnsInput(t *testing.T) {
	src := imaging.New(10, 10, color.NRGBA{A: 255})
	out, err := imagingTransformer{}.Transform(t.Context(), src, domain.TransformRequest{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != image.Image(src) {
		t.Fatalf("expected identical image for no-op transform")
	}
}
