package rembg

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

type normalization struct {
	mean [3]float32
	std  [3]float32
}

var (
	imagenetNorm = normalization{
		mean: [3]float32{0.485, 0.456, 0.406},
		std:  [3]float32{0.229, 0.224, 0.225},
	}
	isnetNorm = normalization{
		mean: [3]float32{0.5, 0.5, 0.5},
		std:  [3]float32{1, 1, 1},
	}
)

func normalizationFor(model string) normalization {
	if model == "isnet-general-use" {
		return isnetNorm
	}
	return imagenetNorm
}

// tensorFromImage resizes img to w x h and lays it out as NCHW float32,
// scaled by the brightest channel value and then normalized.
func tensorFromImage(img image.Image, w, h int, norm normalization) []float32 {
	scaled := imaging.Clone(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))

	var peak uint8 = 1
	for i := 0; i < len(scaled.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if scaled.Pix[i+c] > peak {
				peak = scaled.Pix[i+c]
			}
		}
	}

	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*scaled.Stride + x*4
			idx := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[i+c]) / float32(peak)
				out[c*plane+idx] = (v - norm.mean[c]) / norm.std[c]
			}
		}
	}
	return out
}

// maskFromTensor min-max normalizes the first w*h values into a gray mask.
func maskFromTensor(data []float32, w, h int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, w, h))
	n := w * h
	if len(data) < n {
		return mask
	}

	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range data[:n] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	for i, v := range data[:n] {
		mask.Pix[i] = uint8(math.Round(float64((v - lo) / span * 255)))
	}
	return mask
}

// applyMask scales mask to img's size and multiplies it into the alpha channel.
func applyMask(img image.Image, mask *image.Gray) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	m := mask
	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		scaled := resize.Resize(uint(w), uint(h), mask, resize.Bilinear)
		m = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, _, _, _ := scaled.At(scaled.Bounds().Min.X+x, scaled.Bounds().Min.Y+y).RGBA()
				m.Pix[y*m.Stride+x] = uint8(r >> 8)
			}
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := &out.Pix[y*out.Stride+x*4+3]
			*a = uint8(uint16(*a) * uint16(m.Pix[y*m.Stride+x]) / 255)
		}
	}
	return out
}
