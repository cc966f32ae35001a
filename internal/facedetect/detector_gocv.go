//go:build gocv

package facedetect

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// cascadeDetector wraps an OpenCV Haar cascade. CascadeClassifier is not
// safe for concurrent use.
type cascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func newDetector(cascadePath string) (Detector, error) {
	cascadePath = strings.TrimSpace(cascadePath)
	if cascadePath == "" {
		return unavailable{}, nil
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("load face cascade %s", cascadePath)
	}
	return &cascadeDetector{classifier: classifier}, nil
}

func (d *cascadeDetector) Name() string { return "opencv" }

func (d *cascadeDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScale(gray)
	d.mu.Unlock()

	origin := img.Bounds().Min
	faces := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, r.Add(origin))
	}
	return faces, nil
}

func (d *cascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
