//go:build !gocv

package facedetect

func newDetector(string) (Detector, error) {
	return unavailable{}, nil
}
