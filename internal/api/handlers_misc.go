package api

import (
	"image"
	"image/color"
	"net/http"
	"time"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/security"
)

const adminPasswordHeader = "X-Admin-Password"

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":          s.catalog.Default(),
		"available_models": s.catalog.Names(),
		"descriptions":     s.catalog.Descriptions(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"backend":     s.processor.Remover().Name(),
		"transformer": s.processor.Transformer().Name(),
		"uptime_sec":  int64(time.Since(s.startedAt).Seconds()),
	}

	if password := r.Header.Get(adminPasswordHeader); password != "" && security.VerifyPassword(s.adminHash, password) {
		stats := s.processor.Pool().Stats()
		body["config"] = map[string]any{
			"allowed_origins": s.allowedOrigins,
			"authorized_ips":  s.allowList.Entries(),
			"features": map[string]bool{
				"api_key_auth":   s.verifier.Enabled(),
				"ip_allowlist":   s.allowList.Enabled(),
				"rate_limit":     s.rateLimiter != nil,
				"async_jobs":     s.asyncJobs,
				"xnconvert":      s.converter.Configured(),
				"face_detection": s.faces != nil && s.faces.Name() != "none",
			},
			"pool": map[string]any{
				"workers":   stats.Workers,
				"queued":    stats.Queued,
				"active":    stats.Active,
				"completed": stats.Completed,
				"abandoned": stats.Abandoned,
			},
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTestImage(w http.ResponseWriter, r *http.Request) {
	data, err := pipeline.Encode(testCircle(), domain.OutputOptions{Format: domain.FormatPNG})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeImage(w, "test_circle.png", domain.FormatPNG, data)
}

// testCircle draws an opaque red disc of radius 50 centred on a transparent
// 200x200 canvas.
func testCircle() *image.NRGBA {
	const size, radius = 200, 50
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	red := color.NRGBA{R: 255, A: 255}
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - c
			dy := float64(y) + 0.5 - c
			if dx*dx+dy*dy <= radius*radius {
				img.SetNRGBA(x, y, red)
			}
		}
	}
	return img
}
