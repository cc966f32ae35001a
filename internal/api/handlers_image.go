package api

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/facedetect"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/tempfile"
	"github.com/dunamismax/cutout/internal/upload"
	"github.com/dunamismax/cutout/internal/xnconvert"
)

// endpoint describes one synchronous image route: its parameter defaults,
// the suffix of the returned attachment and any per-route adjustment of the
// parsed request.
type endpoint struct {
	name      string
	defaults  domain.Defaults
	suffix    string
	suffixFor func(req domain.ProcessRequest) string
	adjust    func(req *domain.ProcessRequest, get func(string) string) error
}

func (ep endpoint) attachmentSuffix(req domain.ProcessRequest) string {
	if ep.suffixFor != nil {
		return ep.suffixFor(req)
	}
	return ep.suffix
}

// processSuffix names the output of a request that may or may not have had
// its background removed.
func processSuffix(req domain.ProcessRequest) string {
	switch {
	case req.RemoveBackground:
		return "_no_bg"
	case !req.Transform.Empty():
		return "_resized"
	default:
		return ""
	}
}

func (s *Server) handleRemoveBackground(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, endpoint{
		name:     "remove_background",
		defaults: s.limits.Defaults(true, domain.ModeFit),
		suffix:   "_no_bg",
		adjust: func(req *domain.ProcessRequest, _ func(string) string) error {
			req.RemoveBackground = true
			return nil
		},
	})
}

func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, endpoint{
		name:      "process_image",
		defaults:  s.limits.Defaults(true, domain.ModeFit),
		suffixFor: processSuffix,
	})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, endpoint{
		name:     "resize",
		defaults: s.limits.Defaults(false, domain.ModeFit),
		suffix:   "_resized",
		adjust:   transformOnly,
	})
}

func (s *Server) handleResizeCrop(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, endpoint{
		name:     "resize_crop",
		defaults: s.limits.Defaults(false, domain.ModeFill),
		suffix:   "_cropped",
		adjust:   transformOnly,
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, endpoint{
		name:     "convert_image",
		defaults: s.limits.Defaults(false, domain.ModeFit),
		adjust: func(req *domain.ProcessRequest, get func(string) string) error {
			if strings.TrimSpace(get("format")) == "" && strings.TrimSpace(get("output_format")) == "" {
				return fmt.Errorf("%w: format is required", domain.ErrInvalidParameter)
			}
			req.RemoveBackground = false
			req.Transform = domain.TransformRequest{}
			return nil
		},
	})
}

func transformOnly(req *domain.ProcessRequest, _ func(string) string) error {
	req.RemoveBackground = false
	if req.Transform.Empty() {
		return fmt.Errorf("%w: width, height or max_size is required", domain.ErrInvalidParameter)
	}
	return nil
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, ep endpoint) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	file, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := domain.ParseProcessRequest(r.FormValue, ep.defaults)
	if err == nil && ep.adjust != nil {
		err = ep.adjust(&req, r.FormValue)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RemoveBackground {
		req.Model = s.resolveModel(req.Model)
	}

	res, err := s.processor.Process(ctx, pipeline.Request{Source: file.Data, Process: req})
	s.metrics.observeProcessing(ep.name, err, time.Since(started))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Printf("processed endpoint=%s file=%q removed=%t model=%s format=%s size=%dx%d bytes=%d elapsed=%s",
		ep.name, file.Name, res.Removed, req.Model, res.Format, res.Width, res.Height, len(res.Data), time.Since(started).Round(time.Millisecond))
	writeImage(w, attachmentName(file.Stem(), ep.attachmentSuffix(req), res.Format), res.Format, res.Data)
}

func (s *Server) handleXnResize(w http.ResponseWriter, r *http.Request) {
	if !s.converter.Configured() {
		s.writeError(w, r, xnconvert.ErrNotConfigured)
		return
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	file, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := domain.ParseProcessRequest(r.FormValue, s.limits.Defaults(false, domain.ModeFit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := xnconvert.ResizeOptions{
		Width:     req.Transform.Width,
		Height:    req.Transform.Height,
		KeepRatio: req.Transform.KeepAspect,
		Filter:    req.Transform.Filter,
		Format:    req.Output.Format,
		Quality:   req.Output.Quality,
	}

	res, err := s.processor.Run(ctx, func(ctx context.Context) (pipeline.Result, error) {
		scope := tempfile.NewScope(s.tempDir)
		defer scope.Close()

		data, err := s.converter.Resize(ctx, scope, file.Data, file.Ext, opts)
		if err != nil {
			return pipeline.Result{}, err
		}
		res := pipeline.Result{Data: data, Format: opts.Format, SourceBytes: len(file.Data)}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			res.Width, res.Height = cfg.Width, cfg.Height
		}
		return res, nil
	})
	s.metrics.observeProcessing("xnresize", err, time.Since(started))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Printf("processed endpoint=xnresize file=%q format=%s size=%dx%d bytes=%d", file.Name, res.Format, res.Width, res.Height, len(res.Data))
	writeImage(w, attachmentName(file.Stem(), "_resized", res.Format), res.Format, res.Data)
}

func (s *Server) handleCropBelowMouth(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil || s.faces.Name() == "none" {
		s.writeError(w, r, facedetect.ErrUnavailable)
		return
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	file, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := domain.ParseProcessRequest(r.FormValue, s.limits.Defaults(false, domain.ModeFit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.processor.Run(ctx, func(ctx context.Context) (pipeline.Result, error) {
		img, _, err := pipeline.Decode(file.Data)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("decode stage: %w", err)
		}
		cropped, face, err := facedetect.CropBelowMouth(ctx, s.faces, img)
		if err != nil {
			return pipeline.Result{}, err
		}
		if s.debug {
			s.logger.Printf("face detected file=%q face=%v mouth_y=%d", file.Name, face, facedetect.MouthLine(face))
		}
		return s.processor.Encode(ctx, cropped, req.Output)
	})
	s.metrics.observeProcessing("crop_below_mouth", err, time.Since(started))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeImage(w, attachmentName(file.Stem(), "_cropped", res.Format), res.Format, res.Data)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload.File, error) {
	if limit := s.uploads.MaxBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverheadBytes)
	}
	return s.uploads.FromRequest(r)
}

func (s *Server) resolveModel(requested string) string {
	model, fellBack := s.catalog.Resolve(requested)
	if fellBack {
		s.logger.Printf("unknown model requested model=%q fallback=%s", requested, model)
	}
	return model
}

func attachmentName(stem, suffix string, format domain.Format) string {
	return stem + suffix + "." + format.Extension()
}

// writeImage sends data as a non-cacheable attachment.
func writeImage(w http.ResponseWriter, filename string, format domain.Format, data []byte) {
	h := w.Header()
	h.Set("Content-Type", format.MIME())
	h.Set("Content-Disposition", `attachment; filename="`+quoteSafe(filename)+`"`)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func quoteSafe(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, name)
}
