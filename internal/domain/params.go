package domain

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ProcessRequest is the fully parsed form of an upload request.
type ProcessRequest struct {
	RemoveBackground  bool
	Model             string
	ContentModeration bool
	Transform         TransformRequest
	Output            OutputOptions
}

// Defaults are the per-endpoint values used when a parameter is absent.
type Defaults struct {
	RemoveBackground bool
	Mode             ResizeMode
	Format           Format
	Quality          int
	Flatten          color.NRGBA
	MinDimension     int
	MaxDimension     int
}

// ParseProcessRequest reads parameters through get, which returns "" for
// missing keys. Malformed values yield errors wrapping ErrInvalidParameter.
func ParseProcessRequest(get func(string) string, d Defaults) (ProcessRequest, error) {
	var (
		req ProcessRequest
		err error
	)

	if req.RemoveBackground, err = boolParam(get, "remove_background", d.RemoveBackground); err != nil {
		return ProcessRequest{}, err
	}
	if req.ContentModeration, err = boolParam(get, "content_moderation", false); err != nil {
		return ProcessRequest{}, err
	}
	req.Model = strings.TrimSpace(get("model"))

	t := &req.Transform
	if t.Width, err = dimParam(get, "width"); err != nil {
		return ProcessRequest{}, err
	}
	if t.Height, err = dimParam(get, "height"); err != nil {
		return ProcessRequest{}, err
	}
	if t.MaxSize, err = dimParam(get, "max_size"); err != nil {
		return ProcessRequest{}, err
	}
	if t.KeepAspect, err = boolParam(get, "keep_aspect", true); err != nil {
		return ProcessRequest{}, err
	}

	switch raw := firstParam(get, "mode", "resize_mode"); {
	case raw != "":
		if t.Mode, err = ParseResizeMode(raw); err != nil {
			return ProcessRequest{}, err
		}
	case !t.KeepAspect && t.Width > 0 && t.Height > 0:
		t.Mode = ModeStretch
	default:
		t.Mode = d.Mode
		if t.Mode == "" {
			t.Mode = ModeFit
		}
	}

	t.Filter = ParseFilter(get("filter"))

	t.Anchor = AnchorCenter
	if raw := firstParam(get, "crop_position", "anchor", "gravity"); raw != "" {
		if t.Anchor, err = ParseAnchor(raw); err != nil {
			return ProcessRequest{}, err
		}
	}

	bgRaw := firstParam(get, "background", "background_color")
	if bgRaw != "" {
		if t.Background, err = ParseColor(bgRaw); err != nil {
			return ProcessRequest{}, err
		}
	}
	if raw := strings.TrimSpace(get("bg_alpha")); raw != "" {
		alpha, convErr := strconv.Atoi(raw)
		if convErr != nil || alpha < 0 || alpha > 255 {
			return ProcessRequest{}, fmt.Errorf("%w: bg_alpha %q (expected 0-255)", ErrInvalidParameter, raw)
		}
		// bg_alpha alone fills with white
		if bgRaw == "" {
			t.Background = color.NRGBA{R: 255, G: 255, B: 255}
		}
		t.Background.A = uint8(alpha)
	}
	*t = t.Bounds(d.MinDimension, d.MaxDimension)

	o := &req.Output
	o.Format = d.Format
	if raw := firstParam(get, "format", "output_format"); raw != "" {
		if o.Format, err = ParseFormat(raw); err != nil {
			return ProcessRequest{}, err
		}
	}
	if o.Format == "" {
		o.Format = FormatPNG
	}

	o.Quality = d.Quality
	if raw := strings.TrimSpace(get("quality")); raw != "" {
		q, convErr := strconv.Atoi(raw)
		if convErr != nil || q < 1 || q > 100 {
			return ProcessRequest{}, fmt.Errorf("%w: quality %q (expected 1-100)", ErrInvalidParameter, raw)
		}
		o.Quality = q
	}

	o.Flatten = d.Flatten
	if raw := strings.TrimSpace(get("flatten_color")); raw != "" {
		if o.Flatten, err = ParseColor(raw); err != nil {
			return ProcessRequest{}, err
		}
	}
	o.Flatten.A = 255

	return req, nil
}

func firstParam(get func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(get(key)); v != "" {
			return v
		}
	}
	return ""
}

func dimParam(get func(string) string, key string) (int, error) {
	raw := strings.TrimSpace(get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidParameter, key, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidParameter, key)
	}
	return v, nil
}

func boolParam(get func(string) string, key string, fallback bool) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(get(key)))
	switch raw {
	case "":
		return fallback, nil
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidParameter, key, raw)
	}
}

// ParseColor accepts white, black, transparent, #rgb, #rrggbb and #rrggbbaa.
func ParseColor(value string) (color.NRGBA, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "white":
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}, nil
	case "black":
		return color.NRGBA{A: 255}, nil
	case "transparent", "none":
		return color.NRGBA{}, nil
	}

	hex := strings.TrimPrefix(value, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	switch len(hex) {
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidParameter, value)
	}
	raw, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidParameter, value)
	}
	return color.NRGBA{
		R: uint8(raw >> 24),
		G: uint8(raw >> 16),
		B: uint8(raw >> 8),
		A: uint8(raw),
	}, nil
}
