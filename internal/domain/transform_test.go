package domain

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(kv map[string]string) func(string) string {
	return func(key string) string { return kv[key] }
}

var testDefaults = Defaults{
	RemoveBackground: true,
	Mode:             ModeFit,
	Format:           FormatPNG,
	Quality:          90,
	Flatten:          color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	MinDimension:     100,
	MaxDimension:     10000,
}

func TestParseProcessRequestDefaults(t *testing.T) {
	req, err := ParseProcessRequest(params(nil), testDefaults)
	require.NoError(t, err)

	assert.True(t, req.RemoveBackground)
	assert.True(t, req.Transform.Empty())
	assert.Equal(t, ModeFit, req.Transform.Mode)
	assert.Equal(t, AnchorCenter, req.Transform.Anchor)
	assert.Equal(t, FilterLanczos, req.Transform.Filter)
	assert.Equal(t, FormatPNG, req.Output.Format)
	assert.Equal(t, 90, req.Output.Quality)
	assert.Equal(t, color.NRGBA{}, req.Transform.Background)
}

func TestParseProcessRequestFull(t *testing.T) {
	req, err := ParseProcessRequest(params(map[string]string{
		"width":              "500",
		"height":             "800",
		"mode":               "fill",
		"crop_position":      "top",
		"filter":             "bicubic",
		"background":         "#ff0000",
		"bg_alpha":           "128",
		"format":             "jpg",
		"quality":            "70",
		"remove_background":  "false",
		"content_moderation": "yes",
		"model":              "u2netp",
	}), testDefaults)
	require.NoError(t, err)

	assert.False(t, req.RemoveBackground)
	assert.True(t, req.ContentModeration)
	assert.Equal(t, "u2netp", req.Model)
	assert.Equal(t, 500, req.Transform.Width)
	assert.Equal(t, 800, req.Transform.Height)
	assert.Equal(t, ModeFill, req.Transform.Mode)
	assert.Equal(t, AnchorTop, req.Transform.Anchor)
	assert.Equal(t, FilterCatmullRom, req.Transform.Filter)
	assert.Equal(t, color.NRGBA{R: 255, A: 128}, req.Transform.Background)
	assert.Equal(t, FormatJPEG, req.Output.Format)
	assert.Equal(t, 70, req.Output.Quality)
}

func TestParseProcessRequestAlphaOnlyBackgroundIsWhite(t *testing.T) {
	req, err := ParseProcessRequest(params(map[string]string{"bg_alpha": "255"}), testDefaults)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, req.Transform.Background)

	req, err = ParseProcessRequest(params(map[string]string{"background": "black", "bg_alpha": "255"}), testDefaults)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{A: 255}, req.Transform.Background)
}

func TestParseProcessRequestKeepAspectFalseForcesStretch(t *testing.T) {
	req, err := ParseProcessRequest(params(map[string]string{
		"width": "300", "height": "200", "keep_aspect": "false",
	}), testDefaults)
	require.NoError(t, err)
	assert.Equal(t, ModeStretch, req.Transform.Mode)
}

func TestParseProcessRequestClampsDimensions(t *testing.T) {
	req, err := ParseProcessRequest(params(map[string]string{
		"width": "10", "height": "50000",
	}), testDefaults)
	require.NoError(t, err)
	assert.Equal(t, 100, req.Transform.Width)
	assert.Equal(t, 10000, req.Transform.Height)
}

func TestParseProcessRequestRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"non-integer width": {"width": "abc"},
		"negative height":   {"height": "-5"},
		"bad mode":          {"mode": "squash"},
		"bad anchor":        {"crop_position": "upside"},
		"bad format":        {"format": "psd"},
		"quality range":     {"quality": "101"},
		"bg alpha range":    {"bg_alpha": "300"},
		"bad bool":          {"content_moderation": "maybe"},
		"bad color":         {"background": "#12"},
	}

	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProcessRequest(params(kv), testDefaults)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter))
		})
	}
}

func TestParseAnchorAliases(t *testing.T) {
	tests := map[string]Anchor{
		"center":       AnchorCenter,
		"NORTH":        AnchorTop,
		"top_left":     AnchorTopLeft,
		"topleft":      AnchorTopLeft,
		"southeast":    AnchorBottomRight,
		"bottom right": AnchorBottomRight,
		"west":         AnchorLeft,
	}
	for in, want := range tests {
		got, err := ParseAnchor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestAnchorFractions(t *testing.T) {
	fx, fy := AnchorTopRight.Fractions()
	assert.Equal(t, 1.0, fx)
	assert.Equal(t, 0.0, fy)

	fx, fy = AnchorCenter.Fractions()
	assert.Equal(t, 0.5, fx)
	assert.Equal(t, 0.5, fy)
}

func TestParseFilterFallsBackToLanczos(t *testing.T) {
	assert.Equal(t, FilterLanczos, ParseFilter("does-not-exist"))
	assert.Equal(t, FilterNearest, ParseFilter("nearest"))
	assert.Equal(t, FilterLinear, ParseFilter("bilinear"))
}

func TestFormatProperties(t *testing.T) {
	assert.False(t, FormatJPEG.SupportsAlpha())
	assert.False(t, FormatBMP.SupportsAlpha())
	assert.True(t, FormatPNG.SupportsAlpha())
	assert.True(t, FormatWebP.Lossy())
	assert.False(t, FormatPNG.Lossy())
	assert.Equal(t, "image/jpeg", FormatJPEG.MIME())
	assert.Equal(t, "jpg", FormatJPEG.Extension())
}

func TestModelCatalogResolve(t *testing.T) {
	catalog := NewModelCatalog("silueta")

	model, fellBack := catalog.Resolve("nonexistent-model")
	assert.Equal(t, "silueta", model)
	assert.True(t, fellBack)

	model, fellBack = catalog.Resolve("u2net_human_seg")
	assert.Equal(t, "u2net_human_seg", model)
	assert.False(t, fellBack)

	model, fellBack = catalog.Resolve("")
	assert.Equal(t, "silueta", model)
	assert.False(t, fellBack)

	assert.Equal(t, DefaultModel, NewModelCatalog("unknown").Default())
	assert.Len(t, catalog.Names(), 5)
	assert.Contains(t, catalog.Descriptions(), "isnet-general-use")
}
