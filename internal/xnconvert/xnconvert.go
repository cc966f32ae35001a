package xnconvert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/tempfile"
)

var (
	ErrNotConfigured = errors.New("XNCONVERT_PATH is not configured")
	ErrFailed        = errors.New("xnconvert failed")
)

type ResizeOptions struct {
	Width     int
	Height    int
	KeepRatio bool
	Filter    domain.Filter
	Format    domain.Format
	Quality   int
}

// Converter runs the XnConvert command line tool (nconvert).
type Converter struct {
	path string
}

func New(path string) *Converter {
	return &Converter{path: strings.TrimSpace(path)}
}

func (c *Converter) Configured() bool {
	return c != nil && c.path != ""
}

// Resize writes src to a scoped temp file, runs the tool against a
// reserved output path and returns the bytes it produced.
func (c *Converter) Resize(ctx context.Context, scope *tempfile.Scope, src []byte, srcExt string, opts ResizeOptions) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if opts.Width <= 0 && opts.Height <= 0 {
		return nil, fmt.Errorf("%w: width or height is required", domain.ErrInvalidParameter)
	}
	if opts.Format == "" {
		opts.Format = domain.FormatPNG
	}

	inPath, err := scope.Write("input."+strings.TrimPrefix(srcExt, "."), src)
	if err != nil {
		return nil, err
	}
	outPath, err := scope.Path("output." + opts.Format.Extension())
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, Args(inPath, outPath, opts)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrFailed, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no output written: %v", ErrFailed, err)
	}
	return data, nil
}

// Args builds the nconvert argument list. A missing dimension is passed as
// 0 so the tool derives it from the aspect ratio.
func Args(inPath, outPath string, opts ResizeOptions) []string {
	args := []string{
		"-quiet",
		"-overwrite",
		"-out", outFormat(opts.Format),
	}
	if opts.Format.Lossy() && opts.Quality > 0 {
		args = append(args, "-q", strconv.Itoa(opts.Quality))
	}
	args = append(args, "-resize", strconv.Itoa(max(0, opts.Width)), strconv.Itoa(max(0, opts.Height)))
	if opts.KeepRatio || opts.Width <= 0 || opts.Height <= 0 {
		args = append(args, "-ratio")
	}
	args = append(args, "-rtype", rtype(opts.Filter))
	args = append(args, "-o", outPath, inPath)
	return args
}

func outFormat(f domain.Format) string {
	switch f {
	case domain.FormatJPEG:
		return "jpeg"
	case domain.FormatTIFF:
		return "tiff"
	default:
		return string(f)
	}
}

func rtype(f domain.Filter) string {
	switch f {
	case domain.FilterNearest, domain.FilterBox:
		return "quick"
	case domain.FilterLinear:
		return "linear"
	case domain.FilterCatmullRom:
		return "catrom"
	case domain.FilterMitchell:
		return "mitchell"
	default:
		return "lanczos"
	}
}
