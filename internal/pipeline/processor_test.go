package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/rembg"
	"github.com/dunamismax/cutout/internal/workpool"
)

func buildTestPNG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / max(1, width-1)),
				G: uint8((y * 255) / max(1, height-1)),
				B: 120,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// cornerRemover clears alpha on the left half of the image.
type cornerRemover struct {
	calls int
	model string
}

func (r *cornerRemover) Name() string { return "test" }

func (r *cornerRemover) Remove(ctx context.Context, img image.Image, opts rembg.Options) (*image.NRGBA, error) {
	r.calls++
	r.model = opts.Model
	out := imaging.Clone(img)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx()/2; x++ {
			c := out.NRGBAAt(x, y)
			c.A = 0
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}

type failingRemover struct{ err error }

func (failingRemover) Name() string { return "failing" }

func (r failingRemover) Remove(context.Context, image.Image, rembg.Options) (*image.NRGBA, error) {
	return nil, r.err
}

func newTestProcessor(t *testing.T, remover rembg.Remover) *Processor {
	t.Helper()

	pool := workpool.New(2, 4)
	t.Cleanup(pool.Close)

	p, err := NewProcessor(remover, imagingTransformer{}, pool, t.TempDir())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestProcessorRemovesBackgroundAndFits(t *testing.T) {
	remover := &cornerRemover{}
	p := newTestProcessor(t, remover)

	res, err := p.Process(context.Background(), Request{
		Source: buildTestPNG(t, 1000, 1000),
		Process: domain.ProcessRequest{
			RemoveBackground: true,
			Model:            "u2netp",
			Transform: domain.TransformRequest{
				Width:  500,
				Height: 800,
				Mode:   domain.ModeFit,
				Filter: domain.FilterLinear,
			},
			Output: domain.OutputOptions{Format: domain.FormatPNG},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if remover.calls != 1 || remover.model != "u2netp" {
		t.Fatalf("expected one remover call with model u2netp, got calls=%d model=%q", remover.calls, remover.model)
	}
	if !res.Removed {
		t.Fatalf("expected result to be marked removed")
	}
	if res.Width != 500 || res.Height != 800 {
		t.Fatalf("expected 500x800, got %dx%d", res.Width, res.Height)
	}

	out, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	nrgba := imaging.Clone(out)

	if a := nrgba.NRGBAAt(250, 10).A; a != 0 {
		t.Fatalf("expected transparent letterbox at top, alpha=%d", a)
	}
	if a := nrgba.NRGBAAt(10, 400).A; a != 0 {
		t.Fatalf("expected removed left half, alpha=%d", a)
	}
	if a := nrgba.NRGBAAt(450, 400).A; a != 255 {
		t.Fatalf("expected opaque subject on right half, alpha=%d", a)
	}
}

func TestProcessorFlattensForJPEG(t *testing.T) {
	p := newTestProcessor(t, &cornerRemover{})

	res, err := p.Process(context.Background(), Request{
		Source: buildTestPNG(t, 64, 64),
		Process: domain.ProcessRequest{
			RemoveBackground: true,
			Output: domain.OutputOptions{
				Format:  domain.FormatJPEG,
				Quality: 95,
				Flatten: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Format != domain.FormatJPEG {
		t.Fatalf("expected jpeg result, got %s", res.Format)
	}

	out, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ := out.At(5, 32).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("expected white flattened background, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestProcessorSkipsRemoverWhenDisabled(t *testing.T) {
	remover := &cornerRemover{}
	p := newTestProcessor(t, remover)

	src := buildTestPNG(t, 120, 80)
	res, err := p.Process(context.Background(), Request{
		Source:  src,
		Process: domain.ProcessRequest{Transform: domain.TransformRequest{Width: 60}},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if remover.calls != 0 {
		t.Fatalf("expected remover to be skipped")
	}
	if res.Width != 60 || res.Height != 40 {
		t.Fatalf("expected 60x40, got %dx%d", res.Width, res.Height)
	}
	if res.SourceBytes != len(src) {
		t.Fatalf("expected source bytes %d, got %d", len(src), res.SourceBytes)
	}
}

func TestProcessorIsIdempotent(t *testing.T) {
	p := newTestProcessor(t, &cornerRemover{})
	req := Request{
		Source: buildTestPNG(t, 300, 200),
		Process: domain.ProcessRequest{
			RemoveBackground: true,
			Transform:        domain.TransformRequest{Width: 150, Height: 150, Mode: domain.ModeFill},
			Output:           domain.OutputOptions{Format: domain.FormatPNG},
		},
	}

	first, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestProcessorWrapsStageErrors(t *testing.T) {
	sentinel := errors.New("model exploded")
	p := newTestProcessor(t, failingRemover{err: sentinel})

	_, err := p.Process(context.Background(), Request{
		Source:  buildTestPNG(t, 10, 10),
		Process: domain.ProcessRequest{RemoveBackground: true},
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected remover error, got %v", err)
	}

	_, err = p.Process(context.Background(), Request{Source: []byte("not an image")})
	if !errors.Is(err, ErrDecodeImage) {
		t.Fatalf("expected decode error, got %v", err)
	}

	_, err = p.Process(context.Background(), Request{})
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected empty source error, got %v", err)
	}
}

type slowRemover struct{}

func (slowRemover) Name() string { return "slow" }

func (slowRemover) Remove(ctx context.Context, img image.Image, _ rembg.Options) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		return imaging.Clone(img), nil
	}
}

func TestProcessorHonorsDeadline(t *testing.T) {
	p := newTestProcessor(t, slowRemover{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Process(ctx, Request{
		Source:  buildTestPNG(t, 10, 10),
		Process: domain.ProcessRequest{RemoveBackground: true},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func TestProcessObjectRoundTrip(t *testing.T) {
	objects := newMemoryObjects()
	sourceKey := SourceKey("job-1")
	_ = objects.WriteObject(context.Background(), sourceKey, buildTestPNG(t, 200, 100), "image/png")

	p := newTestProcessor(t, &cornerRemover{}).WithStages(
		ObjectStoreFetcher{Storage: objects},
		ObjectStoreEmitter{Storage: objects},
	)

	out, res, err := p.ProcessObject(context.Background(), "job-1", sourceKey, domain.ProcessRequest{
		RemoveBackground: true,
		Transform:        domain.TransformRequest{Width: 100},
		Output:           domain.OutputOptions{Format: domain.FormatWebP, Quality: 80},
	})
	if err != nil {
		t.Fatalf("process object: %v", err)
	}

	if out.ObjectKey != "outputs/job-1/result.webp" {
		t.Fatalf("unexpected output key %q", out.ObjectKey)
	}
	if objects.types[out.ObjectKey] != "image/webp" {
		t.Fatalf("unexpected content type %q", objects.types[out.ObjectKey])
	}
	if out.Bytes != len(res.Data) || out.Width != 100 || out.Height != 50 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestProcessObjectRequiresStages(t *testing.T) {
	p := newTestProcessor(t, nil)
	if _, _, err := p.ProcessObject(context.Background(), "j", "k", domain.ProcessRequest{}); !errors.Is(err, ErrStagesNotConfigured) {
		t.Fatalf("expected ErrStagesNotConfigured, got %v", err)
	}
}

func TestOutputKeySanitizesJobID(t *testing.T) {
	if got := OutputKey("", "../../etc", domain.FormatJPEG); got != "outputs/______etc/result.jpg" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := SourceKey(" "); got != "uploads/unknown/source" {
		t.Fatalf("unexpected key %q", got)
	}
}
