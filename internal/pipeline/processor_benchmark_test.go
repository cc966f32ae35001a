package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/rembg"
	"github.com/dunamismax/cutout/internal/workpool"
)

func benchmarkProcessor(b *testing.B) *Processor {
	b.Helper()
	pool := workpool.New(1, 1)
	b.Cleanup(pool.Close)

	p, err := NewProcessor(rembg.NoopRemover{}, imagingTransformer{}, pool, b.TempDir())
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}
	return p
}

func BenchmarkProcessorFit(b *testing.B) {
	p := benchmarkProcessor(b)
	req := Request{
		Source: buildTestPNG(b, 1920, 1080),
		Process: domain.ProcessRequest{
			Transform: domain.TransformRequest{Width: 640, Height: 640, Mode: domain.ModeFit},
			Output:    domain.OutputOptions{Format: domain.FormatPNG},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorJPEG(b *testing.B) {
	p := benchmarkProcessor(b)
	req := Request{
		Source: buildTestPNG(b, 1920, 1080),
		Process: domain.ProcessRequest{
			Transform: domain.TransformRequest{MaxSize: 800},
			Output:    domain.OutputOptions{Format: domain.FormatJPEG, Quality: 82},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}
