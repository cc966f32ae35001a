package rembg

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const defaultModelSide = 320

// ONNXRemover runs rembg-compatible segmentation models locally. Sessions
// are created on first use of each model and reused afterwards.
type ONNXRemover struct {
	modelDir string
	libPath  string

	mu       sync.Mutex
	envReady bool
	sessions map[string]*onnxSession
}

type onnxSession struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	width   int
	height  int
	norm    normalization
}

func NewONNXRemover(modelDir, libPath string) *ONNXRemover {
	return &ONNXRemover{
		modelDir: modelDir,
		libPath:  libPath,
		sessions: make(map[string]*onnxSession),
	}
}

func (r *ONNXRemover) Name() string { return "onnx" }

func (r *ONNXRemover) Remove(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := r.session(opts.Model)
	if err != nil {
		return nil, err
	}

	tensor := tensorFromImage(img, s.width, s.height, s.norm)

	s.mu.Lock()
	in := s.input.GetData()
	if len(in) < len(tensor) {
		s.mu.Unlock()
		return nil, fmt.Errorf("onnx input tensor size %d < preprocessed %d", len(in), len(tensor))
	}
	copy(in, tensor)
	err = s.session.Run()
	var mask *image.Gray
	if err == nil {
		mask = maskFromTensor(s.output.GetData(), s.width, s.height)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run model=%s: %w", opts.Model, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return applyMask(img, mask), nil
}

func (r *ONNXRemover) session(model string) (*onnxSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[model]; ok {
		return s, nil
	}

	if !r.envReady {
		if r.libPath != "" {
			ort.SetSharedLibraryPath(r.libPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				return nil, fmt.Errorf("onnx init environment: %w", err)
			}
		}
		r.envReady = true
	}

	modelPath := filepath.Join(r.modelDir, model+".onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s not available: %w", model, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx model %s has no inputs or outputs", model)
	}

	w, h := spatialDims(inputs[0].Dimensions)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(h), int64(w)))
	if err != nil {
		return nil, fmt.Errorf("onnx new input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(h), int64(w)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx new output tensor: %w", err)
	}

	// Only the first output (the fused saliency map) is bound.
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		input.Destroy()
		return nil, fmt.Errorf("onnx new session: %w", err)
	}

	s := &onnxSession{
		session: session,
		input:   input,
		output:  output,
		width:   w,
		height:  h,
		norm:    normalizationFor(model),
	}
	r.sessions[model] = s
	return s, nil
}

// Close releases every loaded session.
func (r *ONNXRemover) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sessions {
		s.mu.Lock()
		s.session.Destroy()
		s.input.Destroy()
		s.output.Destroy()
		s.mu.Unlock()
		delete(r.sessions, name)
	}
	if r.envReady {
		r.envReady = false
		return ort.DestroyEnvironment()
	}
	return nil
}

// spatialDims reads H and W from an NCHW shape, using defaultModelSide for
// dynamic axes.
func spatialDims(shape ort.Shape) (w, h int) {
	w, h = defaultModelSide, defaultModelSide
	if len(shape) == 4 {
		if shape[2] > 0 {
			h = int(shape[2])
		}
		if shape[3] > 0 {
			w = int(shape[3])
		}
	}
	return w, h
}
