//go:build !govips || !cgo

package pipeline

// Startup is a no-op when the pure-Go imaging transformer is compiled in.
func Startup() error { return nil }

// Shutdown is a no-op when the pure-Go imaging transformer is compiled in.
func Shutdown() {}

func newTransformer() (Transformer, error) { return imagingTransformer{}, nil }
