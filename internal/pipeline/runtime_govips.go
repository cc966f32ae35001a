//go:build govips && cgo

package pipeline

import (
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips operation cache limits. Uploads are rarely repeated, so the
// cache mostly holds intermediate buffers for the request in flight.
const (
	vipsCacheMemBytes = 64 << 20
	vipsCacheOps      = 50
)

var vipsState struct {
	sync.Mutex
	started bool
}

// Startup brings libvips up for the process. Calling it again is a no-op.
func Startup() error {
	vipsState.Lock()
	defer vipsState.Unlock()
	if vipsState.started {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: runtime.NumCPU(),
		MaxCacheMem:      vipsCacheMemBytes,
		MaxCacheSize:     vipsCacheOps,
	})
	vipsState.started = true
	return nil
}

// Shutdown releases libvips. Transformers must not be used afterwards.
func Shutdown() {
	vipsState.Lock()
	defer vipsState.Unlock()
	if vipsState.started {
		vips.Shutdown()
		vipsState.started = false
	}
}

func newTransformer() (Transformer, error) {
	return govipsTransformer{}, nil
}
