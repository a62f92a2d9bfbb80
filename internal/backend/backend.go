package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/solver"
)

const (
	Sim  = "sim"
	CUDA = "cuda"
	Auto = "auto"
)

// Device is an accelerator the dispatcher can drive, together with the
// host-side memory and stream management callers need around a dispatch.
type Device interface {
	solver.Backend

	Name() string
	NewStream() (device.Stream, error)
	DestroyStream(s device.Stream) error
	Synchronize(s device.Stream) error
	Alloc(bytes int64) (device.Ptr, error)
	Free(p device.Ptr) error
	CopyToDevice(dst device.Ptr, src []byte, s device.Stream) error
	CopyFromDevice(dst []byte, src device.Ptr, s device.Stream) error
	// NewScratch returns a scratch allocator for one dispatch on s. A
	// positive limit caps the bytes it hands out.
	NewScratch(s device.Stream, limit int64) Scratch
	Close() error
}

// Scratch is a per-dispatch allocator. Release frees everything it handed
// out, in order with the work already issued on its stream.
type Scratch interface {
	solver.ScratchAllocator
	Release() error
}

// Options configures Open.
type Options struct {
	// MemoryLimit caps simulated device memory; ignored by real devices.
	MemoryLimit int64
	Logger      logger.Logger
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cuda)", backend)
	}
}

// Open creates the named device. Auto prefers CUDA when this build has it
// and a device is present, and falls back to the simulator otherwise.
func Open(name string, opts Options) (Device, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	switch name {
	case Sim:
		return newSim(opts), nil
	case CUDA:
		return newCUDA(opts)
	default:
		if Has(CUDA) {
			dev, err := newCUDA(opts)
			if err == nil {
				return dev, nil
			}
			opts.Logger.Warn("cuda backend unavailable, using simulator", "error", err)
		}
		return newSim(opts), nil
	}
}
