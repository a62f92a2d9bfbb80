//go:build cuda

// Package cuda drives getrf on an NVIDIA GPU through cuSOLVER and cuBLAS.
// Streams, handles and device addresses are passed through as the raw
// values the CUDA libraries hand out.
package cuda

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"

	"github.com/samcharles93/batchlu/internal/backend/cuda/native"
	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/solver"
)

type Device struct {
	log logger.Logger

	mu        sync.Mutex
	launchErr map[device.Stream]error
}

var _ solver.Backend = (*Device)(nil)

func New(log logger.Logger) (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Device{
		log:       log.With("backend", "cuda"),
		launchErr: make(map[device.Stream]error),
	}, nil
}

func (d *Device) Name() string {
	return "cuda"
}

func (d *Device) NewStream() (device.Stream, error) {
	s, err := native.NewStream()
	if err != nil {
		return 0, callError("stream create", err)
	}
	return device.Stream(s), nil
}

func (d *Device) DestroyStream(s device.Stream) error {
	d.mu.Lock()
	delete(d.launchErr, s)
	d.mu.Unlock()
	return native.Stream(s).Destroy()
}

func (d *Device) Synchronize(s device.Stream) error {
	return native.Stream(s).Synchronize()
}

func (d *Device) Alloc(bytes int64) (device.Ptr, error) {
	p, err := native.Malloc(bytes)
	if err != nil {
		return 0, callError("malloc", err)
	}
	return device.Ptr(p), nil
}

func (d *Device) Free(p device.Ptr) error {
	return native.Free(uintptr(p))
}

// CopyToDevice copies src to dst in stream order and waits for it.
func (d *Device) CopyToDevice(dst device.Ptr, src []byte, s device.Stream) error {
	if err := native.MemcpyH2DAsync(uintptr(dst), src, native.Stream(s)); err != nil {
		return callError("host to device copy", err)
	}
	return native.Stream(s).Synchronize()
}

func (d *Device) CopyFromDevice(dst []byte, src device.Ptr, s device.Stream) error {
	if err := native.MemcpyD2H(dst, uintptr(src), native.Stream(s)); err != nil {
		return callError("device to host copy", err)
	}
	return nil
}

func (d *Device) MemcpyDtoDAsync(dst, src device.Ptr, bytes int64, s device.Stream) error {
	return native.MemcpyD2DAsync(uintptr(dst), uintptr(src), bytes, native.Stream(s))
}

// MakeBatchPointersAsync computes the pointer array on the host and copies
// it in stream order. A failed copy is reported by the next LastError.
func (d *Device) MakeBatchPointersAsync(s device.Stream, base, slots device.Ptr, batch int, stride int64) {
	if batch <= 0 {
		return
	}
	// Device addresses are little-endian on every supported GPU.
	ptrs := make([]byte, 8*batch)
	for i := 0; i < batch; i++ {
		binary.LittleEndian.PutUint64(ptrs[8*i:], uint64(base)+uint64(int64(i)*stride))
	}

	// The runtime's error slot belongs to the host thread, so the copy and
	// the check must not be split across threads by the scheduler.
	runtime.LockOSThread()
	err := native.MemcpyH2DAsync(uintptr(slots), ptrs, native.Stream(s))
	if lastErr := native.LastError(); err == nil {
		err = lastErr
	}
	runtime.UnlockOSThread()

	if err != nil {
		d.mu.Lock()
		if d.launchErr[s] == nil {
			d.launchErr[s] = err
		}
		d.mu.Unlock()
	}
}

// LastError returns and clears the first launch error recorded for s. It
// does not read the runtime's thread-local error, which may belong to
// another stream's work on the calling thread.
func (d *Device) LastError(s device.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.launchErr[s]
	delete(d.launchErr, s)
	return err
}

func (d *Device) Close() error {
	return nil
}

func (d *Device) CreateSolver() (solver.SolverHandle, error) {
	h, err := native.NewSolverHandle()
	return solver.SolverHandle(h), err
}

func (d *Device) DestroySolver(h solver.SolverHandle) error {
	return native.SolverHandle(h).Destroy()
}

func (d *Device) SetSolverStream(h solver.SolverHandle, s device.Stream) error {
	return native.SolverHandle(h).SetStream(native.Stream(s))
}

func (d *Device) CreateBlas() (solver.BlasHandle, error) {
	h, err := native.NewBlasHandle()
	return solver.BlasHandle(h), err
}

func (d *Device) DestroyBlas(h solver.BlasHandle) error {
	return native.BlasHandle(h).Destroy()
}

func (d *Device) SetBlasStream(h solver.BlasHandle, s device.Stream) error {
	return native.BlasHandle(h).SetStream(native.Stream(s))
}
