// Package sim is a simulated accelerator. Device memory is page-mapped host
// memory, each stream is a goroutine executing work in issue order, and the
// dense-solver and batched-BLAS entry points run reference LU kernels. It
// implements the same contract as the CUDA backend, so the dispatch layer,
// the CLI and the HTTP service run unchanged on machines without a GPU.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/solver"
)

// DefaultStream is the stream that exists from device creation.
const DefaultStream device.Stream = 0

// Op names a backend entry point for fault injection.
type Op string

const (
	OpCreateSolver  Op = "create_solver"
	OpCreateBlas    Op = "create_blas"
	OpSetStream     Op = "set_stream"
	OpBufferSize    Op = "buffer_size"
	OpMemcpy        Op = "memcpy"
	OpBatchPointers Op = "batch_pointers"
	OpGetrf         Op = "getrf"
	OpGetrfBatched  Op = "getrf_batched"
)

// Counters is a snapshot of the work issued to a Device.
type Counters struct {
	Copies          int64 `json:"copies"`
	PointerBuilds   int64 `json:"pointer_builds"`
	BufferQueries   int64 `json:"buffer_queries"`
	Getrf           int64 `json:"getrf"`
	GetrfBatched    int64 `json:"getrf_batched"`
	SolverHandles   int64 `json:"solver_handles"`
	BlasHandles     int64 `json:"blas_handles"`
	HandleConflicts int64 `json:"handle_conflicts"`
}

// DeviceWork is the number of operations that touch device memory.
func (c Counters) DeviceWork() int64 {
	return c.Copies + c.PointerBuilds + c.Getrf + c.GetrfBatched
}

type counters struct {
	copies, pointerBuilds, bufferQueries  atomic.Int64
	getrf, getrfBatched                   atomic.Int64
	solverHandles, blasHandles, conflicts atomic.Int64
}

// handle is a solver or BLAS context. busy detects two issuers using the
// same handle at once, which the pools must never allow.
type handle struct {
	stream atomic.Uintptr
	busy   atomic.Bool
}

// Options configures a Device.
type Options struct {
	// MemoryLimit caps mapped device memory in bytes; zero means no cap.
	MemoryLimit int64
	Logger      logger.Logger
}

// Device is a simulated accelerator implementing solver.Backend.
type Device struct {
	mem *memory
	log logger.Logger

	mu         sync.Mutex
	streams    map[device.Stream]*stream
	nextStream uintptr
	solvers    map[solver.SolverHandle]*handle
	blas       map[solver.BlasHandle]*handle
	nextHandle uintptr
	faults     map[Op]error
	closed     bool

	count counters
}

var _ solver.Backend = (*Device)(nil)

// New creates a device with its default stream running.
func New(opts Options) *Device {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	d := &Device{
		mem:        newMemory(opts.MemoryLimit),
		log:        log.With("backend", "sim"),
		streams:    make(map[device.Stream]*stream),
		nextStream: 1,
		solvers:    make(map[solver.SolverHandle]*handle),
		blas:       make(map[solver.BlasHandle]*handle),
		nextHandle: 1,
		faults:     make(map[Op]error),
	}
	d.streams[DefaultStream] = newStream(DefaultStream)
	return d
}

func (d *Device) Name() string {
	return "sim"
}

// InjectFault makes the next call of op fail with err.
func (d *Device) InjectFault(op Op, err error) {
	d.mu.Lock()
	d.faults[op] = err
	d.mu.Unlock()
}

func (d *Device) takeFault(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err, ok := d.faults[op]
	if !ok {
		return nil
	}
	delete(d.faults, op)
	return err
}

// Counters returns the work issued so far.
func (d *Device) Counters() Counters {
	return Counters{
		Copies:          d.count.copies.Load(),
		PointerBuilds:   d.count.pointerBuilds.Load(),
		BufferQueries:   d.count.bufferQueries.Load(),
		Getrf:           d.count.getrf.Load(),
		GetrfBatched:    d.count.getrfBatched.Load(),
		SolverHandles:   d.count.solverHandles.Load(),
		BlasHandles:     d.count.blasHandles.Load(),
		HandleConflicts: d.count.conflicts.Load(),
	}
}

// MemoryInUse returns mapped device memory in bytes.
func (d *Device) MemoryInUse() int64 {
	return d.mem.used()
}

// NewStream creates a stream with its own worker.
func (d *Device) NewStream() (device.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("device closed")
	}
	id := device.Stream(d.nextStream)
	d.nextStream++
	d.streams[id] = newStream(id)
	return id, nil
}

// DestroyStream waits for the stream's pending work and removes it.
func (d *Device) DestroyStream(s device.Stream) error {
	if s == DefaultStream {
		return errors.New("the default stream cannot be destroyed")
	}
	d.mu.Lock()
	st, ok := d.streams[s]
	delete(d.streams, s)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("destroy stream %d: invalid resource handle", s)
	}
	st.destroy()
	return nil
}

// Synchronize blocks until all work issued on s has run and reports the
// first execution fault since the previous synchronization.
func (d *Device) Synchronize(s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	return st.wait()
}

func (d *Device) stream(s device.Stream) (*stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.streams[s]
	if !ok {
		return nil, fmt.Errorf("stream %d: invalid resource handle", s)
	}
	return st, nil
}

// Alloc maps device memory. The contents start zeroed.
func (d *Device) Alloc(bytes int64) (device.Ptr, error) {
	return d.mem.alloc(bytes)
}

// Free releases memory immediately; use FreeAsync for memory that queued
// work may still touch.
func (d *Device) Free(p device.Ptr) error {
	return d.mem.free(p)
}

// FreeAsync releases memory once all work issued on s before it has run.
func (d *Device) FreeAsync(p device.Ptr, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	return st.enqueue(func() error { return d.mem.free(p) })
}

// CopyToDevice writes src to dst in stream order and waits for the copy.
func (d *Device) CopyToDevice(dst device.Ptr, src []byte, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	return st.call(func() error {
		b, err := d.mem.bytes(dst, int64(len(src)))
		if err != nil {
			return err
		}
		copy(b, src)
		return nil
	})
}

// CopyFromDevice reads len(dst) bytes at src in stream order and waits.
func (d *Device) CopyFromDevice(dst []byte, src device.Ptr, s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	return st.call(func() error {
		b, err := d.mem.bytes(src, int64(len(dst)))
		if err != nil {
			return err
		}
		copy(dst, b)
		return nil
	})
}

// MemcpyDtoDAsync copies bytes between device allocations in stream order.
// Both ranges are validated at issue time.
func (d *Device) MemcpyDtoDAsync(dst, src device.Ptr, bytes int64, s device.Stream) error {
	if err := d.takeFault(OpMemcpy); err != nil {
		return err
	}
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	if _, err := d.mem.bytes(dst, bytes); err != nil {
		return fmt.Errorf("memcpy destination: %w", err)
	}
	if _, err := d.mem.bytes(src, bytes); err != nil {
		return fmt.Errorf("memcpy source: %w", err)
	}
	d.count.copies.Add(1)
	return st.enqueue(func() error {
		to, err := d.mem.bytes(dst, bytes)
		if err != nil {
			return err
		}
		from, err := d.mem.bytes(src, bytes)
		if err != nil {
			return err
		}
		copy(to, from)
		return nil
	})
}

// MakeBatchPointersAsync fills the pointer array in stream order. An
// out-of-range pointer array is a launch failure recorded on the stream.
func (d *Device) MakeBatchPointersAsync(s device.Stream, base, slots device.Ptr, batch int, stride int64) {
	st, err := d.stream(s)
	if err != nil {
		return
	}
	if err := d.takeFault(OpBatchPointers); err != nil {
		st.setLaunchError(err)
		return
	}
	if batch < 0 {
		st.setLaunchError(fmt.Errorf("invalid configuration argument: batch %d", batch))
		return
	}
	if _, err := d.mem.bytes(slots, int64(batch)*8); err != nil {
		st.setLaunchError(fmt.Errorf("batch pointer launch: %w", err))
		return
	}
	d.count.pointerBuilds.Add(1)
	if err := st.enqueue(func() error {
		b, err := d.mem.bytes(slots, int64(batch)*8)
		if err != nil {
			return err
		}
		ptrs := hostPointers(b)
		for i := range ptrs {
			ptrs[i] = uint64(base) + uint64(int64(i)*stride)
		}
		return nil
	}); err != nil {
		st.setLaunchError(err)
	}
}

// LastError returns and clears the last launch error on s.
func (d *Device) LastError(s device.Stream) error {
	st, err := d.stream(s)
	if err != nil {
		return err
	}
	return st.takeLaunchError()
}

// Close drains and stops every stream and unmaps all device memory.
// Handles still alive are dropped.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := make([]*stream, 0, len(d.streams))
	for id, st := range d.streams {
		streams = append(streams, st)
		delete(d.streams, id)
	}
	d.mu.Unlock()

	for _, st := range streams {
		st.destroy()
	}
	return d.mem.releaseAll()
}
