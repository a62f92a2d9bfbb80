package solver

import (
	"errors"
	"math"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
)

// DefaultBatchedThreshold bounds rows/batch for the batched strategy. It is
// a tuning constant for the pointer-array primitive, not a correctness
// limit; override it with WithBatchedThreshold after benchmarking.
const DefaultBatchedThreshold int64 = 128

// Strategy is the code path chosen for a dispatch.
type Strategy int

const (
	Looped Strategy = iota
	Batched
)

func (s Strategy) String() string {
	if s == Batched {
		return "batched"
	}
	return "looped"
}

// UseBatched reports whether a batch of rows-by-cols matrices should go
// through the pointer-array batched primitive.
func UseBatched(batch, rows, cols, threshold int64) bool {
	return batch > 1 && rows == cols && rows/batch <= threshold
}

// Plan is the validated shape of a dispatch and the strategy it will take.
type Plan struct {
	DType    device.DType
	Batch    int64
	Rows     int64
	Cols     int64
	Strategy Strategy
}

// PivotsPerMatrix is min(rows, cols).
func (p Plan) PivotsPerMatrix() int64 {
	return min(p.Rows, p.Cols)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchedThreshold overrides DefaultBatchedThreshold.
func WithBatchedThreshold(threshold int64) Option {
	return func(d *Dispatcher) {
		d.threshold = threshold
	}
}

// WithLogger sets the logger used by the dispatcher and its pools.
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// Dispatcher drives getrf over a backend. It owns one handle pool per
// context kind; Close tears both down.
type Dispatcher struct {
	backend   Backend
	threshold int64
	log       logger.Logger

	solvers *HandlePool[SolverHandle]
	blas    *HandlePool[BlasHandle]
}

// NewDispatcher creates a dispatcher with empty handle pools.
func NewDispatcher(b Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:   b,
		threshold: DefaultBatchedThreshold,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.solvers = NewHandlePool(HandleOps[SolverHandle]{
		Kind:      "solver",
		Create:    b.CreateSolver,
		SetStream: b.SetSolverStream,
		Destroy:   b.DestroySolver,
	}, d.log)
	d.blas = NewHandlePool(HandleOps[BlasHandle]{
		Kind:      "blas",
		Create:    b.CreateBlas,
		SetStream: b.SetBlasStream,
		Destroy:   b.DestroyBlas,
	}, d.log)
	return d
}

// Threshold returns the rows/batch bound used for strategy selection.
func (d *Dispatcher) Threshold() int64 {
	return d.threshold
}

// Stats returns the solver and BLAS pool counters.
func (d *Dispatcher) Stats() []PoolStats {
	return []PoolStats{d.solvers.Stats(), d.blas.Stats()}
}

// Close destroys all pooled handles.
func (d *Dispatcher) Close() error {
	return errors.Join(d.solvers.Close(), d.blas.Close())
}

// Plan validates an input of the given type and shape and picks the
// strategy, without touching the backend.
func (d *Dispatcher) Plan(dt device.DType, dims []int64) (Plan, error) {
	if _, ok := getrfKernelFor(d.backend, dt); !ok {
		return Plan{}, invalidArgument("unsupported element type %s for getrf", dt)
	}
	batch, rows, cols, err := device.SplitBatch2D(dims)
	if err != nil {
		return Plan{}, invalidArgument("getrf input shape %v: %v", dims, err)
	}
	if rows > math.MaxInt32 || cols > math.MaxInt32 {
		return Plan{}, invalidArgument("getrf matrix dimensions %dx%d overflow int32", rows, cols)
	}
	p := Plan{DType: dt, Batch: batch, Rows: rows, Cols: cols, Strategy: Looped}
	if UseBatched(batch, rows, cols, d.threshold) {
		if batch > math.MaxInt32 {
			return Plan{}, invalidArgument("getrf batch count %d overflows int32", batch)
		}
		p.Strategy = Batched
	}
	return p, nil
}

// Getrf factors every matrix of a in place on out, writing 1-based pivot
// indices to ipiv and one status code per matrix to info. Work is issued on
// stream and the call returns without waiting for it. If out and a are
// different allocations the input is copied to out first.
//
// A singular matrix is not an error; it is reported through its info code.
// Returned errors are *Error with CodeInvalidArgument (nothing issued) or
// CodeUnknown (issue stopped at the failing step).
func (d *Dispatcher) Getrf(stream device.Stream, scratch ScratchAllocator, a, out, ipiv, info device.Buffer) error {
	if a.DType != out.DType {
		return invalidArgument("the input and output to getrf must have the same element type")
	}
	p, err := d.Plan(a.DType, a.Dims)
	if err != nil {
		return err
	}
	if out.Elements() != a.Elements() {
		return invalidArgument("getrf output has %d elements, input has %d", out.Elements(), a.Elements())
	}
	if ipiv.DType != device.S32 || info.DType != device.S32 {
		return invalidArgument("getrf pivots and info must be s32, got %s and %s", ipiv.DType, info.DType)
	}
	if need := p.Batch * p.PivotsPerMatrix(); ipiv.Elements() < need {
		return invalidArgument("getrf pivot buffer has %d elements, need %d", ipiv.Elements(), need)
	}
	if info.Elements() < p.Batch {
		return invalidArgument("getrf info buffer has %d elements, need %d", info.Elements(), p.Batch)
	}
	if p.Batch == 0 {
		return nil
	}

	d.log.Debug("getrf dispatch",
		"strategy", p.Strategy.String(),
		"dtype", p.DType.String(),
		"batch", p.Batch,
		"rows", p.Rows,
		"cols", p.Cols,
	)
	if p.Strategy == Batched {
		return d.getrfBatched(p, stream, scratch, a.Data, out.Data, ipiv.Data, info.Data)
	}
	return d.getrfLooped(p, stream, scratch, a.Data, out.Data, ipiv.Data, info.Data)
}

func (d *Dispatcher) getrfLooped(p Plan, stream device.Stream, scratch ScratchAllocator, a, out, ipiv, info device.Ptr) error {
	kernel, ok := getrfKernelFor(d.backend, p.DType)
	if !ok {
		return invalidArgument("unsupported element type %s for getrf", p.DType)
	}
	m, n := int32(p.Rows), int32(p.Cols)

	lease, err := d.solvers.Borrow(stream)
	if err != nil {
		return err
	}
	defer lease.Release()
	h := lease.Handle()

	lwork, err := kernel.WorkspaceSize(h, m, n)
	if err != nil {
		return unknown(err, "getrf workspace query failed")
	}
	workspace, ok := scratch.Allocate(int64(lwork) * p.DType.Size())
	if !ok {
		return unknown(nil, "unable to allocate workspace for getrf")
	}

	elem := p.DType.Size()
	if a != out {
		if err := d.backend.MemcpyDtoDAsync(out, a, elem*p.Batch*p.Rows*p.Cols, stream); err != nil {
			return unknown(err, "getrf input copy failed")
		}
	}

	matStride := elem * p.Rows * p.Cols
	pivStride := int64(4) * p.PivotsPerMatrix()
	for i := int64(0); i < p.Batch; i++ {
		if err := kernel.Run(h, m, n, out, workspace, lwork, ipiv, info); err != nil {
			return unknown(err, "getrf failed on matrix %d", i)
		}
		out = out.Add(matStride)
		ipiv = ipiv.Add(pivStride)
		info = info.Add(4)
	}
	return nil
}

func (d *Dispatcher) getrfBatched(p Plan, stream device.Stream, scratch ScratchAllocator, a, out, ipiv, info device.Ptr) error {
	kernel, ok := getrfBatchedKernelFor(d.backend, p.DType)
	if !ok {
		return invalidArgument("unsupported element type %s for getrf", p.DType)
	}
	n := int32(p.Cols)

	lease, err := d.blas.Borrow(stream)
	if err != nil {
		return err
	}
	defer lease.Release()

	ptrs, ok := scratch.Allocate(pointerSize * p.Batch)
	if !ok {
		return unknown(nil, "unable to allocate workspace for batched getrf")
	}

	elem := p.DType.Size()
	if a != out {
		if err := d.backend.MemcpyDtoDAsync(out, a, elem*p.Batch*p.Cols*p.Cols, stream); err != nil {
			return unknown(err, "batched getrf input copy failed")
		}
	}
	if err := buildBatchPointers(d.backend, stream, out, ptrs, int(p.Batch), elem*p.Cols*p.Cols); err != nil {
		return err
	}
	if err := kernel.Run(lease.Handle(), n, ptrs, leadingDim(n), ipiv, info, int32(p.Batch)); err != nil {
		return unknown(err, "batched getrf failed")
	}
	return nil
}
