package solver

import "github.com/samcharles93/batchlu/internal/device"

// SolverHandle is an opaque dense-solver context (cusolverDnHandle_t).
type SolverHandle uintptr

// BlasHandle is an opaque BLAS context (cublasHandle_t).
type BlasHandle uintptr

// Runtime is the stream-ordered part of the device runtime the dispatcher
// needs.
type Runtime interface {
	MemcpyDtoDAsync(dst, src device.Ptr, bytes int64, stream device.Stream) error
	// MakeBatchPointersAsync writes base+i*stride into slot i of the
	// pointer array at slots, for i in [0, batch). Launch failures are
	// reported through LastError.
	MakeBatchPointersAsync(stream device.Stream, base, slots device.Ptr, batch int, stride int64)
	// LastError returns and clears the last launch error recorded on stream.
	LastError(stream device.Stream) error
}

// DenseSolver is the single-matrix factorization library. Matrices are
// column-major with leading dimension lda. lwork counts elements.
type DenseSolver interface {
	CreateSolver() (SolverHandle, error)
	DestroySolver(h SolverHandle) error
	SetSolverStream(h SolverHandle, stream device.Stream) error

	SgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error)
	DgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error)
	CgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error)
	ZgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error)

	Sgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error
	Dgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error
	Cgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error
	Zgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error
}

// BatchedBLAS is the pointer-array batched factorization library. aarray
// holds batch device addresses of n-by-n matrices.
type BatchedBLAS interface {
	CreateBlas() (BlasHandle, error)
	DestroyBlas(h BlasHandle) error
	SetBlasStream(h BlasHandle, stream device.Stream) error

	SgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error
	DgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error
	CgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error
	ZgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error
}

// Backend bundles everything a Dispatcher drives.
type Backend interface {
	Runtime
	DenseSolver
	BatchedBLAS
}

// ScratchAllocator hands out temporary device memory for one dispatch.
// The allocation must stay valid until work already issued on the
// dispatch stream completes, not merely until the call returns. A false
// result means the request cannot be satisfied.
type ScratchAllocator interface {
	Allocate(bytes int64) (device.Ptr, bool)
}

// ScratchFunc adapts a function to ScratchAllocator.
type ScratchFunc func(bytes int64) (device.Ptr, bool)

func (f ScratchFunc) Allocate(bytes int64) (device.Ptr, bool) {
	return f(bytes)
}
