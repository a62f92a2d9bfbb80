package solver

import "github.com/samcharles93/batchlu/internal/device"

// getrfKernel is the single-matrix factorization for one element type.
type getrfKernel struct {
	dtype      device.DType
	bufferSize func(h SolverHandle, m, n, lda int32) (int32, error)
	run        func(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error
}

// leadingDim is the column stride of a densely packed matrix with the given
// row count. The libraries reject lda < 1 even for empty matrices.
func leadingDim(rows int32) int32 {
	return max(1, rows)
}

// WorkspaceSize returns the workspace the factorization of an m-by-n
// matrix needs, in elements.
func (k getrfKernel) WorkspaceSize(h SolverHandle, m, n int32) (int32, error) {
	return k.bufferSize(h, m, n, leadingDim(m))
}

// Run factors one m-by-n matrix at a in place.
func (k getrfKernel) Run(h SolverHandle, m, n int32, a, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return k.run(h, m, n, a, leadingDim(m), work, lwork, ipiv, info)
}

func getrfKernelFor(lib DenseSolver, dt device.DType) (getrfKernel, bool) {
	switch dt {
	case device.F32:
		return getrfKernel{dtype: dt, bufferSize: lib.SgetrfBufferSize, run: lib.Sgetrf}, true
	case device.F64:
		return getrfKernel{dtype: dt, bufferSize: lib.DgetrfBufferSize, run: lib.Dgetrf}, true
	case device.C64:
		return getrfKernel{dtype: dt, bufferSize: lib.CgetrfBufferSize, run: lib.Cgetrf}, true
	case device.C128:
		return getrfKernel{dtype: dt, bufferSize: lib.ZgetrfBufferSize, run: lib.Zgetrf}, true
	default:
		return getrfKernel{}, false
	}
}

// getrfBatchedKernel is the pointer-array batched factorization for one
// element type. Square matrices only.
type getrfBatchedKernel struct {
	dtype device.DType
	run   func(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error
}

// Run factors batch n-by-n matrices addressed by the pointer array.
// ipiv and info are contiguous over the whole batch.
func (k getrfBatchedKernel) Run(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return k.run(h, n, aarray, lda, ipiv, info, batch)
}

func getrfBatchedKernelFor(lib BatchedBLAS, dt device.DType) (getrfBatchedKernel, bool) {
	switch dt {
	case device.F32:
		return getrfBatchedKernel{dtype: dt, run: lib.SgetrfBatched}, true
	case device.F64:
		return getrfBatchedKernel{dtype: dt, run: lib.DgetrfBatched}, true
	case device.C64:
		return getrfBatchedKernel{dtype: dt, run: lib.CgetrfBatched}, true
	case device.C128:
		return getrfBatchedKernel{dtype: dt, run: lib.ZgetrfBatched}, true
	default:
		return getrfBatchedKernel{}, false
	}
}

// pointerSize is the width of one entry in a device pointer array.
const pointerSize = 8

// buildBatchPointers fills slots[i] = base + i*stride on stream and checks
// for a launch failure straight away.
func buildBatchPointers(rt Runtime, stream device.Stream, base, slots device.Ptr, batch int, stride int64) error {
	rt.MakeBatchPointersAsync(stream, base, slots, batch, stride)
	if err := rt.LastError(stream); err != nil {
		return unknown(err, "batch pointer construction failed")
	}
	return nil
}
