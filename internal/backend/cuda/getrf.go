//go:build cuda

package cuda

import (
	"github.com/samcharles93/batchlu/internal/backend/cuda/native"
	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/solver"
)

// cuSOLVER sizes and checks the workspace itself, so lwork is not passed on.

func bufferSize(h solver.SolverHandle, p native.Precision, m, n, lda int32) (int32, error) {
	return native.GetrfBufferSize(native.SolverHandle(h), p, m, n, lda)
}

func getrf(h solver.SolverHandle, p native.Precision, m, n int32, a device.Ptr, lda int32, work device.Ptr, ipiv, info device.Ptr) error {
	return native.Getrf(native.SolverHandle(h), p, m, n, uintptr(a), lda, uintptr(work), uintptr(ipiv), uintptr(info))
}

func getrfBatched(h solver.BlasHandle, p native.Precision, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return native.GetrfBatched(native.BlasHandle(h), p, n, uintptr(aarray), lda, uintptr(ipiv), uintptr(info), batch)
}

func (d *Device) SgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return bufferSize(h, native.Single, m, n, lda)
}

func (d *Device) DgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return bufferSize(h, native.Double, m, n, lda)
}

func (d *Device) CgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return bufferSize(h, native.Complex, m, n, lda)
}

func (d *Device) ZgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return bufferSize(h, native.DoubleComplex, m, n, lda)
}

func (d *Device) Sgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, _ int32, ipiv, info device.Ptr) error {
	return getrf(h, native.Single, m, n, a, lda, work, ipiv, info)
}

func (d *Device) Dgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, _ int32, ipiv, info device.Ptr) error {
	return getrf(h, native.Double, m, n, a, lda, work, ipiv, info)
}

func (d *Device) Cgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, _ int32, ipiv, info device.Ptr) error {
	return getrf(h, native.Complex, m, n, a, lda, work, ipiv, info)
}

func (d *Device) Zgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, _ int32, ipiv, info device.Ptr) error {
	return getrf(h, native.DoubleComplex, m, n, a, lda, work, ipiv, info)
}

func (d *Device) SgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched(h, native.Single, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) DgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched(h, native.Double, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) CgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched(h, native.Complex, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) ZgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched(h, native.DoubleComplex, n, aarray, lda, ipiv, info, batch)
}
