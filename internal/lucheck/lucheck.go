// Package lucheck verifies LU factorizations and builds test matrices.
//
// All matrices are column-major with leading dimension equal to the row
// count, matching the layout the factorization backends use. Pivots are
// 1-based row indices as written by getrf.
package lucheck

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/batchlu/internal/device"
)

// Scalar is an element type getrf supports.
type Scalar interface {
	float32 | float64 | complex64 | complex128
}

// Tolerance is the relative reconstruction error accepted for dt.
func Tolerance(dt device.DType) float64 {
	switch dt {
	case device.F32, device.C64:
		return 1e-5
	default:
		return 1e-12
	}
}

// Residual returns ‖P·A − L·U‖_F / ‖A‖_F for one m-by-n matrix a and its
// packed factorization lu. For a zero matrix the absolute error is
// returned instead.
func Residual[T Scalar](m, n int, a, lu []T, ipiv []int32) float64 {
	if m == 0 || n == 0 {
		return 0
	}
	var zero T
	switch any(zero).(type) {
	case complex64, complex128:
		return residualComplex(m, n, toComplex(a), toComplex(lu), ipiv)
	default:
		return residualReal(m, n, toReal(a), toReal(lu), ipiv)
	}
}

func residualReal(m, n int, a, lu []float64, ipiv []int32) float64 {
	k := min(m, n)
	l := blas64.General{Rows: m, Cols: k, Stride: k, Data: make([]float64, m*k)}
	u := blas64.General{Rows: k, Cols: n, Stride: n, Data: make([]float64, k*n)}
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			switch {
			case i > j:
				l.Data[i*k+j] = lu[i+j*m]
			case i == j:
				l.Data[i*k+j] = 1
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := i; j < n; j++ {
			u.Data[i*n+j] = lu[i+j*m]
		}
	}
	c := blas64.General{Rows: m, Cols: n, Stride: n, Data: make([]float64, m*n)}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, l, u, 0, c)

	pa := permuted(m, n, a, ipiv)
	diff := floats.Distance(pa, c.Data, 2)
	if norm := floats.Norm(a, 2); norm > 0 {
		return diff / norm
	}
	return diff
}

func residualComplex(m, n int, a, lu []complex128, ipiv []int32) float64 {
	k := min(m, n)
	l := cblas128.General{Rows: m, Cols: k, Stride: k, Data: make([]complex128, m*k)}
	u := cblas128.General{Rows: k, Cols: n, Stride: n, Data: make([]complex128, k*n)}
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			switch {
			case i > j:
				l.Data[i*k+j] = lu[i+j*m]
			case i == j:
				l.Data[i*k+j] = 1
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := i; j < n; j++ {
			u.Data[i*n+j] = lu[i+j*m]
		}
	}
	c := cblas128.General{Rows: m, Cols: n, Stride: n, Data: make([]complex128, m*n)}
	cblas128.Gemm(blas.NoTrans, blas.NoTrans, 1, l, u, 0, c)

	pa := permuted(m, n, a, ipiv)
	diff := cmplxs.Distance(pa, c.Data, 2)
	if norm := cmplxs.Norm(a, 2); norm > 0 {
		return diff / norm
	}
	return diff
}

// permuted returns P·A in row-major order by replaying the pivot swaps.
func permuted[T float64 | complex128](m, n int, a []T, ipiv []int32) []T {
	pa := make([]T, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			pa[i*n+j] = a[i+j*m]
		}
	}
	for i := 0; i < min(m, n); i++ {
		p := int(ipiv[i]) - 1
		if p == i {
			continue
		}
		for j := 0; j < n; j++ {
			pa[i*n+j], pa[p*n+j] = pa[p*n+j], pa[i*n+j]
		}
	}
	return pa
}

func toReal[T Scalar](s []T) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		switch x := any(v).(type) {
		case float32:
			out[i] = float64(x)
		case float64:
			out[i] = x
		}
	}
	return out
}

func toComplex[T Scalar](s []T) []complex128 {
	out := make([]complex128, len(s))
	for i, v := range s {
		switch x := any(v).(type) {
		case complex64:
			out[i] = complex128(x)
		case complex128:
			out[i] = x
		}
	}
	return out
}

// value builds a T from real and imaginary parts; im is dropped for reals.
func value[T Scalar](re, im float64) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(float32(re)).(T)
	case float64:
		return any(re).(T)
	case complex64:
		return any(complex64(complex(re, im))).(T)
	default:
		return any(complex(re, im)).(T)
	}
}

// Random returns batch diagonally dominant n-by-n matrices, stacked. Every
// matrix is well conditioned; pivoting still happens because off-diagonal
// entries are drawn from [-1, 1).
func Random[T Scalar](batch, n int, r *rand.Rand) []T {
	out := make([]T, batch*n*n)
	for b := 0; b < batch; b++ {
		mat := out[b*n*n : (b+1)*n*n]
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				re, im := 2*r.Float64()-1, 2*r.Float64()-1
				if i == j {
					re += float64(2 * n)
				}
				mat[i+j*n] = value[T](re, im)
			}
		}
	}
	return out
}

// Identity returns batch stacked n-by-n identity matrices.
func Identity[T Scalar](batch, n int) []T {
	out := make([]T, batch*n*n)
	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			out[b*n*n+i+i*n] = value[T](1, 0)
		}
	}
	return out
}

// ZeroRow returns a diagonally dominant n-by-n matrix whose given row is
// entirely zero, which makes it exactly singular.
func ZeroRow[T Scalar](n, row int, r *rand.Rand) []T {
	out := Random[T](1, n, r)
	for j := 0; j < n; j++ {
		out[row+j*n] = 0
	}
	return out
}

// IdentityPivots returns the pivot vector getrf produces when no row is
// exchanged: 1, 2, ..., k.
func IdentityPivots(k int) []int32 {
	out := make([]int32, k)
	for i := range out {
		out[i] = int32(i + 1)
	}
	return out
}
