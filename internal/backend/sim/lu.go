package sim

import "math"

type scalar interface {
	float32 | float64 | complex64 | complex128
}

// abs1 is the pivot magnitude: |x| for reals, |re|+|im| for complex values.
func abs1[T scalar](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return math.Abs(float64(x))
	case float64:
		return math.Abs(x)
	case complex64:
		return math.Abs(float64(real(x))) + math.Abs(float64(imag(x)))
	case complex128:
		return math.Abs(real(x)) + math.Abs(imag(x))
	default:
		return 0
	}
}

// getf2 is an unblocked LU factorization with partial pivoting of the
// column-major m-by-n matrix a (leading dimension lda), in place. ipiv
// receives min(m, n) 1-based row indices; work must hold at least n
// elements. It returns 0, or k when U(k,k) is exactly zero; the
// factorization still runs to completion in that case.
func getf2[T scalar](m, n int, a []T, lda int, ipiv []int32, work []T) int32 {
	var info int32
	for j := 0; j < min(m, n); j++ {
		p := j
		best := abs1(a[j+j*lda])
		for i := j + 1; i < m; i++ {
			if v := abs1(a[i+j*lda]); v > best {
				best, p = v, i
			}
		}
		ipiv[j] = int32(p + 1)

		if a[p+j*lda] != 0 {
			if p != j {
				swapRows(a, lda, n, j, p, work)
			}
			pivot := a[j+j*lda]
			for i := j + 1; i < m; i++ {
				a[i+j*lda] /= pivot
			}
		} else if info == 0 {
			info = int32(j + 1)
		}

		for c := j + 1; c < n; c++ {
			t := a[j+c*lda]
			if t == 0 {
				continue
			}
			for i := j + 1; i < m; i++ {
				a[i+c*lda] -= a[i+j*lda] * t
			}
		}
	}
	return info
}

func swapRows[T scalar](a []T, lda, n, r1, r2 int, work []T) {
	for c := 0; c < n; c++ {
		work[c] = a[r1+c*lda]
	}
	for c := 0; c < n; c++ {
		a[r1+c*lda] = a[r2+c*lda]
		a[r2+c*lda] = work[c]
	}
}

// getrfArgs checks arguments the way LAPACK does and returns the negated
// position of the first illegal one, or 0.
func getrfArgs(m, n, lda, lwork int32) int32 {
	switch {
	case m < 0:
		return -1
	case n < 0:
		return -2
	case lda < max(1, m):
		return -4
	case lwork < workspaceElems(n):
		return -6
	default:
		return 0
	}
}

func workspaceElems(n int32) int32 {
	return max(1, n)
}

// matrixElems is the number of elements spanned by a column-major m-by-n
// matrix with leading dimension lda.
func matrixElems(m, n, lda int32) int64 {
	if m == 0 || n == 0 {
		return 0
	}
	return int64(lda)*int64(n-1) + int64(m)
}
