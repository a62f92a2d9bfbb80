//go:build cuda

package native

/*
#cgo LDFLAGS: -lcublas

#include <stdint.h>

typedef void* cudaStream_t;
typedef struct cublasContext* cublasHandle_t;
typedef int cublasStatus_t;

extern cublasStatus_t cublasCreate_v2(cublasHandle_t* handle);
extern cublasStatus_t cublasDestroy_v2(cublasHandle_t handle);
extern cublasStatus_t cublasSetStream_v2(cublasHandle_t handle, cudaStream_t stream);

// The matrix arrays are device arrays of device pointers; element types
// differ per routine but the calling convention does not.
extern cublasStatus_t cublasSgetrfBatched(cublasHandle_t handle, int n, void* const A[], int lda, int* P, int* info, int batchSize);
extern cublasStatus_t cublasDgetrfBatched(cublasHandle_t handle, int n, void* const A[], int lda, int* P, int* info, int batchSize);
extern cublasStatus_t cublasCgetrfBatched(cublasHandle_t handle, int n, void* const A[], int lda, int* P, int* info, int batchSize);
extern cublasStatus_t cublasZgetrfBatched(cublasHandle_t handle, int n, void* const A[], int lda, int* P, int* info, int batchSize);

#define BATCHLU_BLAS(h) ((cublasHandle_t)(uintptr_t)(h))
#define BATCHLU_ARRAY(p) ((void* const*)(uintptr_t)(p))
#define BATCHLU_INTS(p) ((int*)(uintptr_t)(p))

static int batchluCublasCreate(unsigned long long* out) {
	cublasHandle_t handle = 0;
	cublasStatus_t st = cublasCreate_v2(&handle);
	*out = (unsigned long long)(uintptr_t)handle;
	return (int)st;
}

static int batchluCublasDestroy(unsigned long long handle) {
	return (int)cublasDestroy_v2(BATCHLU_BLAS(handle));
}

static int batchluCublasSetStream(unsigned long long handle, unsigned long long stream) {
	return (int)cublasSetStream_v2(BATCHLU_BLAS(handle), (cudaStream_t)(uintptr_t)stream);
}

static int batchluCublasGetrfBatched(char kind, unsigned long long handle, int n, unsigned long long a, int lda, unsigned long long ipiv, unsigned long long info, int batch) {
	switch (kind) {
	case 's':
		return (int)cublasSgetrfBatched(BATCHLU_BLAS(handle), n, BATCHLU_ARRAY(a), lda, BATCHLU_INTS(ipiv), BATCHLU_INTS(info), batch);
	case 'd':
		return (int)cublasDgetrfBatched(BATCHLU_BLAS(handle), n, BATCHLU_ARRAY(a), lda, BATCHLU_INTS(ipiv), BATCHLU_INTS(info), batch);
	case 'c':
		return (int)cublasCgetrfBatched(BATCHLU_BLAS(handle), n, BATCHLU_ARRAY(a), lda, BATCHLU_INTS(ipiv), BATCHLU_INTS(info), batch);
	case 'z':
		return (int)cublasZgetrfBatched(BATCHLU_BLAS(handle), n, BATCHLU_ARRAY(a), lda, BATCHLU_INTS(ipiv), BATCHLU_INTS(info), batch);
	default:
		return -1;
	}
}
*/
import "C"

import "fmt"

// BlasHandle is a cublasHandle_t.
type BlasHandle uintptr

// Precision selects the S, D, C or Z variant of a routine.
type Precision byte

const (
	Single        Precision = 's'
	Double        Precision = 'd'
	Complex       Precision = 'c'
	DoubleComplex Precision = 'z'
)

func NewBlasHandle() (BlasHandle, error) {
	var handle C.ulonglong
	if err := cublasErr(C.batchluCublasCreate(&handle)); err != nil {
		return 0, err
	}
	return BlasHandle(handle), nil
}

func (h BlasHandle) Destroy() error {
	if h == 0 {
		return nil
	}
	return cublasErr(C.batchluCublasDestroy(C.ulonglong(h)))
}

func (h BlasHandle) SetStream(s Stream) error {
	return cublasErr(C.batchluCublasSetStream(C.ulonglong(h), C.ulonglong(s)))
}

// GetrfBatched factors batch n-by-n matrices whose device addresses are
// stored in the device array aarray.
func GetrfBatched(h BlasHandle, p Precision, n int32, aarray uintptr, lda int32, ipiv, info uintptr, batch int32) error {
	return cublasErr(C.batchluCublasGetrfBatched(C.char(p), C.ulonglong(h), C.int(n), C.ulonglong(aarray), C.int(lda), C.ulonglong(ipiv), C.ulonglong(info), C.int(batch)))
}

func cublasErr(code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("cublas error %d", int(code))
}
