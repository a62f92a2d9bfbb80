//go:build cuda

package native

/*
#cgo LDFLAGS: -lcusolver

#include <stdint.h>

typedef void* cudaStream_t;
typedef struct cusolverDnContext* cusolverDnHandle_t;
typedef int cusolverStatus_t;

extern cusolverStatus_t cusolverDnCreate(cusolverDnHandle_t* handle);
extern cusolverStatus_t cusolverDnDestroy(cusolverDnHandle_t handle);
extern cusolverStatus_t cusolverDnSetStream(cusolverDnHandle_t handle, cudaStream_t stream);

extern cusolverStatus_t cusolverDnSgetrf_bufferSize(cusolverDnHandle_t handle, int m, int n, void* A, int lda, int* lwork);
extern cusolverStatus_t cusolverDnDgetrf_bufferSize(cusolverDnHandle_t handle, int m, int n, void* A, int lda, int* lwork);
extern cusolverStatus_t cusolverDnCgetrf_bufferSize(cusolverDnHandle_t handle, int m, int n, void* A, int lda, int* lwork);
extern cusolverStatus_t cusolverDnZgetrf_bufferSize(cusolverDnHandle_t handle, int m, int n, void* A, int lda, int* lwork);

extern cusolverStatus_t cusolverDnSgetrf(cusolverDnHandle_t handle, int m, int n, void* A, int lda, void* work, int* ipiv, int* info);
extern cusolverStatus_t cusolverDnDgetrf(cusolverDnHandle_t handle, int m, int n, void* A, int lda, void* work, int* ipiv, int* info);
extern cusolverStatus_t cusolverDnCgetrf(cusolverDnHandle_t handle, int m, int n, void* A, int lda, void* work, int* ipiv, int* info);
extern cusolverStatus_t cusolverDnZgetrf(cusolverDnHandle_t handle, int m, int n, void* A, int lda, void* work, int* ipiv, int* info);

#define BATCHLU_DN(h) ((cusolverDnHandle_t)(uintptr_t)(h))
#define BATCHLU_DPTR(p) ((void*)(uintptr_t)(p))
#define BATCHLU_DINTS(p) ((int*)(uintptr_t)(p))

static int batchluDnCreate(unsigned long long* out) {
	cusolverDnHandle_t handle = 0;
	cusolverStatus_t st = cusolverDnCreate(&handle);
	*out = (unsigned long long)(uintptr_t)handle;
	return (int)st;
}

static int batchluDnDestroy(unsigned long long handle) {
	return (int)cusolverDnDestroy(BATCHLU_DN(handle));
}

static int batchluDnSetStream(unsigned long long handle, unsigned long long stream) {
	return (int)cusolverDnSetStream(BATCHLU_DN(handle), (cudaStream_t)(uintptr_t)stream);
}

// The workspace query only inspects the shape, so no matrix is passed.
static int batchluDnGetrfBufferSize(char kind, unsigned long long handle, int m, int n, int lda, int* lwork) {
	switch (kind) {
	case 's':
		return (int)cusolverDnSgetrf_bufferSize(BATCHLU_DN(handle), m, n, 0, lda, lwork);
	case 'd':
		return (int)cusolverDnDgetrf_bufferSize(BATCHLU_DN(handle), m, n, 0, lda, lwork);
	case 'c':
		return (int)cusolverDnCgetrf_bufferSize(BATCHLU_DN(handle), m, n, 0, lda, lwork);
	case 'z':
		return (int)cusolverDnZgetrf_bufferSize(BATCHLU_DN(handle), m, n, 0, lda, lwork);
	default:
		return -1;
	}
}

static int batchluDnGetrf(char kind, unsigned long long handle, int m, int n, unsigned long long a, int lda, unsigned long long work, unsigned long long ipiv, unsigned long long info) {
	switch (kind) {
	case 's':
		return (int)cusolverDnSgetrf(BATCHLU_DN(handle), m, n, BATCHLU_DPTR(a), lda, BATCHLU_DPTR(work), BATCHLU_DINTS(ipiv), BATCHLU_DINTS(info));
	case 'd':
		return (int)cusolverDnDgetrf(BATCHLU_DN(handle), m, n, BATCHLU_DPTR(a), lda, BATCHLU_DPTR(work), BATCHLU_DINTS(ipiv), BATCHLU_DINTS(info));
	case 'c':
		return (int)cusolverDnCgetrf(BATCHLU_DN(handle), m, n, BATCHLU_DPTR(a), lda, BATCHLU_DPTR(work), BATCHLU_DINTS(ipiv), BATCHLU_DINTS(info));
	case 'z':
		return (int)cusolverDnZgetrf(BATCHLU_DN(handle), m, n, BATCHLU_DPTR(a), lda, BATCHLU_DPTR(work), BATCHLU_DINTS(ipiv), BATCHLU_DINTS(info));
	default:
		return -1;
	}
}
*/
import "C"

import "fmt"

// SolverHandle is a cusolverDnHandle_t.
type SolverHandle uintptr

func NewSolverHandle() (SolverHandle, error) {
	var handle C.ulonglong
	if err := cusolverErr(C.batchluDnCreate(&handle)); err != nil {
		return 0, err
	}
	return SolverHandle(handle), nil
}

func (h SolverHandle) Destroy() error {
	if h == 0 {
		return nil
	}
	return cusolverErr(C.batchluDnDestroy(C.ulonglong(h)))
}

func (h SolverHandle) SetStream(s Stream) error {
	return cusolverErr(C.batchluDnSetStream(C.ulonglong(h), C.ulonglong(s)))
}

// GetrfBufferSize returns the workspace getrf needs, in elements.
func GetrfBufferSize(h SolverHandle, p Precision, m, n, lda int32) (int32, error) {
	var lwork C.int
	if err := cusolverErr(C.batchluDnGetrfBufferSize(C.char(p), C.ulonglong(h), C.int(m), C.int(n), C.int(lda), &lwork)); err != nil {
		return 0, err
	}
	return int32(lwork), nil
}

// Getrf factors one column-major matrix in place on the handle's stream.
func Getrf(h SolverHandle, p Precision, m, n int32, a uintptr, lda int32, work, ipiv, info uintptr) error {
	return cusolverErr(C.batchluDnGetrf(C.char(p), C.ulonglong(h), C.int(m), C.int(n), C.ulonglong(a), C.int(lda), C.ulonglong(work), C.ulonglong(ipiv), C.ulonglong(info)))
}

func cusolverErr(code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("cusolver error %d", int(code))
}
