//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

#include <stdint.h>

// Minimal CUDA runtime forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart when building with the cuda tag.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaGetLastError(void);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMallocAsync(void** ptr, unsigned long long size, cudaStream_t stream);
extern cudaError_t cudaFreeAsync(void* ptr, cudaStream_t stream);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);

#define BATCHLU_MEMCPY_HOST_TO_DEVICE 1
#define BATCHLU_MEMCPY_DEVICE_TO_HOST 2
#define BATCHLU_MEMCPY_DEVICE_TO_DEVICE 3

// Device addresses and streams cross the boundary as integers.
#define BATCHLU_PTR(p) ((void*)(uintptr_t)(p))
#define BATCHLU_STREAM(s) ((cudaStream_t)(uintptr_t)(s))

static const char* batchluCudaGetErrorString(int err) {
	return cudaGetErrorString((cudaError_t)err);
}

static int batchluCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int batchluCudaGetLastError(void) {
	return (int)cudaGetLastError();
}

static int batchluCudaStreamCreate(unsigned long long* out) {
	cudaStream_t stream = 0;
	cudaError_t err = cudaStreamCreate(&stream);
	*out = (unsigned long long)(uintptr_t)stream;
	return (int)err;
}

static int batchluCudaStreamDestroy(unsigned long long stream) {
	return (int)cudaStreamDestroy(BATCHLU_STREAM(stream));
}

static int batchluCudaStreamSynchronize(unsigned long long stream) {
	return (int)cudaStreamSynchronize(BATCHLU_STREAM(stream));
}

static int batchluCudaMalloc(unsigned long long* out, unsigned long long size) {
	void* ptr = 0;
	cudaError_t err = cudaMalloc(&ptr, size);
	*out = (unsigned long long)(uintptr_t)ptr;
	return (int)err;
}

static int batchluCudaFree(unsigned long long ptr) {
	return (int)cudaFree(BATCHLU_PTR(ptr));
}

static int batchluCudaMallocAsync(unsigned long long* out, unsigned long long size, unsigned long long stream) {
	void* ptr = 0;
	cudaError_t err = cudaMallocAsync(&ptr, size, BATCHLU_STREAM(stream));
	*out = (unsigned long long)(uintptr_t)ptr;
	return (int)err;
}

static int batchluCudaFreeAsync(unsigned long long ptr, unsigned long long stream) {
	return (int)cudaFreeAsync(BATCHLU_PTR(ptr), BATCHLU_STREAM(stream));
}

static int batchluCudaMemcpyH2DAsync(unsigned long long dst, const void* src, unsigned long long size, unsigned long long stream) {
	return (int)cudaMemcpyAsync(BATCHLU_PTR(dst), src, size, BATCHLU_MEMCPY_HOST_TO_DEVICE, BATCHLU_STREAM(stream));
}

static int batchluCudaMemcpyD2HAsync(void* dst, unsigned long long src, unsigned long long size, unsigned long long stream) {
	return (int)cudaMemcpyAsync(dst, BATCHLU_PTR(src), size, BATCHLU_MEMCPY_DEVICE_TO_HOST, BATCHLU_STREAM(stream));
}

static int batchluCudaMemcpyD2DAsync(unsigned long long dst, unsigned long long src, unsigned long long size, unsigned long long stream) {
	return (int)cudaMemcpyAsync(BATCHLU_PTR(dst), BATCHLU_PTR(src), size, BATCHLU_MEMCPY_DEVICE_TO_DEVICE, BATCHLU_STREAM(stream));
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Stream is a cudaStream_t. The zero value is the legacy default stream.
type Stream uintptr

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.batchluCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func NewStream() (Stream, error) {
	var stream C.ulonglong
	if err := cudaErr(C.batchluCudaStreamCreate(&stream)); err != nil {
		return 0, err
	}
	return Stream(stream), nil
}

func (s Stream) Destroy() error {
	if s == 0 {
		return nil
	}
	return cudaErr(C.batchluCudaStreamDestroy(C.ulonglong(s)))
}

func (s Stream) Synchronize() error {
	return cudaErr(C.batchluCudaStreamSynchronize(C.ulonglong(s)))
}

// LastError returns and clears the last error recorded by the runtime on
// this host thread.
func LastError() error {
	return cudaErr(C.batchluCudaGetLastError())
}

func Malloc(bytes int64) (uintptr, error) {
	if bytes < 0 {
		return 0, fmt.Errorf("device alloc size must be >= 0")
	}
	var ptr C.ulonglong
	if err := cudaErr(C.batchluCudaMalloc(&ptr, C.ulonglong(bytes))); err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

func Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	return cudaErr(C.batchluCudaFree(C.ulonglong(ptr)))
}

// MallocAsync allocates from the stream-ordered pool. The memory may be
// used by work issued on s after this call.
func MallocAsync(bytes int64, s Stream) (uintptr, error) {
	if bytes < 0 {
		return 0, fmt.Errorf("device alloc size must be >= 0")
	}
	var ptr C.ulonglong
	if err := cudaErr(C.batchluCudaMallocAsync(&ptr, C.ulonglong(bytes), C.ulonglong(s))); err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

// FreeAsync returns memory to the pool once work issued on s before it
// has completed.
func FreeAsync(ptr uintptr, s Stream) error {
	if ptr == 0 {
		return nil
	}
	return cudaErr(C.batchluCudaFreeAsync(C.ulonglong(ptr), C.ulonglong(s)))
}

// MemcpyH2DAsync copies src to dst in stream order. src is pageable, so the
// runtime stages it before returning and the slice may be reused after.
func MemcpyH2DAsync(dst uintptr, src []byte, s Stream) error {
	if len(src) == 0 {
		return nil
	}
	err := cudaErr(C.batchluCudaMemcpyH2DAsync(C.ulonglong(dst), unsafe.Pointer(&src[0]), C.ulonglong(len(src)), C.ulonglong(s)))
	runtime.KeepAlive(src)
	return err
}

// MemcpyD2H copies len(dst) bytes at src into dst and waits for the copy.
func MemcpyD2H(dst []byte, src uintptr, s Stream) error {
	if len(dst) == 0 {
		return nil
	}
	if err := cudaErr(C.batchluCudaMemcpyD2HAsync(unsafe.Pointer(&dst[0]), C.ulonglong(src), C.ulonglong(len(dst)), C.ulonglong(s))); err != nil {
		return err
	}
	err := s.Synchronize()
	runtime.KeepAlive(dst)
	return err
}

func MemcpyD2DAsync(dst, src uintptr, bytes int64, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.batchluCudaMemcpyD2DAsync(C.ulonglong(dst), C.ulonglong(src), C.ulonglong(bytes), C.ulonglong(s)))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.batchluCudaGetErrorString(code))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
