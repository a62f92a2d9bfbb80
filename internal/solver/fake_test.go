package solver

import (
	"fmt"
	"sync"

	"github.com/samcharles93/batchlu/internal/device"
)

// fakeBackend records every call and performs no work. Device work is the
// subset of calls that would touch device memory.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []string
	next   uintptr
	lwork  int32
	fail   map[string]error
	launch error

	pointerArgs []pointerCall
	getrfArgs   []getrfCall
	batchedArgs []batchedCall
}

type pointerCall struct {
	base, slots device.Ptr
	batch       int
	stride      int64
}

type getrfCall struct {
	dtype      string
	m, n, lda  int32
	a, work    device.Ptr
	lwork      int32
	ipiv, info device.Ptr
}

type batchedCall struct {
	dtype      string
	n, lda     int32
	aarray     device.Ptr
	ipiv, info device.Ptr
	batch      int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{next: 1, lwork: 7, fail: make(map[string]error)}
}

func (f *fakeBackend) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// deviceWork counts calls that would read or write device memory.
func (f *fakeBackend) deviceWork() int {
	n := 0
	for _, c := range f.Calls() {
		switch c {
		case "memcpy", "batch_pointers", "getrf", "getrf_batched":
			n++
		}
	}
	return n
}

func (f *fakeBackend) MemcpyDtoDAsync(dst, src device.Ptr, bytes int64, stream device.Stream) error {
	return f.record("memcpy")
}

func (f *fakeBackend) MakeBatchPointersAsync(stream device.Stream, base, slots device.Ptr, batch int, stride int64) {
	f.mu.Lock()
	f.pointerArgs = append(f.pointerArgs, pointerCall{base: base, slots: slots, batch: batch, stride: stride})
	f.mu.Unlock()
	_ = f.record("batch_pointers")
}

func (f *fakeBackend) LastError(stream device.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.launch
	f.launch = nil
	return err
}

func (f *fakeBackend) newHandle() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.next
	f.next++
	return h
}

func (f *fakeBackend) CreateSolver() (SolverHandle, error) {
	if err := f.record("create_solver"); err != nil {
		return 0, err
	}
	return SolverHandle(f.newHandle()), nil
}

func (f *fakeBackend) DestroySolver(h SolverHandle) error {
	return f.record("destroy_solver")
}

func (f *fakeBackend) SetSolverStream(h SolverHandle, stream device.Stream) error {
	return f.record("set_solver_stream")
}

func (f *fakeBackend) CreateBlas() (BlasHandle, error) {
	if err := f.record("create_blas"); err != nil {
		return 0, err
	}
	return BlasHandle(f.newHandle()), nil
}

func (f *fakeBackend) DestroyBlas(h BlasHandle) error {
	return f.record("destroy_blas")
}

func (f *fakeBackend) SetBlasStream(h BlasHandle, stream device.Stream) error {
	return f.record("set_blas_stream")
}

func (f *fakeBackend) bufferSize() (int32, error) {
	if err := f.record("buffer_size"); err != nil {
		return 0, err
	}
	return f.lwork, nil
}

func (f *fakeBackend) SgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error) {
	return f.bufferSize()
}

func (f *fakeBackend) DgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error) {
	return f.bufferSize()
}

func (f *fakeBackend) CgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error) {
	return f.bufferSize()
}

func (f *fakeBackend) ZgetrfBufferSize(h SolverHandle, m, n, lda int32) (int32, error) {
	return f.bufferSize()
}

func (f *fakeBackend) getrf(dtype string, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	f.mu.Lock()
	f.getrfArgs = append(f.getrfArgs, getrfCall{dtype: dtype, m: m, n: n, lda: lda, a: a, work: work, lwork: lwork, ipiv: ipiv, info: info})
	f.mu.Unlock()
	return f.record("getrf")
}

func (f *fakeBackend) Sgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return f.getrf("s", m, n, a, lda, work, lwork, ipiv, info)
}

func (f *fakeBackend) Dgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return f.getrf("d", m, n, a, lda, work, lwork, ipiv, info)
}

func (f *fakeBackend) Cgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return f.getrf("c", m, n, a, lda, work, lwork, ipiv, info)
}

func (f *fakeBackend) Zgetrf(h SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return f.getrf("z", m, n, a, lda, work, lwork, ipiv, info)
}

func (f *fakeBackend) getrfBatched(dtype string, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	f.mu.Lock()
	f.batchedArgs = append(f.batchedArgs, batchedCall{dtype: dtype, n: n, lda: lda, aarray: aarray, ipiv: ipiv, info: info, batch: batch})
	f.mu.Unlock()
	return f.record("getrf_batched")
}

func (f *fakeBackend) SgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return f.getrfBatched("s", n, aarray, lda, ipiv, info, batch)
}

func (f *fakeBackend) DgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return f.getrfBatched("d", n, aarray, lda, ipiv, info, batch)
}

func (f *fakeBackend) CgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return f.getrfBatched("c", n, aarray, lda, ipiv, info, batch)
}

func (f *fakeBackend) ZgetrfBatched(h BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return f.getrfBatched("z", n, aarray, lda, ipiv, info, batch)
}

// bumpScratch hands out fake addresses from a fixed base and records the
// requested sizes.
type bumpScratch struct {
	next  device.Ptr
	sizes []int64
	fail  bool
}

func (s *bumpScratch) Allocate(bytes int64) (device.Ptr, bool) {
	s.sizes = append(s.sizes, bytes)
	if s.fail {
		return 0, false
	}
	if s.next == 0 {
		s.next = 0x9000_0000
	}
	p := s.next
	s.next = s.next.Add(bytes)
	return p, true
}

func buf(p device.Ptr, dt device.DType, dims ...int64) device.Buffer {
	return device.Buffer{Data: p, DType: dt, Dims: dims}
}

func errText(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v (code %s)", err, CodeOf(err))
}
