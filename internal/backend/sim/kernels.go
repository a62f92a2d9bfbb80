package sim

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/solver"
)

var errInvalidValue = errors.New("invalid value")

func (d *Device) CreateSolver() (solver.SolverHandle, error) {
	if err := d.takeFault(OpCreateSolver); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("device closed")
	}
	id := solver.SolverHandle(d.nextHandle)
	d.nextHandle++
	d.solvers[id] = &handle{}
	d.count.solverHandles.Add(1)
	return id, nil
}

func (d *Device) DestroySolver(h solver.SolverHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.solvers[h]; !ok {
		return fmt.Errorf("destroy solver handle %d: not initialized", h)
	}
	delete(d.solvers, h)
	return nil
}

func (d *Device) SetSolverStream(h solver.SolverHandle, s device.Stream) error {
	hd, err := d.solverHandle(h)
	if err != nil {
		return err
	}
	return d.bind(hd, s)
}

func (d *Device) CreateBlas() (solver.BlasHandle, error) {
	if err := d.takeFault(OpCreateBlas); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("device closed")
	}
	id := solver.BlasHandle(d.nextHandle)
	d.nextHandle++
	d.blas[id] = &handle{}
	d.count.blasHandles.Add(1)
	return id, nil
}

func (d *Device) DestroyBlas(h solver.BlasHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blas[h]; !ok {
		return fmt.Errorf("destroy blas handle %d: not initialized", h)
	}
	delete(d.blas, h)
	return nil
}

func (d *Device) SetBlasStream(h solver.BlasHandle, s device.Stream) error {
	hd, err := d.blasHandle(h)
	if err != nil {
		return err
	}
	return d.bind(hd, s)
}

func (d *Device) bind(hd *handle, s device.Stream) error {
	if err := d.takeFault(OpSetStream); err != nil {
		return err
	}
	if _, err := d.stream(s); err != nil {
		return err
	}
	if hd.busy.Load() {
		d.count.conflicts.Add(1)
	}
	hd.stream.Store(uintptr(s))
	return nil
}

func (d *Device) solverHandle(h solver.SolverHandle) (*handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.solvers[h]
	if !ok {
		return nil, fmt.Errorf("solver handle %d: not initialized", h)
	}
	return hd, nil
}

func (d *Device) blasHandle(h solver.BlasHandle) (*handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.blas[h]
	if !ok {
		return nil, fmt.Errorf("blas handle %d: not initialized", h)
	}
	return hd, nil
}

// acquire marks hd as in use by the caller and returns the stream it is
// bound to. Overlapping use of one handle is counted as a conflict.
func (d *Device) acquire(hd *handle) (*stream, func(), error) {
	release := func() {}
	if hd.busy.CompareAndSwap(false, true) {
		release = func() { hd.busy.Store(false) }
	} else {
		d.count.conflicts.Add(1)
	}
	st, err := d.stream(device.Stream(hd.stream.Load()))
	if err != nil {
		release()
		return nil, nil, err
	}
	return st, release, nil
}

func (d *Device) bufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	if err := d.takeFault(OpBufferSize); err != nil {
		return 0, err
	}
	if _, err := d.solverHandle(h); err != nil {
		return 0, err
	}
	if m < 0 || n < 0 || lda < max(1, m) {
		return 0, fmt.Errorf("getrf buffer size m=%d n=%d lda=%d: %w", m, n, lda, errInvalidValue)
	}
	d.count.bufferQueries.Add(1)
	return workspaceElems(n), nil
}

func (d *Device) SgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return d.bufferSize(h, m, n, lda)
}

func (d *Device) DgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return d.bufferSize(h, m, n, lda)
}

func (d *Device) CgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return d.bufferSize(h, m, n, lda)
}

func (d *Device) ZgetrfBufferSize(h solver.SolverHandle, m, n, lda int32) (int32, error) {
	return d.bufferSize(h, m, n, lda)
}

func (d *Device) Sgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return getrf[float32](d, h, m, n, a, lda, work, lwork, ipiv, info)
}

func (d *Device) Dgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return getrf[float64](d, h, m, n, a, lda, work, lwork, ipiv, info)
}

func (d *Device) Cgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return getrf[complex64](d, h, m, n, a, lda, work, lwork, ipiv, info)
}

func (d *Device) Zgetrf(h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	return getrf[complex128](d, h, m, n, a, lda, work, lwork, ipiv, info)
}

func (d *Device) SgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched[float32](d, h, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) DgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched[float64](d, h, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) CgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched[complex64](d, h, n, aarray, lda, ipiv, info, batch)
}

func (d *Device) ZgetrfBatched(h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	return getrfBatched[complex128](d, h, n, aarray, lda, ipiv, info, batch)
}

func sizeOf[T scalar]() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// typedView reinterprets device bytes as T. Allocations are page aligned
// and callers only form element-aligned offsets.
func typedView[T scalar](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(sizeOf[T]()))
}

func hostPointers(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

func getrf[T scalar](d *Device, h solver.SolverHandle, m, n int32, a device.Ptr, lda int32, work device.Ptr, lwork int32, ipiv, info device.Ptr) error {
	if err := d.takeFault(OpGetrf); err != nil {
		return err
	}
	hd, err := d.solverHandle(h)
	if err != nil {
		return err
	}
	st, release, err := d.acquire(hd)
	if err != nil {
		return err
	}
	defer release()
	if _, err := d.mem.bytes(info, 4); err != nil {
		return fmt.Errorf("getrf info: %w", err)
	}

	elem := sizeOf[T]()
	d.count.getrf.Add(1)
	return st.enqueue(func() error {
		infoBytes, err := d.mem.bytes(info, 4)
		if err != nil {
			return err
		}
		status := device.HostView[int32](infoBytes)
		if bad := getrfArgs(m, n, lda, lwork); bad != 0 {
			status[0] = bad
			return nil
		}
		ab, err := d.mem.bytes(a, matrixElems(m, n, lda)*elem)
		if err != nil {
			return fmt.Errorf("getrf matrix: %w", err)
		}
		pb, err := d.mem.bytes(ipiv, int64(min(m, n))*4)
		if err != nil {
			return fmt.Errorf("getrf pivots: %w", err)
		}
		wb, err := d.mem.bytes(work, int64(workspaceElems(n))*elem)
		if err != nil {
			return fmt.Errorf("getrf workspace: %w", err)
		}
		status[0] = getf2(int(m), int(n), typedView[T](ab), int(lda), device.HostView[int32](pb), typedView[T](wb))
		return nil
	})
}

func getrfBatched[T scalar](d *Device, h solver.BlasHandle, n int32, aarray device.Ptr, lda int32, ipiv, info device.Ptr, batch int32) error {
	if err := d.takeFault(OpGetrfBatched); err != nil {
		return err
	}
	hd, err := d.blasHandle(h)
	if err != nil {
		return err
	}
	if n < 0 || lda < max(1, n) || batch < 0 {
		return fmt.Errorf("getrf batched n=%d lda=%d batch=%d: %w", n, lda, batch, errInvalidValue)
	}
	st, release, err := d.acquire(hd)
	if err != nil {
		return err
	}
	defer release()

	count := int64(batch)
	for _, r := range []struct {
		name string
		p    device.Ptr
		n    int64
	}{
		{"pointer array", aarray, count * 8},
		{"pivots", ipiv, count * int64(n) * 4},
		{"info", info, count * 4},
	} {
		if _, err := d.mem.bytes(r.p, r.n); err != nil {
			return fmt.Errorf("getrf batched %s: %w", r.name, err)
		}
	}

	elem := sizeOf[T]()
	d.count.getrfBatched.Add(1)
	return st.enqueue(func() error {
		pb, err := d.mem.bytes(aarray, count*8)
		if err != nil {
			return err
		}
		ptrs := hostPointers(pb)
		ivb, err := d.mem.bytes(ipiv, count*int64(n)*4)
		if err != nil {
			return err
		}
		inb, err := d.mem.bytes(info, count*4)
		if err != nil {
			return err
		}
		pivots := device.HostView[int32](ivb)
		status := device.HostView[int32](inb)
		work := make([]T, workspaceElems(n))
		for i, addr := range ptrs {
			ab, err := d.mem.bytes(device.Ptr(addr), matrixElems(n, n, lda)*elem)
			if err != nil {
				return fmt.Errorf("getrf batched matrix %d: %w", i, err)
			}
			status[i] = getf2(int(n), int(n), typedView[T](ab), int(lda), pivots[i*int(n):(i+1)*int(n)], work)
		}
		return nil
	})
}
