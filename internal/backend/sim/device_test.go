package sim

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/solver"
)

func newTestDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	d := New(opts)
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return d
}

func put[T device.Element](t *testing.T, d *Device, data []T) device.Ptr {
	t.Helper()
	p, err := d.Alloc(int64(len(data)) * device.DTypeOf[T]().Size())
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := d.CopyToDevice(p, device.HostBytes(data), DefaultStream); err != nil {
		t.Fatalf("CopyToDevice: %v", err)
	}
	return p
}

func get[T device.Element](t *testing.T, d *Device, p device.Ptr, n int) []T {
	t.Helper()
	out := make([]T, n)
	if err := d.CopyFromDevice(device.HostBytes(out), p, DefaultStream); err != nil {
		t.Fatalf("CopyFromDevice: %v", err)
	}
	return out
}

func TestStreamsRunInIssueOrder(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	s, err := d.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	src := put(t, d, []int32{1, 2, 3, 4})
	mid, _ := d.Alloc(16)
	dst, _ := d.Alloc(16)
	if err := d.MemcpyDtoDAsync(mid, src, 16, s); err != nil {
		t.Fatalf("memcpy: %v", err)
	}
	if err := d.MemcpyDtoDAsync(dst, mid, 16, s); err != nil {
		t.Fatalf("memcpy: %v", err)
	}
	if err := d.Synchronize(s); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if diff := cmp.Diff([]int32{1, 2, 3, 4}, get[int32](t, d, dst, 4)); diff != "" {
		t.Fatalf("chained copy mismatch (-want +got):\n%s", diff)
	}
	if err := d.DestroyStream(s); err != nil {
		t.Fatalf("DestroyStream: %v", err)
	}
	if err := d.MemcpyDtoDAsync(dst, src, 16, s); err == nil {
		t.Fatalf("memcpy on destroyed stream succeeded")
	}
	if err := d.DestroyStream(DefaultStream); err == nil {
		t.Fatalf("destroying the default stream succeeded")
	}
}

func TestMemcpyValidatesRanges(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	a, _ := d.Alloc(8)
	b, _ := d.Alloc(4)
	if err := d.MemcpyDtoDAsync(b, a, 8, DefaultStream); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("memcpy overflow error = %v, want invalid address", err)
	}
	if got := d.Counters().Copies; got != 0 {
		t.Fatalf("copies = %d, want rejected copy not counted", got)
	}
}

func TestMakeBatchPointers(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	slots, _ := d.Alloc(3 * 8)
	base := device.Ptr(0x1000)

	d.MakeBatchPointersAsync(DefaultStream, base, slots, 3, 72)
	if err := d.LastError(DefaultStream); err != nil {
		t.Fatalf("LastError: %v", err)
	}
	want := []uint64{0x1000, 0x1000 + 72, 0x1000 + 144}
	got := hostPointers(device.HostBytes(get[int32](t, d, slots, 6)))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pointer array mismatch (-want +got):\n%s", diff)
	}

	// Four slots do not fit in a three-slot array.
	d.MakeBatchPointersAsync(DefaultStream, base, slots, 4, 72)
	if err := d.LastError(DefaultStream); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("LastError = %v, want invalid address", err)
	}
	if err := d.LastError(DefaultStream); err != nil {
		t.Fatalf("LastError after read = %v, want cleared", err)
	}
}

func TestFaultInjectionFiresOnce(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	fault := errors.New("allocation failed")
	d.InjectFault(OpCreateSolver, fault)

	if _, err := d.CreateSolver(); !errors.Is(err, fault) {
		t.Fatalf("CreateSolver error = %v, want injected fault", err)
	}
	h, err := d.CreateSolver()
	if err != nil {
		t.Fatalf("CreateSolver after fault: %v", err)
	}
	if err := d.DestroySolver(h); err != nil {
		t.Fatalf("DestroySolver: %v", err)
	}
	if err := d.DestroySolver(h); err == nil {
		t.Fatalf("double destroy succeeded")
	}
}

func TestGetrfIllegalArgumentWritesInfo(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	h, err := d.CreateSolver()
	if err != nil {
		t.Fatalf("CreateSolver: %v", err)
	}
	if err := d.SetSolverStream(h, DefaultStream); err != nil {
		t.Fatalf("SetSolverStream: %v", err)
	}
	a := put(t, d, []float64{1, 0, 0, 1})
	ipiv := put(t, d, []int32{0, 0})
	info := put(t, d, []int32{0})
	work, _ := d.Alloc(16)

	// lda smaller than m is illegal argument 4.
	if err := d.Dgetrf(h, 2, 2, a, 1, work, 2, ipiv, info); err != nil {
		t.Fatalf("Dgetrf: %v", err)
	}
	if err := d.Synchronize(DefaultStream); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := get[int32](t, d, info, 1)[0]; got != -4 {
		t.Fatalf("info = %d, want -4", got)
	}
}

func TestGetrfBatchedRejectsBadArguments(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	h, err := d.CreateBlas()
	if err != nil {
		t.Fatalf("CreateBlas: %v", err)
	}
	if err := d.SetBlasStream(h, DefaultStream); err != nil {
		t.Fatalf("SetBlasStream: %v", err)
	}
	ptrs, _ := d.Alloc(16)
	ipiv, _ := d.Alloc(16)
	info, _ := d.Alloc(8)

	if err := d.SgetrfBatched(h, 2, ptrs, 1, ipiv, info, 2); !errors.Is(err, errInvalidValue) {
		t.Fatalf("short lda error = %v, want invalid value", err)
	}
	if err := d.SgetrfBatched(h, 2, ptrs, 2, ipiv, info, 3); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("oversized batch error = %v, want invalid address", err)
	}
	if got := d.Counters().GetrfBatched; got != 0 {
		t.Fatalf("batched launches = %d, want 0", got)
	}
}

func TestExecutionFaultSurfacesOnSynchronize(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	h, _ := d.CreateBlas()
	if err := d.SetBlasStream(h, DefaultStream); err != nil {
		t.Fatalf("SetBlasStream: %v", err)
	}
	// The pointer array names an address that is not device memory.
	ptrs := put(t, d, []int32{0x10, 0})
	ipiv, _ := d.Alloc(4)
	info, _ := d.Alloc(4)

	if err := d.DgetrfBatched(h, 1, ptrs, 1, ipiv, info, 1); err != nil {
		t.Fatalf("DgetrfBatched issue: %v", err)
	}
	if err := d.Synchronize(DefaultStream); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("Synchronize = %v, want the execution fault", err)
	}
	if err := d.Synchronize(DefaultStream); err != nil {
		t.Fatalf("second Synchronize = %v, want cleared", err)
	}
}

func TestArenaLimitAndRelease(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{})
	arena := d.NewArena(DefaultStream, 100)
	var _ solver.ScratchAllocator = arena

	if _, ok := arena.Allocate(60); !ok {
		t.Fatalf("first allocation failed")
	}
	if _, ok := arena.Allocate(60); ok {
		t.Fatalf("allocation past the arena limit succeeded")
	}
	if _, ok := arena.Allocate(40); !ok {
		t.Fatalf("allocation up to the limit failed")
	}
	if diff := cmp.Diff([]int64{60, 40}, arena.Sizes()); diff != "" {
		t.Fatalf("sizes mismatch (-want +got):\n%s", diff)
	}
	if err := arena.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := d.Synchronize(DefaultStream); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := d.MemoryInUse(); got != 0 {
		t.Fatalf("memory in use after release = %d, want 0", got)
	}
	if _, ok := arena.Allocate(100); !ok {
		t.Fatalf("allocation after release failed")
	}
	if err := arena.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestDeviceMemoryLimit(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, Options{MemoryLimit: 1})
	if _, err := d.Alloc(1); err == nil {
		t.Fatalf("allocation beyond the device limit succeeded")
	}
	if _, ok := d.NewArena(DefaultStream, 0).Allocate(1); ok {
		t.Fatalf("arena allocation beyond the device limit succeeded")
	}
}
