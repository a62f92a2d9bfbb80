//go:build cuda

package cuda

import (
	"runtime"
	"testing"

	"github.com/samcharles93/batchlu/internal/backend/cuda/native"
	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/lucheck"
	"github.com/samcharles93/batchlu/internal/solver"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	count, err := native.DeviceCount()
	if err != nil || count < 1 {
		t.Skip("no cuda device available")
	}
	d, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDispatchOnDevice(t *testing.T) {
	d := newTestDevice(t)
	s, err := d.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer d.DestroyStream(s)

	for _, threshold := range []int64{solver.DefaultBatchedThreshold, -1} {
		disp := solver.NewDispatcher(d, solver.WithBatchedThreshold(threshold))

		const batch, n = 4, 3
		a := lucheck.Identity[float64](batch, n)
		in, _ := d.Alloc(int64(len(a)) * 8)
		ipiv, _ := d.Alloc(batch * n * 4)
		info, _ := d.Alloc(batch * 4)
		if err := d.CopyToDevice(in, device.HostBytes(a), s); err != nil {
			t.Fatalf("CopyToDevice: %v", err)
		}

		scratch := d.NewScratch(s, 0)
		err := disp.Getrf(s, scratch,
			device.Buffer{Data: in, DType: device.F64, Dims: []int64{batch, n, n}},
			device.Buffer{Data: in, DType: device.F64, Dims: []int64{batch, n, n}},
			device.Buffer{Data: ipiv, DType: device.S32, Dims: []int64{batch, n}},
			device.Buffer{Data: info, DType: device.S32, Dims: []int64{batch}},
		)
		if err != nil {
			t.Fatalf("Getrf: %v", err)
		}
		if err := scratch.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}

		pivots := make([]int32, batch*n)
		if err := d.CopyFromDevice(device.HostBytes(pivots), ipiv, s); err != nil {
			t.Fatalf("CopyFromDevice: %v", err)
		}
		for i, p := range pivots {
			if want := int32(i%n + 1); p != want {
				t.Fatalf("threshold %d: pivot %d = %d, want %d", threshold, i, p, want)
			}
		}
		for _, p := range []device.Ptr{in, ipiv, info} {
			_ = d.Free(p)
		}
		if err := disp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestBatchPointerErrorSurvivesThreadSwitch(t *testing.T) {
	d := newTestDevice(t)
	s, err := d.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer d.DestroyStream(s)

	// A null destination fails the staging copy.
	d.MakeBatchPointersAsync(s, 0x1000, 0, 4, 64)

	// Read the result from a goroutine pinned to a different thread than
	// the one the copy ran on.
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errc <- d.LastError(s)
	}()
	if err := <-errc; err == nil {
		t.Fatalf("LastError = nil, want the failed pointer copy")
	}
	if err := d.LastError(s); err != nil {
		t.Fatalf("second LastError = %v, want cleared", err)
	}
}

func TestLastErrorIsPerStream(t *testing.T) {
	d := newTestDevice(t)
	bad, err := d.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer d.DestroyStream(bad)
	good, err := d.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer d.DestroyStream(good)

	d.MakeBatchPointersAsync(bad, 0x1000, 0, 2, 64)
	if err := d.LastError(good); err != nil {
		t.Fatalf("LastError(good) = %v, want nil", err)
	}
	if err := d.LastError(bad); err == nil {
		t.Fatalf("LastError(bad) = nil, want the failed pointer copy")
	}
}
