package sim

import (
	"errors"
	"os"
	"testing"

	"github.com/samcharles93/batchlu/internal/device"
)

func TestMemoryInteriorLookup(t *testing.T) {
	t.Parallel()

	m := newMemory(0)
	defer m.releaseAll()

	p, err := m.alloc(100)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b, err := m.bytes(p.Add(40), 60)
	if err != nil {
		t.Fatalf("bytes interior: %v", err)
	}
	b[0] = 7
	whole, err := m.bytes(p, 100)
	if err != nil {
		t.Fatalf("bytes whole: %v", err)
	}
	if whole[40] != 7 {
		t.Fatalf("interior write not visible through base address")
	}
	if _, err := m.bytes(p.Add(40), 61); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("out of range read error = %v, want invalid address", err)
	}
	if _, err := m.bytes(p.Add(-1), 1); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("read before allocation error = %v, want invalid address", err)
	}
	if _, err := m.bytes(p.Add(100), 0); err != nil {
		t.Fatalf("empty range at end: %v", err)
	}
}

func TestMemoryFreeAndLimit(t *testing.T) {
	t.Parallel()

	page := int64(os.Getpagesize())
	m := newMemory(2 * page)
	defer m.releaseAll()

	p, err := m.alloc(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if got := m.used(); got != page {
		t.Fatalf("used = %d, want one page (%d)", got, page)
	}
	if _, err := m.alloc(2 * page); err == nil {
		t.Fatalf("alloc past the limit succeeded")
	}
	if err := m.free(p.Add(1)); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("free of interior address error = %v, want invalid address", err)
	}
	if err := m.free(p); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := m.free(p); !errors.Is(err, errInvalidAddress) {
		t.Fatalf("double free error = %v, want invalid address", err)
	}
	if got := m.used(); got != 0 {
		t.Fatalf("used after free = %d, want 0", got)
	}
	if _, err := m.bytes(p, 1); err == nil {
		t.Fatalf("read after free succeeded")
	}
}

func TestMemoryZeroSizedAllocation(t *testing.T) {
	t.Parallel()

	m := newMemory(0)
	defer m.releaseAll()

	p, err := m.alloc(0)
	if err != nil {
		t.Fatalf("alloc(0): %v", err)
	}
	if p == device.Ptr(0) {
		t.Fatalf("zero-sized allocation returned a null address")
	}
	if _, err := m.bytes(p, 1); err == nil {
		t.Fatalf("read past a zero-sized allocation succeeded")
	}
	if err := m.free(p); err != nil {
		t.Fatalf("free: %v", err)
	}
}
