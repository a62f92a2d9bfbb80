package sim

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/emirpasic/gods/v2/maps/treemap"

	"github.com/samcharles93/batchlu/internal/device"
)

var errInvalidAddress = errors.New("invalid device address")

type region struct {
	base    uintptr
	size    int64
	data    []byte
	mapping []byte
}

// memory is the simulated device address space. Allocations are whole
// pages obtained outside the Go heap where the platform allows it, so an
// address stays fixed for the lifetime of the allocation. Lookups resolve
// any interior address to its region by floor search on the base address.
type memory struct {
	mu      sync.RWMutex
	regions *treemap.Map[uintptr, *region]
	inUse   int64
	limit   int64
}

func newMemory(limit int64) *memory {
	return &memory{
		regions: treemap.New[uintptr, *region](),
		limit:   limit,
	}
}

func (m *memory) alloc(size int64) (device.Ptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("negative allocation size %d", size)
	}
	page := int64(os.Getpagesize())
	mapped := max(page, (size+page-1)/page*page)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.inUse+mapped > m.limit {
		return 0, fmt.Errorf("out of device memory: %d bytes in use, %d requested, limit %d", m.inUse, mapped, m.limit)
	}
	data, err := mapPages(int(mapped))
	if err != nil {
		return 0, fmt.Errorf("map %d bytes: %w", mapped, err)
	}
	r := &region{
		base:    uintptr(unsafe.Pointer(&data[0])),
		size:    size,
		data:    data[:size:size],
		mapping: data,
	}
	m.regions.Put(r.base, r)
	m.inUse += mapped
	return device.Ptr(r.base), nil
}

func (m *memory) free(p device.Ptr) error {
	m.mu.Lock()
	r, ok := m.regions.Get(uintptr(p))
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("free %#x: %w", uintptr(p), errInvalidAddress)
	}
	m.regions.Remove(r.base)
	m.inUse -= int64(len(r.mapping))
	m.mu.Unlock()
	return unmapPages(r.mapping)
}

// bytes returns the n bytes starting at p. The range must lie inside one
// live allocation.
func (m *memory) bytes(p device.Ptr, n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	m.mu.RLock()
	base, r, ok := m.regions.Floor(uintptr(p))
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("address %#x: %w", uintptr(p), errInvalidAddress)
	}
	off := int64(uintptr(p) - base)
	if off+n > r.size {
		return nil, fmt.Errorf("range [%#x, +%d) exceeds allocation of %d bytes at %#x: %w", uintptr(p), n, r.size, base, errInvalidAddress)
	}
	return r.data[off : off+n], nil
}

func (m *memory) releaseAll() error {
	m.mu.Lock()
	regions := m.regions.Values()
	m.regions.Clear()
	m.inUse = 0
	m.mu.Unlock()

	var errs []error
	for _, r := range regions {
		if err := unmapPages(r.mapping); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *memory) used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inUse
}
