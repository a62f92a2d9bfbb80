package sim

import (
	"errors"
	"sync"

	"github.com/samcharles93/batchlu/internal/device"
)

// Arena is a per-dispatch scratch allocator. Memory handed out stays valid
// until the work issued on its stream before Release has run.
type Arena struct {
	dev    *Device
	stream device.Stream
	limit  int64

	mu    sync.Mutex
	used  int64
	ptrs  []device.Ptr
	sizes []int64
}

// NewArena creates a scratch arena for work issued on s. A positive limit
// caps the total bytes the arena will hand out.
func (d *Device) NewArena(s device.Stream, limit int64) *Arena {
	return &Arena{dev: d, stream: s, limit: limit}
}

// Allocate returns bytes of device memory, or false when the arena limit
// or device memory is exhausted.
func (a *Arena) Allocate(bytes int64) (device.Ptr, bool) {
	if bytes < 0 {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.used+bytes > a.limit {
		return 0, false
	}
	p, err := a.dev.Alloc(bytes)
	if err != nil {
		a.dev.log.Debug("scratch allocation failed", "bytes", bytes, "error", err)
		return 0, false
	}
	a.used += bytes
	a.ptrs = append(a.ptrs, p)
	a.sizes = append(a.sizes, bytes)
	return p, true
}

// Sizes returns the size of every allocation made so far.
func (a *Arena) Sizes() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.sizes...)
}

// Release frees every allocation in stream order and resets the arena.
func (a *Arena) Release() error {
	a.mu.Lock()
	ptrs := a.ptrs
	a.ptrs = nil
	a.sizes = nil
	a.used = 0
	a.mu.Unlock()

	var errs []error
	for _, p := range ptrs {
		if err := a.dev.FreeAsync(p, a.stream); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
