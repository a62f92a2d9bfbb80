//go:build cuda

package cuda

import (
	"errors"
	"sync"

	"github.com/samcharles93/batchlu/internal/backend/cuda/native"
	"github.com/samcharles93/batchlu/internal/device"
)

// Scratch allocates from the stream-ordered memory pool, so memory freed by
// Release is only reused after the work issued before it has finished.
type Scratch struct {
	dev    *Device
	stream device.Stream
	limit  int64

	mu   sync.Mutex
	used int64
	ptrs []uintptr
}

func (d *Device) NewScratch(s device.Stream, limit int64) *Scratch {
	return &Scratch{dev: d, stream: s, limit: limit}
}

func (s *Scratch) Allocate(bytes int64) (device.Ptr, bool) {
	if bytes < 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.used+bytes > s.limit {
		return 0, false
	}
	p, err := native.MallocAsync(bytes, native.Stream(s.stream))
	if err != nil {
		s.dev.log.Debug("scratch allocation failed", "bytes", bytes, "error", err)
		return 0, false
	}
	s.used += bytes
	s.ptrs = append(s.ptrs, p)
	return device.Ptr(p), true
}

func (s *Scratch) Release() error {
	s.mu.Lock()
	ptrs := s.ptrs
	s.ptrs = nil
	s.used = 0
	s.mu.Unlock()

	var errs []error
	for _, p := range ptrs {
		if err := native.FreeAsync(p, native.Stream(s.stream)); err != nil {
			errs = append(errs, callError("free async", err))
		}
	}
	return errors.Join(errs...)
}
