package solver

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
)

// HandleOps are the backend operations a HandlePool needs for one kind of
// compute context.
type HandleOps[H comparable] struct {
	Kind      string
	Create    func() (H, error)
	SetStream func(h H, stream device.Stream) error
	Destroy   func(h H) error
}

// PoolStats is a snapshot of a pool's bookkeeping.
type PoolStats struct {
	Kind      string `json:"kind" yaml:"kind"`
	Idle      int    `json:"idle" yaml:"idle"`
	Leased    int    `json:"leased" yaml:"leased"`
	Created   uint64 `json:"created" yaml:"created"`
	Reused    uint64 `json:"reused" yaml:"reused"`
	Rebound   uint64 `json:"rebound" yaml:"rebound"`
	Destroyed uint64 `json:"destroyed" yaml:"destroyed"`
}

// HandlePool leases compute handles keyed by the stream they are bound to.
// Handles are created lazily on a miss and returned to the pool on
// release; they are only destroyed by Close or when rebinding fails.
type HandlePool[H comparable] struct {
	ops HandleOps[H]
	log logger.Logger

	mu     sync.Mutex
	idle   map[device.Stream][]H
	bound  map[H]device.Stream
	closed bool
	stats  PoolStats
}

// NewHandlePool creates an empty pool.
func NewHandlePool[H comparable](ops HandleOps[H], log logger.Logger) *HandlePool[H] {
	if log == nil {
		log = logger.Discard()
	}
	return &HandlePool[H]{
		ops:   ops,
		log:   log.With("pool", ops.Kind),
		idle:  make(map[device.Stream][]H),
		bound: make(map[H]device.Stream),
		stats: PoolStats{Kind: ops.Kind},
	}
}

// Borrow returns a handle bound to stream. An idle handle already bound to
// stream is preferred; otherwise any idle handle is rebound, and only when
// the pool is empty is a new handle created. Failures are not retried.
func (p *HandlePool[H]) Borrow(stream device.Stream) (*Lease[H], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, unknown(nil, "%s handle pool is closed", p.ops.Kind)
	}
	if h, ok := p.takeIdle(stream); ok {
		p.stats.Leased++
		p.stats.Reused++
		p.mu.Unlock()
		return &Lease[H]{pool: p, h: h, stream: stream}, nil
	}
	h, ok := p.takeAnyIdle()
	if ok {
		p.stats.Leased++
	}
	p.mu.Unlock()

	if ok {
		if err := p.ops.SetStream(h, stream); err != nil {
			destroyErr := p.ops.Destroy(h)
			p.mu.Lock()
			p.stats.Leased--
			p.stats.Destroyed++
			delete(p.bound, h)
			p.mu.Unlock()
			if destroyErr != nil {
				p.log.Warn("destroy after failed rebind", "error", destroyErr)
			}
			return nil, unknown(err, "unable to bind %s handle to stream", p.ops.Kind)
		}
		p.mu.Lock()
		p.bound[h] = stream
		p.stats.Rebound++
		p.mu.Unlock()
		return &Lease[H]{pool: p, h: h, stream: stream}, nil
	}

	h, err := p.ops.Create()
	if err != nil {
		return nil, unknown(err, "unable to create %s handle", p.ops.Kind)
	}
	if err := p.ops.SetStream(h, stream); err != nil {
		if destroyErr := p.ops.Destroy(h); destroyErr != nil {
			p.log.Warn("destroy after failed bind", "error", destroyErr)
		}
		return nil, unknown(err, "unable to bind %s handle to stream", p.ops.Kind)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if destroyErr := p.ops.Destroy(h); destroyErr != nil {
			p.log.Warn("destroy after close", "error", destroyErr)
		}
		return nil, unknown(nil, "%s handle pool is closed", p.ops.Kind)
	}
	p.bound[h] = stream
	p.stats.Created++
	p.stats.Leased++
	p.mu.Unlock()
	p.log.Debug("created handle", "stream", uintptr(stream))
	return &Lease[H]{pool: p, h: h, stream: stream}, nil
}

// takeIdle pops an idle handle bound to stream. Caller holds p.mu.
func (p *HandlePool[H]) takeIdle(stream device.Stream) (H, bool) {
	hs := p.idle[stream]
	if len(hs) == 0 {
		var zero H
		return zero, false
	}
	h := hs[len(hs)-1]
	if len(hs) == 1 {
		delete(p.idle, stream)
	} else {
		p.idle[stream] = hs[:len(hs)-1]
	}
	p.stats.Idle--
	return h, true
}

// takeAnyIdle pops an idle handle bound to any stream. Caller holds p.mu.
func (p *HandlePool[H]) takeAnyIdle() (H, bool) {
	for s := range p.idle {
		return p.takeIdle(s)
	}
	var zero H
	return zero, false
}

func (p *HandlePool[H]) release(h H) {
	p.mu.Lock()
	p.stats.Leased--
	if p.closed {
		delete(p.bound, h)
		p.stats.Destroyed++
		p.mu.Unlock()
		if err := p.ops.Destroy(h); err != nil {
			p.log.Warn("destroy released handle", "error", err)
		}
		return
	}
	s := p.bound[h]
	p.idle[s] = append(p.idle[s], h)
	p.stats.Idle++
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *HandlePool[H]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close destroys every idle handle and rejects further borrows. Handles
// still leased are destroyed when their lease is released.
func (p *HandlePool[H]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var idle []H
	for s, hs := range p.idle {
		idle = append(idle, hs...)
		delete(p.idle, s)
	}
	for _, h := range idle {
		delete(p.bound, h)
	}
	p.stats.Idle = 0
	p.stats.Destroyed += uint64(len(idle))
	p.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if err := p.ops.Destroy(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lease is a checked-out handle. Release returns it to the pool and is safe
// to call more than once, so `defer lease.Release()` covers every exit path.
type Lease[H comparable] struct {
	pool     *HandlePool[H]
	h        H
	stream   device.Stream
	released atomic.Bool
}

// Handle returns the leased handle.
func (l *Lease[H]) Handle() H {
	return l.h
}

// Stream returns the stream the handle is bound to.
func (l *Lease[H]) Stream() device.Stream {
	return l.stream
}

// Release returns the handle to its pool.
func (l *Lease[H]) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.pool.release(l.h)
	}
}
