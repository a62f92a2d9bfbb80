package solver

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
)

type poolRecorder struct {
	mu        sync.Mutex
	next      int
	bindings  map[int]device.Stream
	destroyed []int
	bindErr   error
	// destroyErr is returned by Destroy after recording the handle.
	destroyErr error
	// onCreate runs after Create hands out a handle, outside r.mu.
	onCreate func()
}

func newPoolRecorder() *poolRecorder {
	return &poolRecorder{next: 1, bindings: make(map[int]device.Stream)}
}

func (r *poolRecorder) ops() HandleOps[int] {
	return HandleOps[int]{
		Kind: "test",
		Create: func() (int, error) {
			r.mu.Lock()
			h := r.next
			r.next++
			hook := r.onCreate
			r.mu.Unlock()
			if hook != nil {
				hook()
			}
			return h, nil
		},
		SetStream: func(h int, s device.Stream) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.bindErr != nil {
				return r.bindErr
			}
			r.bindings[h] = s
			return nil
		},
		Destroy: func(h int) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.destroyed = append(r.destroyed, h)
			return r.destroyErr
		},
	}
}

func TestHandlePoolReusesSameStream(t *testing.T) {
	t.Parallel()

	r := newPoolRecorder()
	p := NewHandlePool(r.ops(), nil)

	l1, err := p.Borrow(3)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	h := l1.Handle()
	l1.Release()
	l1.Release()

	l2, err := p.Borrow(3)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	defer l2.Release()
	if l2.Handle() != h {
		t.Fatalf("second borrow got handle %d, want reused %d", l2.Handle(), h)
	}
	if l2.Stream() != 3 {
		t.Fatalf("lease stream = %d, want 3", l2.Stream())
	}
	if s := p.Stats(); s.Created != 1 || s.Reused != 1 || s.Leased != 1 || s.Idle != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestHandlePoolRebindsIdleHandle(t *testing.T) {
	t.Parallel()

	r := newPoolRecorder()
	p := NewHandlePool(r.ops(), nil)

	l1, err := p.Borrow(1)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	h := l1.Handle()
	l1.Release()

	l2, err := p.Borrow(2)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if l2.Handle() != h {
		t.Fatalf("borrow on new stream created handle %d instead of rebinding %d", l2.Handle(), h)
	}
	if got := r.bindings[h]; got != 2 {
		t.Fatalf("handle bound to stream %d, want 2", got)
	}
	l2.Release()

	// Released handles are now idle under their new stream.
	l3, err := p.Borrow(2)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	l3.Release()
	if s := p.Stats(); s.Rebound != 1 || s.Reused != 1 || s.Created != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestHandlePoolRebindFailureDestroysHandle(t *testing.T) {
	t.Parallel()

	r := newPoolRecorder()
	p := NewHandlePool(r.ops(), nil)

	l, err := p.Borrow(1)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	l.Release()

	r.bindErr = errors.New("invalid resource handle")
	if _, err := p.Borrow(2); CodeOf(err) != CodeUnknown || !errors.Is(err, r.bindErr) {
		t.Fatalf("Borrow error = %s, want unknown wrapping the bind error", errText(err))
	}
	if len(r.destroyed) != 1 {
		t.Fatalf("destroyed = %v, want the handle that failed to rebind", r.destroyed)
	}
	if s := p.Stats(); s.Idle != 0 || s.Leased != 0 || s.Destroyed != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestHandlePoolLogsDestroyFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(r *poolRecorder, p *HandlePool[int])
		wantMsg string
	}{
		{
			name: "bind of new handle fails",
			setup: func(r *poolRecorder, p *HandlePool[int]) {
				r.bindErr = errors.New("invalid resource handle")
			},
			wantMsg: "destroy after failed bind",
		},
		{
			name: "pool closed during create",
			setup: func(r *poolRecorder, p *HandlePool[int]) {
				r.onCreate = func() { _ = p.Close() }
			},
			wantMsg: "destroy after close",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			r := newPoolRecorder()
			r.destroyErr = errors.New("context is destroyed")
			p := NewHandlePool(r.ops(), logger.JSON(&buf, slog.LevelDebug))
			tt.setup(r, p)

			if _, err := p.Borrow(1); CodeOf(err) != CodeUnknown {
				t.Fatalf("Borrow error = %s, want unknown", errText(err))
			}
			if diff := cmp.Diff([]int{1}, r.destroyed); diff != "" {
				t.Fatalf("destroyed mismatch (-want +got):\n%s", diff)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantMsg) || !strings.Contains(out, "context is destroyed") {
				t.Fatalf("log output = %q, want %q with the destroy error", out, tt.wantMsg)
			}
		})
	}
}

func TestHandlePoolClose(t *testing.T) {
	t.Parallel()

	r := newPoolRecorder()
	p := NewHandlePool(r.ops(), nil)

	idle, err := p.Borrow(1)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	held, err := p.Borrow(1)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	idle.Release()

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(r.destroyed) != 1 {
		t.Fatalf("destroyed after Close = %v, want only the idle handle", r.destroyed)
	}
	held.Release()
	if len(r.destroyed) != 2 {
		t.Fatalf("destroyed after release = %v, want both handles", r.destroyed)
	}
	if _, err := p.Borrow(1); !errors.Is(err, ErrUnknown) {
		t.Fatalf("Borrow after Close = %s, want unknown", errText(err))
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestHandlePoolConcurrentBorrowsAreExclusive(t *testing.T) {
	t.Parallel()

	r := newPoolRecorder()
	p := NewHandlePool(r.ops(), nil)

	var mu sync.Mutex
	inUse := make(map[int]bool)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		stream := device.Stream(w % 3)
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				l, err := p.Borrow(stream)
				if err != nil {
					return err
				}
				mu.Lock()
				if inUse[l.Handle()] {
					mu.Unlock()
					return errors.New("handle leased twice")
				}
				inUse[l.Handle()] = true
				mu.Unlock()

				mu.Lock()
				delete(inUse, l.Handle())
				mu.Unlock()
				l.Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if s := p.Stats(); s.Created > 8 || s.Leased != 0 {
		t.Fatalf("stats = %+v, want at most one handle per worker and none leased", s)
	}
}
