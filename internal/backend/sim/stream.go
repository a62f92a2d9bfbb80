package sim

import (
	"errors"
	"sync"

	"github.com/samcharles93/batchlu/internal/device"
)

var errStreamDestroyed = errors.New("stream destroyed")

// queueDepth bounds how far the host can run ahead of a stream.
const queueDepth = 1024

// stream executes queued operations in issue order on its own goroutine.
type stream struct {
	id    device.Stream
	queue chan func() error
	done  chan struct{}

	sendMu sync.RWMutex
	closed bool

	errMu     sync.Mutex
	fault     error
	launchErr error
}

func newStream(id device.Stream) *stream {
	s := &stream{
		id:    id,
		queue: make(chan func() error, queueDepth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stream) run() {
	defer close(s.done)
	for op := range s.queue {
		if err := op(); err != nil {
			s.errMu.Lock()
			if s.fault == nil {
				s.fault = err
			}
			s.errMu.Unlock()
		}
	}
}

func (s *stream) enqueue(op func() error) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return errStreamDestroyed
	}
	s.queue <- op
	return nil
}

// wait blocks until every operation issued before it has run, then
// returns and clears the first execution fault.
func (s *stream) wait() error {
	marker := make(chan struct{})
	if err := s.enqueue(func() error {
		close(marker)
		return nil
	}); err != nil {
		return err
	}
	<-marker
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.fault
	s.fault = nil
	return err
}

// call runs op in stream order and waits for it alone.
func (s *stream) call(op func() error) error {
	result := make(chan error, 1)
	if err := s.enqueue(func() error {
		result <- op()
		return nil
	}); err != nil {
		return err
	}
	return <-result
}

func (s *stream) setLaunchError(err error) {
	s.errMu.Lock()
	s.launchErr = err
	s.errMu.Unlock()
}

func (s *stream) takeLaunchError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.launchErr
	s.launchErr = nil
	return err
}

// destroy drains pending work and stops the worker.
func (s *stream) destroy() {
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.sendMu.Unlock()
	<-s.done
}
