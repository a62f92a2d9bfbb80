package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/batchlu/internal/backend"
	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/solver"
)

// MaxRequestElements bounds the matrix elements accepted in one request.
const MaxRequestElements = 1 << 24

type ServiceConfig struct {
	// Streams is the number of device streams requests are spread over.
	Streams int
	// ScratchLimit caps per-request scratch bytes; 0 means no cap.
	ScratchLimit int64
	Logger       logger.Logger
}

// FactorService runs getrf requests on one device. Each request leases a
// stream from a fixed ring, so at most Streams requests touch the device at
// once and the dispatcher's pools never hold more handles than that.
type FactorService struct {
	dev          backend.Device
	dispatcher   *solver.Dispatcher
	scratchLimit int64
	log          logger.Logger

	streams chan device.Stream
	owned   []device.Stream
}

// NewFactorService creates the stream ring. The service does not own dev or
// dispatcher; Close only destroys the streams it created.
func NewFactorService(dev backend.Device, dispatcher *solver.Dispatcher, cfg ServiceConfig) (*FactorService, error) {
	if dev == nil || dispatcher == nil {
		return nil, errors.New("factor service requires a device and a dispatcher")
	}
	n := max(cfg.Streams, 1)
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &FactorService{
		dev:          dev,
		dispatcher:   dispatcher,
		scratchLimit: cfg.ScratchLimit,
		log:          log.With("component", "api"),
		streams:      make(chan device.Stream, n),
	}
	for range n {
		stream, err := dev.NewStream()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
		s.owned = append(s.owned, stream)
		s.streams <- stream
	}
	return s, nil
}

func (s *FactorService) Backend() string {
	return s.dev.Name()
}

func (s *FactorService) Pools() []solver.PoolStats {
	return s.dispatcher.Stats()
}

// Plan resolves the strategy for a dtype name and shape.
func (s *FactorService) Plan(dtype string, dims []int64) (solver.Plan, error) {
	dt, err := parseMatrixDType(dtype)
	if err != nil {
		return solver.Plan{}, err
	}
	return s.dispatcher.Plan(dt, dims)
}

// Threshold is the dispatcher's rows/batch bound.
func (s *FactorService) Threshold() int64 {
	return s.dispatcher.Threshold()
}

// FactorResult is the host copy of one completed dispatch.
type FactorResult struct {
	Plan        solver.Plan
	Factors     []float64
	FactorsImag []float64
	Pivots      []int32
	Info        []int32
}

// Factor uploads the request, factors it in place and reads the results
// back. It blocks until the device has finished.
func (s *FactorService) Factor(ctx context.Context, req GetrfRequest) (*FactorResult, error) {
	plan, err := s.Plan(req.DType, req.Dims)
	if err != nil {
		return nil, err
	}
	// Rows and cols fit in int32, so their product cannot wrap; the batch
	// is bounded before it multiplies anything.
	perMatrix := plan.Rows * plan.Cols
	if plan.Batch > MaxRequestElements || perMatrix > MaxRequestElements/max(plan.Batch, 1) {
		return nil, newInvalidRequest("dims", fmt.Sprintf("dims %v exceed the limit of %d elements per request", req.Dims, MaxRequestElements))
	}
	elems := plan.Batch * perMatrix
	if int64(len(req.Data)) != elems {
		return nil, newInvalidRequest("data", fmt.Sprintf("data has %d values, dims %v need %d", len(req.Data), req.Dims, elems))
	}
	if req.DataImag != nil {
		if !plan.DType.IsComplex() {
			return nil, newInvalidRequest("data_imag", fmt.Sprintf("data_imag is only valid for complex dtypes, got %s", plan.DType))
		}
		if int64(len(req.DataImag)) != elems {
			return nil, newInvalidRequest("data_imag", fmt.Sprintf("data_imag has %d values, want %d", len(req.DataImag), elems))
		}
	}
	host := packHost(plan.DType, req.Data, req.DataImag)

	var stream device.Stream
	select {
	case stream = <-s.streams:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { s.streams <- stream }()

	pivots := plan.Batch * plan.PivotsPerMatrix()
	res := &FactorResult{
		Plan:   plan,
		Pivots: make([]int32, pivots),
		Info:   make([]int32, plan.Batch),
	}
	if plan.Batch == 0 {
		return res, nil
	}

	bufs, err := s.allocate(int64(len(host)), pivots*4, plan.Batch*4)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range bufs {
			if ferr := s.dev.Free(p); ferr != nil {
				s.log.Warn("device free failed", "error", ferr)
			}
		}
	}()
	a := device.Buffer{Data: bufs[0], DType: plan.DType, Dims: req.Dims}
	ipiv := device.Buffer{Data: bufs[1], DType: device.S32, Dims: []int64{pivots}}
	info := device.Buffer{Data: bufs[2], DType: device.S32, Dims: []int64{plan.Batch}}

	if err := s.dev.CopyToDevice(a.Data, host, stream); err != nil {
		return nil, fmt.Errorf("upload matrices: %w", err)
	}

	scratch := s.dev.NewScratch(stream, s.scratchLimit)
	dispatchErr := s.dispatcher.Getrf(stream, scratch, a, a, ipiv, info)
	// Scratch and buffers stay live until the stream drains, so
	// synchronize even when issue stopped early.
	syncErr := s.dev.Synchronize(stream)
	if err := scratch.Release(); err != nil {
		s.log.Warn("scratch release failed", "error", err)
	}
	if dispatchErr != nil {
		return nil, dispatchErr
	}
	if syncErr != nil {
		return nil, fmt.Errorf("getrf execution: %w", syncErr)
	}

	if err := s.dev.CopyFromDevice(host, a.Data, stream); err != nil {
		return nil, fmt.Errorf("download factors: %w", err)
	}
	if err := s.dev.CopyFromDevice(device.HostBytes(res.Pivots), ipiv.Data, stream); err != nil {
		return nil, fmt.Errorf("download pivots: %w", err)
	}
	if err := s.dev.CopyFromDevice(device.HostBytes(res.Info), info.Data, stream); err != nil {
		return nil, fmt.Errorf("download info: %w", err)
	}
	res.Factors, res.FactorsImag = unpackHost(plan.DType, host)

	s.log.Debug("getrf complete",
		"strategy", plan.Strategy.String(),
		"dtype", plan.DType.String(),
		"batch", plan.Batch,
		"stream", uint64(stream),
	)
	return res, nil
}

func (s *FactorService) allocate(sizes ...int64) ([]device.Ptr, error) {
	ptrs := make([]device.Ptr, 0, len(sizes))
	for _, n := range sizes {
		p, err := s.dev.Alloc(n)
		if err != nil {
			for _, q := range ptrs {
				_ = s.dev.Free(q)
			}
			return nil, fmt.Errorf("device alloc %d bytes: %w", n, err)
		}
		ptrs = append(ptrs, p)
	}
	return ptrs, nil
}

// Close waits for in-flight requests to return their streams, then
// destroys them.
func (s *FactorService) Close() error {
	var errs []error
	for range s.owned {
		stream := <-s.streams
		errs = append(errs, s.dev.DestroyStream(stream))
	}
	s.owned = nil
	return errors.Join(errs...)
}

func parseMatrixDType(name string) (device.DType, error) {
	dt, err := device.ParseDType(name)
	if err != nil {
		return device.Invalid, newInvalidRequest("dtype", err.Error())
	}
	return dt, nil
}

// packHost converts request values to the device element layout. Complex
// types interleave (re, im).
func packHost(dt device.DType, re, im []float64) []byte {
	imAt := func(i int) float64 {
		if im == nil {
			return 0
		}
		return im[i]
	}
	switch dt {
	case device.F32:
		out := make([]float32, len(re))
		for i, v := range re {
			out[i] = float32(v)
		}
		return device.HostBytes(out)
	case device.F64:
		out := make([]float64, len(re))
		copy(out, re)
		return device.HostBytes(out)
	case device.C64:
		out := make([]complex64, len(re))
		for i, v := range re {
			out[i] = complex(float32(v), float32(imAt(i)))
		}
		return device.HostBytes(out)
	case device.C128:
		out := make([]complex128, len(re))
		for i, v := range re {
			out[i] = complex(v, imAt(i))
		}
		return device.HostBytes(out)
	default:
		return nil
	}
}

func unpackHost(dt device.DType, b []byte) (re, im []float64) {
	switch dt {
	case device.F32:
		src := device.HostView[float32](b)
		re = make([]float64, len(src))
		for i, v := range src {
			re[i] = float64(v)
		}
	case device.F64:
		re = append([]float64(nil), device.HostView[float64](b)...)
	case device.C64:
		src := device.HostView[complex64](b)
		re, im = make([]float64, len(src)), make([]float64, len(src))
		for i, v := range src {
			re[i], im[i] = float64(real(v)), float64(imag(v))
		}
	case device.C128:
		src := device.HostView[complex128](b)
		re, im = make([]float64, len(src)), make([]float64, len(src))
		for i, v := range src {
			re[i], im[i] = real(v), imag(v)
		}
	}
	return re, im
}
