package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/batchlu/internal/backend"
	"github.com/samcharles93/batchlu/internal/device"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/lucheck"
	"github.com/samcharles93/batchlu/internal/solver"
)

const (
	matrixRandom   = "random"
	matrixIdentity = "identity"
	matrixSingular = "singular"
)

type runOptions struct {
	DType      device.DType
	Batch      int
	N          int
	Streams    int
	Iterations int
	Matrix     string
	Seed       uint64
	Verify     bool
}

type streamReport struct {
	Stream      int     `json:"stream"`
	Dispatches  int     `json:"dispatches"`
	Singular    int     `json:"singular"`
	MaxResidual float64 `json:"max_residual"`
	ElapsedMS   float64 `json:"elapsed_ms"`
}

type runReport struct {
	ID          string             `json:"id"`
	Backend     string             `json:"backend"`
	DType       string             `json:"dtype"`
	Matrix      string             `json:"matrix"`
	Batch       int                `json:"batch"`
	N           int                `json:"n"`
	Streams     int                `json:"streams"`
	Iterations  int                `json:"iterations"`
	Strategy    string             `json:"strategy"`
	Threshold   int64              `json:"threshold"`
	Verified    bool               `json:"verified"`
	Tolerance   float64            `json:"tolerance"`
	MaxResidual float64            `json:"max_residual"`
	Singular    int                `json:"singular"`
	ElapsedMS   float64            `json:"elapsed_ms"`
	PerStream   []streamReport     `json:"per_stream"`
	Pools       []solver.PoolStats `json:"pools"`
}

func runCmd() *cli.Command {
	var (
		dtype      string
		batch      int64
		n          int64
		streams    int64
		iterations int64
		matrix     string
		seed       int64
		noVerify   bool
		jsonOut    bool
		out        string
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Factor generated batches on several streams and verify the results",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type (f32, f64, c64, c128)",
				Value:       "f32",
				Destination: &dtype,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "matrices per dispatch",
				Value:       64,
				Destination: &batch,
			},
			&cli.Int64Flag{
				Name:        "n",
				Usage:       "matrix order",
				Value:       16,
				Destination: &n,
			},
			&cli.Int64Flag{
				Name:        "streams",
				Aliases:     []string{"s"},
				Usage:       "concurrent streams",
				Value:       4,
				Destination: &streams,
			},
			&cli.Int64Flag{
				Name:        "iterations",
				Aliases:     []string{"i"},
				Usage:       "dispatches per stream",
				Value:       1,
				Destination: &iterations,
			},
			&cli.StringFlag{
				Name:        "matrix",
				Usage:       "input kind (random, identity, singular)",
				Value:       matrixRandom,
				Destination: &matrix,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed (-1 picks one)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "no-verify",
				Usage:       "skip the host-side residual check",
				Destination: &noVerify,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print a JSON report instead of a summary",
				Destination: &jsonOut,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the JSON report to this path (- for stdout)",
				Destination: &out,
			},
		}, deviceFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadCommandConfig(cmd)
			if err != nil {
				return err
			}
			applyStreamsConfig(cmd, cfg, &streams)
			ctx, log := commandLogger(ctx)

			dt, err := device.ParseDType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if seed < 0 {
				seed = int64(rand.Uint32())
			}
			opts := runOptions{
				DType:      dt,
				Batch:      int(batch),
				N:          int(n),
				Streams:    int(streams),
				Iterations: int(iterations),
				Matrix:     strings.ToLower(strings.TrimSpace(matrix)),
				Seed:       uint64(seed),
				Verify:     !noVerify,
			}
			if err := opts.validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			dev, dispatcher, err := openDevice(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open backend: %v", err), 1)
			}
			defer func() {
				if err := dispatcher.Close(); err != nil {
					log.Warn("dispatcher close failed", "error", err)
				}
				if err := dev.Close(); err != nil {
					log.Warn("device close failed", "error", err)
				}
			}()

			log.Info("starting run",
				"backend", dev.Name(),
				"dtype", dt.String(),
				"batch", opts.Batch,
				"n", opts.N,
				"streams", opts.Streams,
				"seed", opts.Seed,
			)
			report, runErr := runBatches(ctx, dev, dispatcher, opts)
			if report == nil {
				return cli.Exit(fmt.Sprintf("error: run: %v", runErr), 1)
			}

			if jsonOut || out != "" {
				if err := writeReport(report, out); err != nil {
					return cli.Exit(fmt.Sprintf("error: write report: %v", err), 1)
				}
			} else {
				printSummary(os.Stdout, report)
			}
			if runErr != nil {
				return cli.Exit(fmt.Sprintf("error: run %s: %v", report.ID, runErr), 1)
			}
			return nil
		},
	}
}

func (o runOptions) validate() error {
	switch {
	case o.DType == device.S32 || o.DType == device.Invalid:
		return fmt.Errorf("getrf does not support %s", o.DType)
	case o.Batch < 0:
		return fmt.Errorf("--batch must be >= 0")
	case o.N < 1:
		return fmt.Errorf("--n must be >= 1")
	case o.Streams < 1:
		return fmt.Errorf("--streams must be >= 1")
	case o.Iterations < 1:
		return fmt.Errorf("--iterations must be >= 1")
	}
	switch o.Matrix {
	case matrixRandom, matrixIdentity, matrixSingular:
		return nil
	default:
		return fmt.Errorf("unknown matrix kind %q (expected random, identity, or singular)", o.Matrix)
	}
}

// runBatches factors opts.Iterations batches on each of opts.Streams
// streams concurrently. It returns a report even when verification fails,
// together with the error; a nil report means nothing ran.
func runBatches(ctx context.Context, dev backend.Device, d *solver.Dispatcher, opts runOptions) (*runReport, error) {
	dims := []int64{int64(opts.Batch), int64(opts.N), int64(opts.N)}
	plan, err := d.Plan(opts.DType, dims)
	if err != nil {
		return nil, err
	}
	report := &runReport{
		ID:         "run_" + uuid.NewString(),
		Backend:    dev.Name(),
		DType:      opts.DType.String(),
		Matrix:     opts.Matrix,
		Batch:      opts.Batch,
		N:          opts.N,
		Streams:    opts.Streams,
		Iterations: opts.Iterations,
		Strategy:   plan.Strategy.String(),
		Threshold:  d.Threshold(),
		Verified:   opts.Verify,
		Tolerance:  lucheck.Tolerance(opts.DType),
		PerStream:  make([]streamReport, opts.Streams),
	}

	start := time.Now()
	switch opts.DType {
	case device.F32:
		err = runTyped[float32](ctx, dev, d, opts, report)
	case device.F64:
		err = runTyped[float64](ctx, dev, d, opts, report)
	case device.C64:
		err = runTyped[complex64](ctx, dev, d, opts, report)
	case device.C128:
		err = runTyped[complex128](ctx, dev, d, opts, report)
	}
	report.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
	report.Pools = d.Stats()

	for _, s := range report.PerStream {
		report.Singular += s.Singular
		report.MaxResidual = max(report.MaxResidual, s.MaxResidual)
	}
	if err != nil {
		return report, err
	}
	if opts.Verify && report.MaxResidual > report.Tolerance {
		return report, fmt.Errorf("residual %.3g exceeds tolerance %.3g", report.MaxResidual, report.Tolerance)
	}
	return report, nil
}

func runTyped[T lucheck.Scalar](ctx context.Context, dev backend.Device, d *solver.Dispatcher, opts runOptions, report *runReport) error {
	log := logger.FromContext(ctx)
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i := range opts.Streams {
		g.Go(func() error {
			sr, err := runStream[T](ctx, dev, d, opts, i)
			mu.Lock()
			report.PerStream[i] = sr
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("stream %d: %w", i, err)
			}
			log.Debug("stream finished", "stream", i, "dispatches", sr.Dispatches, "max_residual", sr.MaxResidual)
			return nil
		})
	}
	return g.Wait()
}

// runStream owns one device stream and the buffers for its dispatches.
func runStream[T lucheck.Scalar](ctx context.Context, dev backend.Device, d *solver.Dispatcher, opts runOptions, index int) (sr streamReport, err error) {
	sr.Stream = index
	started := time.Now()
	defer func() { sr.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000 }()

	stream, err := dev.NewStream()
	if err != nil {
		return sr, err
	}
	defer func() {
		if derr := dev.DestroyStream(stream); derr != nil && err == nil {
			err = derr
		}
	}()

	batch, n := opts.Batch, opts.N
	elem := opts.DType.Size()
	aBytes := int64(batch*n*n) * elem
	ptrs := make([]device.Ptr, 0, 3)
	defer func() {
		for _, p := range ptrs {
			if ferr := dev.Free(p); ferr != nil && err == nil {
				err = ferr
			}
		}
	}()
	for _, size := range []int64{aBytes, int64(batch*n) * 4, int64(batch) * 4} {
		p, aerr := dev.Alloc(size)
		if aerr != nil {
			return sr, aerr
		}
		ptrs = append(ptrs, p)
	}
	dims := []int64{int64(batch), int64(n), int64(n)}
	a := device.Buffer{Data: ptrs[0], DType: opts.DType, Dims: dims}
	ipiv := device.Buffer{Data: ptrs[1], DType: device.S32, Dims: []int64{int64(batch * n)}}
	info := device.Buffer{Data: ptrs[2], DType: device.S32, Dims: []int64{int64(batch)}}

	rng := rand.New(rand.NewPCG(opts.Seed, uint64(index)))
	factors := make([]T, batch*n*n)
	pivots := make([]int32, batch*n)
	codes := make([]int32, batch)

	for range opts.Iterations {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		host := generate[T](opts.Matrix, batch, n, rng)
		if err := dev.CopyToDevice(a.Data, device.HostBytes(host), stream); err != nil {
			return sr, err
		}
		scratch := dev.NewScratch(stream, scratchLimit)
		dispatchErr := d.Getrf(stream, scratch, a, a, ipiv, info)
		syncErr := dev.Synchronize(stream)
		if rerr := scratch.Release(); rerr != nil && dispatchErr == nil {
			dispatchErr = rerr
		}
		if dispatchErr != nil {
			return sr, dispatchErr
		}
		if syncErr != nil {
			return sr, syncErr
		}
		sr.Dispatches++

		if err := dev.CopyFromDevice(device.HostBytes(factors), a.Data, stream); err != nil {
			return sr, err
		}
		if err := dev.CopyFromDevice(device.HostBytes(pivots), ipiv.Data, stream); err != nil {
			return sr, err
		}
		if err := dev.CopyFromDevice(device.HostBytes(codes), info.Data, stream); err != nil {
			return sr, err
		}
		for b, code := range codes {
			if code < 0 {
				return sr, fmt.Errorf("matrix %d: illegal argument %d", b, -code)
			}
			if code > 0 {
				sr.Singular++
			}
			if !opts.Verify {
				continue
			}
			lo, hi := b*n*n, (b+1)*n*n
			res := lucheck.Residual(n, n, host[lo:hi], factors[lo:hi], pivots[b*n:(b+1)*n])
			sr.MaxResidual = max(sr.MaxResidual, res)
		}
	}
	return sr, nil
}

// generate returns batch stacked column-major n-by-n inputs. Singular runs
// zero one random row of every other matrix.
func generate[T lucheck.Scalar](kind string, batch, n int, rng *rand.Rand) []T {
	switch kind {
	case matrixIdentity:
		return lucheck.Identity[T](batch, n)
	case matrixSingular:
		out := lucheck.Random[T](batch, n, rng)
		for b := 1; b < batch; b += 2 {
			copy(out[b*n*n:(b+1)*n*n], lucheck.ZeroRow[T](n, rng.IntN(n), rng))
		}
		return out
	default:
		return lucheck.Random[T](batch, n, rng)
	}
}

func writeReport(report *runReport, out string) error {
	path, err := resolveReportOut(out, report.ID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stderr, "run: report written to %s\n", path)
	return nil
}

func printSummary(w io.Writer, r *runReport) {
	_, _ = fmt.Fprintf(w, "run:        %s\n", r.ID)
	_, _ = fmt.Fprintf(w, "backend:    %s\n", r.Backend)
	_, _ = fmt.Fprintf(w, "input:      %d x %dx%d %s (%s)\n", r.Batch, r.N, r.N, r.DType, r.Matrix)
	_, _ = fmt.Fprintf(w, "strategy:   %s (threshold %d)\n", r.Strategy, r.Threshold)
	_, _ = fmt.Fprintf(w, "streams:    %d x %d dispatches\n", r.Streams, r.Iterations)
	_, _ = fmt.Fprintf(w, "singular:   %d\n", r.Singular)
	if r.Verified {
		_, _ = fmt.Fprintf(w, "residual:   %.3g (tolerance %.3g)\n", r.MaxResidual, r.Tolerance)
	}
	_, _ = fmt.Fprintf(w, "elapsed:    %.3f ms\n", r.ElapsedMS)
	for _, p := range r.Pools {
		_, _ = fmt.Fprintf(w, "pool %-6s created=%d reused=%d rebound=%d idle=%d\n", p.Kind+":", p.Created, p.Reused, p.Rebound, p.Idle)
	}
}
