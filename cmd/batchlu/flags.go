package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/batchlu/internal/backend"
	"github.com/samcharles93/batchlu/internal/logger"
	"github.com/samcharles93/batchlu/internal/solver"
)

var (
	backendName      string
	batchedThreshold int64
	scratchLimit     int64
	memoryLimit      int64
	logLevel         string
	logFormat        string
	debug            bool
)

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, sim, cuda)",
			Value:       backend.Auto,
			Sources:     cli.EnvVars(envBatchluBackend),
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "batched-threshold",
			Usage:       "largest rows/batch ratio routed to the batched kernel",
			Value:       solver.DefaultBatchedThreshold,
			Destination: &batchedThreshold,
		},
		&cli.Int64Flag{
			Name:        "scratch-limit",
			Usage:       "per-dispatch scratch cap in bytes (0 = unlimited)",
			Destination: &scratchLimit,
		},
		&cli.Int64Flag{
			Name:        "memory-limit",
			Usage:       "simulated device memory in bytes (0 = unlimited)",
			Destination: &memoryLimit,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// commandLogger builds the logger for a command once flags and config have
// been merged, and stores it on the returned context.
func commandLogger(ctx context.Context) (context.Context, logger.Logger) {
	level := logLevel
	if debug {
		level = "debug"
	}
	log := logger.Setup(level, logFormat, os.Stderr)
	return logger.WithContext(ctx, log), log
}

// openDevice opens the configured backend and a dispatcher on it.
func openDevice(log logger.Logger) (backend.Device, *solver.Dispatcher, error) {
	dev, err := backend.Open(backendName, backend.Options{
		MemoryLimit: memoryLimit,
		Logger:      log,
	})
	if err != nil {
		return nil, nil, err
	}
	dispatcher := solver.NewDispatcher(dev,
		solver.WithBatchedThreshold(batchedThreshold),
		solver.WithLogger(log),
	)
	return dev, dispatcher, nil
}
