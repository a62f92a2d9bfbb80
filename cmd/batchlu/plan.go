package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/batchlu/internal/device"
)

func planCmd() *cli.Command {
	var dtype string

	return &cli.Command{
		Name:      "plan",
		Usage:     "Show the strategy getrf would use for a shape",
		ArgsUsage: "<dims, e.g. 64x16x16>",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type (f32, f64, c64, c128)",
				Value:       "f32",
				Destination: &dtype,
			},
		}, deviceFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := loadCommandConfig(cmd); err != nil {
				return err
			}
			if cmd.Args().Len() != 1 {
				return cli.Exit("error: plan takes exactly one shape argument", 1)
			}
			dims, err := parseShape(cmd.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dt, err := device.ParseDType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			_, log := commandLogger(ctx)
			dev, d, err := openDevice(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open backend: %v", err), 1)
			}
			defer func() {
				_ = d.Close()
				_ = dev.Close()
			}()
			log.Debug("planning", "backend", dev.Name(), "dims", dims)
			p, err := d.Plan(dt, dims)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Printf("backend:    %s\n", dev.Name())
			fmt.Printf("dtype:      %s\n", p.DType)
			fmt.Printf("batch:      %d\n", p.Batch)
			fmt.Printf("matrix:     %dx%d\n", p.Rows, p.Cols)
			fmt.Printf("strategy:   %s\n", p.Strategy)
			fmt.Printf("threshold:  %d\n", d.Threshold())
			return nil
		},
	}
}

// parseShape accepts "64x16x16" or "64,16,16".
func parseShape(s string) ([]int64, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool { return r == 'x' || r == ',' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	dims := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q in shape %q", f, s)
		}
		dims[i] = v
	}
	return dims, nil
}
