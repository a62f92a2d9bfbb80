package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/batchlu/internal/api"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		streams     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the factorization REST API",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "streams",
				Aliases:     []string{"s"},
				Usage:       "device streams shared by requests",
				Value:       4,
				Destination: &streams,
			},
		}, deviceFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadCommandConfig(cmd)
			if err != nil {
				return err
			}
			applyStreamsConfig(cmd, cfg, &streams)
			applyServeConfig(cmd, cfg, &addr)
			ctx, log := commandLogger(ctx)

			dev, dispatcher, err := openDevice(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open backend: %v", err), 1)
			}
			service, err := api.NewFactorService(dev, dispatcher, api.ServiceConfig{
				Streams:      int(streams),
				ScratchLimit: scratchLimit,
				Logger:       log,
			})
			if err != nil {
				_ = dispatcher.Close()
				_ = dev.Close()
				return cli.Exit(fmt.Sprintf("error: start service: %v", err), 1)
			}
			defer func() {
				if err := service.Close(); err != nil {
					log.Warn("service close failed", "error", err)
				}
				if err := dispatcher.Close(); err != nil {
					log.Warn("dispatcher close failed", "error", err)
				}
				if err := dev.Close(); err != nil {
					log.Warn("device close failed", "error", err)
				}
			}()

			server := api.NewServer(service)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "backend", dev.Name(), "streams", streams)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
