//go:build cuda

package backend

import (
	"github.com/samcharles93/batchlu/internal/backend/cuda"
	"github.com/samcharles93/batchlu/internal/device"
)

type cudaDevice struct {
	*cuda.Device
}

func newCUDA(opts Options) (Device, error) {
	dev, err := cuda.New(opts.Logger)
	if err != nil {
		return nil, err
	}
	return cudaDevice{dev}, nil
}

func (d cudaDevice) NewScratch(s device.Stream, limit int64) Scratch {
	return d.Device.NewScratch(s, limit)
}
