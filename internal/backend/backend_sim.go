package backend

import (
	"github.com/samcharles93/batchlu/internal/backend/sim"
	"github.com/samcharles93/batchlu/internal/device"
)

type simDevice struct {
	*sim.Device
}

func newSim(opts Options) Device {
	return simDevice{sim.New(sim.Options{MemoryLimit: opts.MemoryLimit, Logger: opts.Logger})}
}

func (d simDevice) NewScratch(s device.Stream, limit int64) Scratch {
	return d.NewArena(s, limit)
}
