package main

import (
	"fmt"
	"log"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/internal/hostgpu"

	// Register every wgpu backend for -backend auto.
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

// gpuDevice is an opened HAL device with its queue.
type gpuDevice struct {
	name   string
	device hal.Device
	queue  hal.Queue

	instance hal.Instance
}

func (g *gpuDevice) close() {
	if err := g.device.WaitIdle(); err != nil {
		log.Printf("GPU wait idle: %v", err)
	}
	g.device.Destroy()
	if g.instance != nil {
		g.instance.Destroy()
	}
}

func openGPU(backend string) (*gpuDevice, error) {
	switch backend {
	case "host":
		return openHost(), nil
	case "auto":
		g, err := openBest()
		if err != nil {
			log.Printf("No usable wgpu backend (%v), using host", err)
			return openHost(), nil
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want host or auto)", backend)
	}
}

func openHost() *gpuDevice {
	open := hostgpu.Open()
	return &gpuDevice{name: hostgpu.AdapterInfo().Name, device: open.Device, queue: open.Queue}
}

// openBest opens the first discrete or integrated adapter of the most
// capable backend. The no-op backend cannot copy texture data, so it is
// treated as unavailable.
func openBest() (*gpuDevice, error) {
	b, err := hal.SelectBestBackend()
	if err != nil {
		return nil, err
	}
	if b.Variant() == gputypes.BackendEmpty {
		return nil, fmt.Errorf("only the no-op backend is available")
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	return &gpuDevice{
		name:     fmt.Sprintf("%s (%v)", selected.Info.Name, b.Variant()),
		device:   open.Device,
		queue:    open.Queue,
		instance: instance,
	}, nil
}
