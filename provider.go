package denoise

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/engine"
)

// DeviceHandle provides the GPU device and queue of a host application.
type DeviceHandle = gpucontext.DeviceProvider

// NewDenoiserFromProvider returns a Denoiser sharing the device of a host
// application such as gogpu.
//
// The provider must expose HAL types, either through HalDevice() any and
// HalQueue() any or by returning hal.Device and hal.Queue from Device and
// Queue.
func NewDenoiserFromProvider(p DeviceHandle, dev engine.Device, opts ...Option) (*Denoiser, error) {
	if p == nil {
		return nil, errors.New("denoise: nil device provider")
	}
	device, queue, err := halFromProvider(p)
	if err != nil {
		return nil, err
	}
	d, err := NewDenoiser(device, queue, dev, opts...)
	if err != nil {
		return nil, err
	}
	info := p.AdapterInfo()
	d.log().Info("denoise: using provider device",
		"adapter", info.Name,
		"type", info.Type,
		"engine", dev.Kind())
	if info.Type == gpucontext.AdapterTypeSoftware {
		d.log().Warn("denoise: provider adapter is a software renderer; transfers run on the CPU")
	}
	return d, nil
}

func halFromProvider(p DeviceHandle) (hal.Device, hal.Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var rawDevice, rawQueue any
	if hp, ok := p.(halProvider); ok {
		rawDevice, rawQueue = hp.HalDevice(), hp.HalQueue()
	} else {
		rawDevice, rawQueue = p.Device(), p.Queue()
	}
	device, ok := rawDevice.(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("denoise: provider device is %T, not hal.Device", rawDevice)
	}
	queue, ok := rawQueue.(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("denoise: provider queue is %T, not hal.Queue", rawQueue)
	}
	return device, queue, nil
}
