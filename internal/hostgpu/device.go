package hostgpu

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// ErrInjectedMapFailure is the default error returned by FailMaps.
var ErrInjectedMapFailure = errors.New("hostgpu: injected map failure")

// Stats counts device and queue activity.
type Stats struct {
	BuffersCreated   int
	BuffersDestroyed int
	TexturesCreated  int
	Maps             int
	Unmaps           int
	Encoders         int
	Submissions      int
	Copies           int
}

// Device is an in-memory hal.Device.
type Device struct {
	noop.Device

	mu        sync.Mutex
	queue     *Queue
	lost      bool
	failMaps  int
	failErr   error
	stats     Stats
	liveBufs  map[*Buffer]struct{}
	destroyed bool
}

// New returns a connected device and queue.
func New() (*Device, *Queue) {
	d := &Device{liveBufs: make(map[*Buffer]struct{})}
	q := &Queue{dev: d}
	d.queue = q
	return d, q
}

// Open returns the device and queue as a hal.OpenDevice.
func Open() hal.OpenDevice {
	d, q := New()
	return hal.OpenDevice{Device: d, Queue: q}
}

// AdapterInfo describes the host adapter.
func AdapterInfo() gputypes.AdapterInfo {
	return gputypes.AdapterInfo{
		Name:       "hostgpu",
		Vendor:     "gogpu",
		DeviceType: gputypes.DeviceTypeCPU,
		Driver:     "in-memory",
		Backend:    gputypes.BackendEmpty,
	}
}

// Lose marks the device as lost. Every later call that can fail returns
// hal.ErrDeviceLost and pending submissions never complete.
func (d *Device) Lose() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// Lost reports whether Lose was called.
func (d *Device) Lost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// FailMaps makes the next n MapBuffer calls fail with err
// (ErrInjectedMapFailure when err is nil).
func (d *Device) FailMaps(n int, err error) {
	if err == nil {
		err = ErrInjectedMapFailure
	}
	d.mu.Lock()
	d.failMaps = n
	d.failErr = err
	d.mu.Unlock()
}

// Stats returns a snapshot of the activity counters.
func (d *Device) Stats() Stats {
	n := d.queue.submissions()
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Submissions = n
	return s
}

// LiveBuffers returns the number of buffers created and not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.liveBufs)
}

func (d *Device) isLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// CreateBuffer allocates a zeroed buffer.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if desc == nil {
		return nil, fmt.Errorf("hostgpu: nil buffer descriptor")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	b := &Buffer{label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size), mapped: desc.MappedAtCreation}
	d.stats.BuffersCreated++
	d.liveBufs[b] = struct{}{}
	return b, nil
}

// DestroyBuffer releases a buffer created by this device.
func (d *Device) DestroyBuffer(buffer hal.Buffer) {
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	d.stats.BuffersDestroyed++
	delete(d.liveBufs, b)
}

// MapBuffer maps a MapRead or MapWrite buffer.
func (d *Device) MapBuffer(buffer hal.Buffer, offset, size uint64) (hal.BufferMapping, error) {
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return hal.BufferMapping{}, hal.ErrDeviceLost
	}
	if d.failMaps > 0 {
		d.failMaps--
		return hal.BufferMapping{}, d.failErr
	}
	if b.destroyed {
		return hal.BufferMapping{}, fmt.Errorf("hostgpu: map of destroyed buffer %q", b.label)
	}
	if !b.usage.Contains(gputypes.BufferUsageMapRead) && !b.usage.Contains(gputypes.BufferUsageMapWrite) {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	if size == 0 || offset+size > uint64(len(b.data)) {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	b.mapped = true
	d.stats.Maps++
	return hal.BufferMapping{Ptr: unsafe.Pointer(&b.data[offset]), IsCoherent: true}, nil
}

// UnmapBuffer ends a mapping.
func (d *Device) UnmapBuffer(buffer hal.Buffer) error {
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return fmt.Errorf("hostgpu: unmap of foreign buffer %T", buffer)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b.mapped = false
	d.stats.Unmaps++
	if d.lost {
		return hal.ErrDeviceLost
	}
	return nil
}

// CreateTexture allocates a zeroed texture.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if desc == nil {
		return nil, fmt.Errorf("hostgpu: nil texture descriptor")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	layers := desc.Size.DepthOrArrayLayers
	if layers == 0 {
		layers = 1
	}
	t := &Texture{desc: *desc, bpp: bytesPerPixel(desc.Format)}
	t.desc.Size.DepthOrArrayLayers = layers
	t.data = make([]byte, t.layerBytes()*uint64(layers))
	d.stats.TexturesCreated++
	return t, nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(texture hal.Texture) {
	if t, ok := texture.(*Texture); ok && t != nil {
		d.mu.Lock()
		t.destroyed = true
		d.mu.Unlock()
	}
}

// CreateCommandEncoder returns an encoder that records copies.
func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	d.stats.Encoders++
	label := ""
	if desc != nil {
		label = desc.Label
	}
	return &CommandEncoder{dev: d, label: label}, nil
}

// FreeCommandBuffer drops the recorded operations.
func (d *Device) FreeCommandBuffer(cmdBuffer hal.CommandBuffer) {
	if cb, ok := cmdBuffer.(*CommandBuffer); ok && cb != nil {
		cb.ops = nil
	}
}

// WaitIdle completes every pending submission.
func (d *Device) WaitIdle() error {
	if d.isLost() {
		return hal.ErrDeviceLost
	}
	d.queue.CompleteAll()
	return nil
}

// Destroy marks the device destroyed.
func (d *Device) Destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
}

func (d *Device) countCopy() {
	d.mu.Lock()
	d.stats.Copies++
	d.mu.Unlock()
}
