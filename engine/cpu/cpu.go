// Package cpu is a pure Go denoising engine.
//
// The filter is a joint bilateral filter: each output pixel is a weighted
// mean of its neighbours, weighted by spatial distance, color difference
// and, when bound, albedo and normal difference. Quality selects the
// radius. HDR input is filtered in a log domain after exposure scaling.
// Rows are processed in parallel bands.
package cpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/parallel"
)

// Engine opens CPU devices.
type Engine struct {
	workers int
}

// New returns an engine whose devices use the given number of worker
// goroutines. Zero or less means GOMAXPROCS.
func New(workers int) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: workers}
}

// PhysicalDevices lists the single CPU device.
func (e *Engine) PhysicalDevices() []engine.PhysicalDevice {
	return []engine.PhysicalDevice{{
		ID:   0,
		Kind: engine.DeviceCPU,
		Name: fmt.Sprintf("cpu (%d workers)", e.workers),
	}}
}

// NewDevice opens a device. Only DeviceDefault and DeviceCPU are supported.
func (e *Engine) NewDevice(kind engine.DeviceKind) (engine.Device, error) {
	if kind != engine.DeviceDefault && kind != engine.DeviceCPU {
		return nil, fmt.Errorf("%w: %w", engine.ErrDeviceCreationFailed,
			engine.Errorf(engine.CodeUnsupportedHardware, "%v devices are not available", kind))
	}
	return &Device{pool: parallel.NewWorkerPool(e.workers)}, nil
}

// Device runs filters on a worker pool.
type Device struct {
	pool *parallel.WorkerPool
	errs engine.ErrorLog

	mu     sync.Mutex
	closed bool
}

// Kind returns engine.DeviceCPU.
func (d *Device) Kind() engine.DeviceKind { return engine.DeviceCPU }

// LastError returns and clears the oldest unreported error.
func (d *Device) LastError() *engine.Error { return d.errs.Take() }

// NewFilter creates an RT or RTLightmap filter.
func (d *Device) NewFilter(kind engine.FilterKind) (engine.Filter, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", engine.ErrFilterCreationFailed,
			d.errs.Record(engine.Errorf(engine.CodeInvalidOperation, "device closed")))
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %w", engine.ErrFilterCreationFailed,
			d.errs.Record(engine.Errorf(engine.CodeInvalidArgument, "unknown filter type %q", kind)))
	}
	return &Filter{dev: d, kind: kind}, nil
}

// Close stops the worker pool.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.pool.Close()
	}
	return nil
}

// Filter is a CPU filter.
type Filter struct {
	engine.Params

	dev    *Device
	kind   engine.FilterKind
	images engine.Images

	mu        sync.Mutex
	committed *plan
}

// SetImage binds an image and invalidates the last commit.
func (f *Filter) SetImage(role engine.ImageRole, data []float32, format engine.Format, width, height, rowStride int) error {
	if err := f.images.Set(role, data, format, width, height, rowStride); err != nil {
		return f.dev.errs.Record(err.(*engine.Error))
	}
	f.uncommit()
	return nil
}

// UnsetImage removes a binding and invalidates the last commit.
func (f *Filter) UnsetImage(role engine.ImageRole) {
	f.images.Unset(role)
	f.uncommit()
}

// SetBool sets an option and invalidates the last commit.
func (f *Filter) SetBool(name string, v bool) { f.Params.SetBool(name, v); f.uncommit() }

// SetInt sets an option and invalidates the last commit.
func (f *Filter) SetInt(name string, v int) { f.Params.SetInt(name, v); f.uncommit() }

// SetFloat sets an option and invalidates the last commit.
func (f *Filter) SetFloat(name string, v float32) { f.Params.SetFloat(name, v); f.uncommit() }

func (f *Filter) uncommit() {
	f.mu.Lock()
	f.committed = nil
	f.mu.Unlock()
}

// Commit validates the images and options.
func (f *Filter) Commit() error {
	if err := f.images.Validate(f.kind); err != nil {
		return f.dev.errs.Record(err.(*engine.Error))
	}
	s := f.Settings()
	if !s.Quality.Valid() {
		return f.dev.errs.Record(engine.Errorf(engine.CodeInvalidArgument, "invalid quality %d", int(s.Quality)))
	}
	p := &plan{settings: s, kind: f.kind}
	p.color, _ = f.images.Get(engine.RoleColor)
	p.output, _ = f.images.Get(engine.RoleOutput)
	if im, ok := f.images.Get(engine.RoleAlbedo); ok {
		p.albedo = &im
	}
	if im, ok := f.images.Get(engine.RoleNormal); ok {
		p.normal = &im
	}
	f.mu.Lock()
	f.committed = p
	f.mu.Unlock()
	return nil
}

func (f *Filter) plan() (*plan, error) {
	f.mu.Lock()
	p := f.committed
	f.mu.Unlock()
	if p == nil {
		return nil, f.dev.errs.Record(engine.Errorf(engine.CodeInvalidOperation, "filter not committed"))
	}
	return p, nil
}

// Execute runs the filter on the calling goroutine and the device pool.
func (f *Filter) Execute(ctx context.Context) error {
	p, err := f.plan()
	if err != nil {
		return err
	}
	if err := p.run(ctx, f.dev.pool); err != nil {
		return f.dev.errs.Record(engine.Errorf(engine.CodeCancelled, "%v", err))
	}
	return nil
}

// ExecuteAsync runs the filter on a new goroutine.
func (f *Filter) ExecuteAsync(ctx context.Context) (engine.Completion, error) {
	p, err := f.plan()
	if err != nil {
		return nil, err
	}
	c := &completion{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		if err := p.run(ctx, f.dev.pool); err != nil {
			c.err = f.dev.errs.Record(engine.Errorf(engine.CodeCancelled, "%v", err))
		}
	}()
	return c, nil
}

// Close releases the filter's bindings.
func (f *Filter) Close() error {
	for role := engine.RoleColor; role <= engine.RoleOutput; role++ {
		f.images.Unset(role)
	}
	f.uncommit()
	return nil
}

type completion struct {
	done chan struct{}
	err  error
}

func (c *completion) Poll() (bool, error) {
	select {
	case <-c.done:
		return true, c.err
	default:
		return false, nil
	}
}
