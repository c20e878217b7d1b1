// Package enginetest provides deterministic denoising engines for tests.
//
// A Stub applies a fixed per-channel transform and records every call so
// tests can assert which images were bound and which options were set.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/denoise/engine"
)

// Transform maps one input RGB pixel to an output pixel.
type Transform func(r, g, b float32) (float32, float32, float32)

// Identity returns the input unchanged.
func Identity(r, g, b float32) (float32, float32, float32) { return r, g, b }

// Scale returns a Transform multiplying every channel by k.
func Scale(k float32) Transform {
	return func(r, g, b float32) (float32, float32, float32) { return r * k, g * k, b * k }
}

// Stub is an engine.Engine running a Transform.
type Stub struct {
	Transform Transform

	// DeviceErr, FilterErr, CommitErr and ExecuteErr are returned by the
	// matching calls when non-nil. Engine errors are also recorded on the
	// device so LastError reports them.
	DeviceErr  error
	FilterErr  error
	CommitErr  *engine.Error
	ExecuteErr *engine.Error

	// Block makes ExecuteAsync stay pending until Release is called.
	Block bool

	mu        sync.Mutex
	release   chan struct{}
	calls     []string
	devices   int
	filters   int
	executes  int
	lastBound map[engine.ImageRole]bool
	lastOpts  engine.Settings
}

// New returns a stub applying t.
func New(t Transform) *Stub {
	return &Stub{Transform: t, release: make(chan struct{})}
}

// Failing returns a stub whose executions fail with the given code.
func Failing(code engine.ErrorCode, msg string) *Stub {
	s := New(Identity)
	s.ExecuteErr = &engine.Error{Code: code, Message: msg}
	return s
}

// Blocking returns a stub whose asynchronous executions never complete
// until Release.
func Blocking() *Stub {
	s := New(Identity)
	s.Block = true
	return s
}

// Release lets blocked executions complete.
func (s *Stub) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

func (s *Stub) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// Calls returns the recorded calls in order, e.g. "SetImage color 2x2".
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Executions returns the number of completed executions.
func (s *Stub) Executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executes
}

// Filters returns the number of filters created.
func (s *Stub) Filters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Bound reports whether role was bound at the last commit.
func (s *Stub) Bound(role engine.ImageRole) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBound[role]
}

// Settings returns the options seen at the last commit.
func (s *Stub) Settings() engine.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

// PhysicalDevices lists one CPU device.
func (s *Stub) PhysicalDevices() []engine.PhysicalDevice {
	return []engine.PhysicalDevice{{ID: 0, Kind: engine.DeviceCPU, Name: "stub"}}
}

// NewDevice returns a device or DeviceErr.
func (s *Stub) NewDevice(kind engine.DeviceKind) (engine.Device, error) {
	s.record("NewDevice %v", kind)
	if s.DeviceErr != nil {
		return nil, s.DeviceErr
	}
	s.mu.Lock()
	s.devices++
	s.mu.Unlock()
	return &device{stub: s, kind: kind}, nil
}

// Device opens a device and panics on failure. For test setup.
func (s *Stub) Device() engine.Device {
	d, err := s.NewDevice(engine.DeviceDefault)
	if err != nil {
		panic(err)
	}
	return d
}

type device struct {
	stub *Stub
	kind engine.DeviceKind
	errs engine.ErrorLog
}

func (d *device) Kind() engine.DeviceKind  { return d.kind }
func (d *device) LastError() *engine.Error { return d.errs.Take() }
func (d *device) Close() error             { d.stub.record("CloseDevice"); return nil }

func (d *device) NewFilter(kind engine.FilterKind) (engine.Filter, error) {
	d.stub.record("NewFilter %s", kind)
	if d.stub.FilterErr != nil {
		var e *engine.Error
		if errors.As(d.stub.FilterErr, &e) {
			d.errs.Record(e)
		}
		return nil, d.stub.FilterErr
	}
	d.stub.mu.Lock()
	d.stub.filters++
	d.stub.mu.Unlock()
	return &filter{dev: d, kind: kind}, nil
}

type filter struct {
	engine.Params
	dev    *device
	kind   engine.FilterKind
	images engine.Images
}

func (f *filter) SetImage(role engine.ImageRole, data []float32, format engine.Format, width, height, rowStride int) error {
	f.dev.stub.record("SetImage %v %dx%d", role, width, height)
	if err := f.images.Set(role, data, format, width, height, rowStride); err != nil {
		return f.dev.errs.Record(err.(*engine.Error))
	}
	return nil
}

func (f *filter) UnsetImage(role engine.ImageRole) {
	f.dev.stub.record("UnsetImage %v", role)
	f.images.Unset(role)
}

func (f *filter) Commit() error {
	s := f.dev.stub
	s.record("Commit")
	if err := f.images.Validate(f.kind); err != nil {
		return f.dev.errs.Record(err.(*engine.Error))
	}
	if s.CommitErr != nil {
		return f.dev.errs.Record(s.CommitErr)
	}
	bound := make(map[engine.ImageRole]bool)
	for role := engine.RoleColor; role <= engine.RoleOutput; role++ {
		_, ok := f.images.Get(role)
		bound[role] = ok
	}
	s.mu.Lock()
	s.lastBound = bound
	s.lastOpts = f.Settings()
	s.mu.Unlock()
	return nil
}

func (f *filter) apply() error {
	s := f.dev.stub
	if s.ExecuteErr != nil {
		return f.dev.errs.Record(s.ExecuteErr)
	}
	color, ok1 := f.images.Get(engine.RoleColor)
	out, ok2 := f.images.Get(engine.RoleOutput)
	if !ok1 || !ok2 {
		return f.dev.errs.Record(engine.Errorf(engine.CodeInvalidOperation, "images not bound"))
	}
	for y := 0; y < color.Height; y++ {
		for x := 0; x < color.Width; x++ {
			i, o := color.At(x, y), out.At(x, y)
			r, g, b := s.Transform(color.Data[i], color.Data[i+1], color.Data[i+2])
			out.Data[o], out.Data[o+1], out.Data[o+2] = r, g, b
		}
	}
	s.mu.Lock()
	s.executes++
	s.mu.Unlock()
	return nil
}

func (f *filter) Execute(ctx context.Context) error {
	f.dev.stub.record("Execute")
	if err := ctx.Err(); err != nil {
		return f.dev.errs.Record(engine.Errorf(engine.CodeCancelled, "%v", err))
	}
	return f.apply()
}

func (f *filter) ExecuteAsync(ctx context.Context) (engine.Completion, error) {
	f.dev.stub.record("ExecuteAsync")
	return &pending{f: f, ctx: ctx}, nil
}

func (f *filter) Close() error {
	f.dev.stub.record("CloseFilter")
	return nil
}

// pending runs the transform on the first poll after the stub is released.
type pending struct {
	f    *filter
	ctx  context.Context
	once sync.Once
	err  error
}

func (p *pending) Poll() (bool, error) {
	s := p.f.dev.stub
	if s.Block {
		select {
		case <-s.release:
		default:
			return false, nil
		}
	}
	p.once.Do(func() {
		if err := p.ctx.Err(); err != nil {
			p.err = p.f.dev.errs.Record(engine.Errorf(engine.CodeCancelled, "%v", err))
			return
		}
		p.err = p.f.apply()
	})
	return true, p.err
}
