package denoise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/completion"
	"github.com/gogpu/denoise/internal/convert"
	"github.com/gogpu/denoise/internal/staging"
	"github.com/gogpu/denoise/internal/transfer"
)

// PoolStats reports staging buffer pool activity.
type PoolStats = staging.Stats

// Denoiser runs the readback, convert, denoise, convert, upload pipeline
// against one GPU device and one engine device.
//
// Calls on a Denoiser are serialized, so pooled staging buffers are never
// used by two calls at once. A Denoiser is safe for concurrent use.
type Denoiser struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	engine engine.Device
	cfg    config

	pool     *staging.Pool
	link     *transfer.Link
	readback *transfer.Readback
	upload   *transfer.Upload

	// filters caches one filter per kind. A filter is dropped after it
	// reports an error or an execution is abandoned.
	filters map[engine.FilterKind]engine.Filter
	closed  bool
}

// NewDenoiser returns a Denoiser for a HAL device and queue using dev to
// denoise. The Denoiser takes ownership of dev and closes it in Close.
func NewDenoiser(device hal.Device, queue hal.Queue, dev engine.Device, opts ...Option) (*Denoiser, error) {
	if device == nil || queue == nil {
		return nil, errors.New("denoise: nil device or queue")
	}
	if dev == nil {
		return nil, errors.New("denoise: nil engine device")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.alignment == 0 {
		return nil, configErrorf("zero row alignment")
	}

	pool := staging.NewPool(device, cfg.poolSize)
	link := transfer.NewLink(device, queue, pool, transfer.Config{
		Alignment:    cfg.alignment,
		MapTimeout:   cfg.mapTimeout,
		PollInterval: cfg.pollInterval,
		Clock:        cfg.clock,
	})
	d := &Denoiser{
		device:   device,
		queue:    queue,
		engine:   dev,
		cfg:      cfg,
		pool:     pool,
		link:     link,
		readback: transfer.NewReadback(link),
		upload:   transfer.NewUpload(link),
		filters:  make(map[engine.FilterKind]engine.Filter),
	}
	d.log().Debug("denoise: denoiser created",
		"engine", dev.Kind(),
		"alignment", cfg.alignment,
		"poolSize", cfg.poolSize,
		"syncExecute", cfg.syncExecute)
	return d, nil
}

// log returns the per-denoiser logger or the package logger.
func (d *Denoiser) log() *slog.Logger {
	if d.cfg.logger != nil {
		return d.cfg.logger
	}
	return Logger()
}

// Denoise denoises color into output. output may be color itself.
func (d *Denoiser) Denoise(ctx context.Context, color, output *Texture, opts Options) error {
	return d.DenoiseWithAux(ctx, color, output, nil, nil, opts)
}

// DenoiseWithAux denoises color into output guided by optional albedo and
// normal textures. A normal texture requires an albedo texture.
//
// All arguments are validated before any device work. On failure output is
// not written.
func (d *Denoiser) DenoiseWithAux(ctx context.Context, color, output, albedo, normal *Texture, opts Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	j, err := plan(color, output, albedo, normal, opts, d.cfg.alignment)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("denoise: %w", err)
	}
	d.log().Debug("denoise: start", "frame", j.frame, "options", opts,
		"albedo", albedo != nil, "normal", normal != nil)

	// Every input is read back and converted before the engine sees any of it.
	rgb, alpha, err := d.readPlanes(ctx, color, j.frame, true)
	if err != nil {
		return fmt.Errorf("denoise: read color: %w", err)
	}
	var albedoRGB, normalRGB []float32
	if albedo != nil {
		if albedoRGB, _, err = d.readPlanes(ctx, albedo, j.albedo, false); err != nil {
			return fmt.Errorf("denoise: read albedo: %w", err)
		}
	}
	if normal != nil {
		if normalRGB, _, err = d.readPlanes(ctx, normal, j.normal, false); err != nil {
			return fmt.Errorf("denoise: read normal: %w", err)
		}
	}

	result := make([]float32, j.frame.PlaneLen())
	if err := d.execute(ctx, j, rgb, albedoRGB, normalRGB, result, opts); err != nil {
		return err
	}

	// The packed result is complete before the upload copy is recorded.
	layout := d.link.Layout(j.frame)
	packed, err := convert.Pack(result, alpha, j.frame, layout.Stride)
	if err != nil {
		return fmt.Errorf("denoise: pack output: %w", err)
	}
	if err := d.upload.WriteTexture(ctx, packed, output.target(), j.frame); err != nil {
		return fmt.Errorf("denoise: write output: %w", err)
	}
	return nil
}

// job is a validated denoise request.
type job struct {
	frame  FrameDescriptor
	albedo FrameDescriptor
	normal FrameDescriptor
	kind   engine.FilterKind
}

// plan validates a request without touching the device or the engine.
func plan(color, output, albedo, normal *Texture, opts Options, alignment uint32) (job, error) {
	var j job
	if err := opts.Validate(); err != nil {
		return j, err
	}
	j.kind = opts.filter()

	frame, err := textureFrame("color", color, alignment)
	if err != nil {
		return j, err
	}
	out, err := textureFrame("output", output, alignment)
	if err != nil {
		return j, err
	}
	if out.Format != frame.Format {
		return j, configErrorf("output format %v differs from color format %v", out.Format, frame.Format)
	}
	if !out.SameSize(frame) {
		return j, configError(fmt.Errorf("%w: output %dx%d, color %dx%d",
			ErrInvalidDimensions, out.Width, out.Height, frame.Width, frame.Height))
	}
	j.frame = frame

	if j.kind == engine.FilterRTLightmap && (albedo != nil || normal != nil) {
		return j, configErrorf("the %s filter takes no auxiliary textures", j.kind)
	}
	if normal != nil && albedo == nil {
		return j, configErrorf("a normal texture requires an albedo texture")
	}
	if albedo != nil {
		if j.albedo, err = auxFrame("albedo", albedo, frame, alignment); err != nil {
			return j, err
		}
	}
	if normal != nil {
		if j.normal, err = auxFrame("normal", normal, frame, alignment); err != nil {
			return j, err
		}
	}
	return j, nil
}

// textureFrame validates t, including that its rows fit a copy stride at the
// denoiser's alignment.
func textureFrame(name string, t *Texture, alignment uint32) (FrameDescriptor, error) {
	if t == nil {
		return FrameDescriptor{}, configErrorf("nil %s texture", name)
	}
	if t.raw == nil {
		return FrameDescriptor{}, configErrorf("%s texture has no HAL texture", name)
	}
	frame, err := t.Frame()
	if err == nil {
		if verr := frame.ValidateAligned(alignment); verr != nil {
			err = configError(verr)
		}
	}
	if err != nil {
		return FrameDescriptor{}, fmt.Errorf("%s: %w", name, err)
	}
	return frame, nil
}

// auxFrame validates an auxiliary texture. Its format may differ from color;
// its size may not.
func auxFrame(name string, t *Texture, color FrameDescriptor, alignment uint32) (FrameDescriptor, error) {
	frame, err := textureFrame(name, t, alignment)
	if err != nil {
		return frame, err
	}
	if !frame.SameSize(color) {
		return frame, configError(fmt.Errorf("%w: %s %dx%d, color %dx%d",
			ErrInvalidDimensions, name, frame.Width, frame.Height, color.Width, color.Height))
	}
	return frame, nil
}

// readPlanes reads t back and unpacks it. The staging buffer is back in the
// pool before it returns. Alpha is only kept when withAlpha is set.
func (d *Denoiser) readPlanes(ctx context.Context, t *Texture, frame FrameDescriptor, withAlpha bool) (rgb, alpha []float32, err error) {
	view, err := d.readback.ReadTexture(ctx, t.target(), frame)
	if err != nil {
		return nil, nil, err
	}
	rgb = make([]float32, frame.PlaneLen())
	if withAlpha {
		alpha = make([]float32, frame.Pixels())
	}
	err = convert.UnpackInto(rgb, alpha, view.Bytes, frame, view.Layout.Stride)
	if rerr := view.Release(); err == nil && rerr != nil {
		err = rerr
	}
	if err != nil {
		return nil, nil, err
	}
	return rgb, alpha, nil
}

// execute binds the planes to the cached filter, applies opts and runs it.
func (d *Denoiser) execute(ctx context.Context, j job, color, albedo, normal, result []float32, opts Options) error {
	f, err := d.filter(j.kind)
	if err != nil {
		return err
	}
	w, h := int(j.frame.Width), int(j.frame.Height)
	bind := func(role engine.ImageRole, data []float32) error {
		if data == nil {
			f.UnsetImage(role)
			return nil
		}
		return f.SetImage(role, data, engine.FormatFloat3, w, h, 0)
	}
	for _, b := range []struct {
		role engine.ImageRole
		data []float32
	}{
		{engine.RoleColor, color},
		{engine.RoleAlbedo, albedo},
		{engine.RoleNormal, normal},
		{engine.RoleOutput, result},
	} {
		if err := bind(b.role, b.data); err != nil {
			return d.engineFailure(j.kind, "bind "+b.role.String(), err)
		}
	}

	f.SetInt(engine.OptionQuality, int(opts.Quality))
	f.SetBool(engine.OptionHDR, opts.HDR)
	f.SetBool(engine.OptionSRGB, opts.SRGB)
	f.SetBool(engine.OptionCleanAux, opts.CleanAux)
	scale := opts.InputScale
	if scale == 0 {
		scale = float32(math.NaN())
	}
	f.SetFloat(engine.OptionInputScale, scale)
	if j.kind == engine.FilterRTLightmap {
		f.SetBool(engine.OptionDirectional, opts.Directional)
	}
	if err := f.Commit(); err != nil {
		return d.engineFailure(j.kind, "commit", err)
	}

	if d.cfg.syncExecute {
		if err := f.Execute(ctx); err != nil {
			return d.engineFailure(j.kind, "execute", err)
		}
		return nil
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := f.ExecuteAsync(execCtx)
	if err != nil {
		return d.engineFailure(j.kind, "execute", err)
	}
	err = completion.New(c, d.cfg.clock, d.cfg.pollInterval).Await(ctx, d.cfg.engineTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, completion.ErrTimeout):
		d.dropFilter(j.kind)
		d.log().Warn("denoise: engine execution abandoned", "timeout", d.cfg.engineTimeout)
		return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
	case ctx.Err() != nil:
		d.dropFilter(j.kind)
		return fmt.Errorf("denoise: execute: %w", ctx.Err())
	default:
		return d.engineFailure(j.kind, "execute", err)
	}
}

// filter returns the cached filter for kind, creating it on first use.
func (d *Denoiser) filter(kind engine.FilterKind) (engine.Filter, error) {
	if f, ok := d.filters[kind]; ok {
		return f, nil
	}
	f, err := d.engine.NewFilter(kind)
	if err != nil {
		if last := d.engine.LastError(); last != nil {
			return nil, fmt.Errorf("denoise: new %s filter: %w", kind, last)
		}
		return nil, fmt.Errorf("denoise: new %s filter: %w", kind, err)
	}
	d.log().Debug("denoise: filter created", "kind", kind)
	d.filters[kind] = f
	return f, nil
}

func (d *Denoiser) dropFilter(kind engine.FilterKind) {
	f, ok := d.filters[kind]
	if !ok {
		return
	}
	delete(d.filters, kind)
	if err := f.Close(); err != nil {
		d.log().Warn("denoise: close filter", "kind", kind, "err", err)
	}
}

// engineFailure drops the filter and returns the engine's error verbatim.
// The device's last error is preferred when the call itself returned a
// plain error.
func (d *Denoiser) engineFailure(kind engine.FilterKind, op string, err error) error {
	d.dropFilter(kind)
	last := d.engine.LastError()
	var ee *EngineError
	if !errors.As(err, &ee) && last != nil {
		err = last
	}
	d.log().Warn("denoise: engine error", "op", op, "err", err)
	return fmt.Errorf("denoise: %s: %w", op, err)
}

// Stats returns staging pool statistics.
func (d *Denoiser) Stats() PoolStats {
	return d.pool.Stats()
}

// Close releases pooled staging buffers, cached filters and the engine
// device. Calls after Close return ErrClosed.
func (d *Denoiser) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	for kind := range d.filters {
		d.dropFilter(kind)
	}
	d.pool.Release()
	if err := d.engine.Close(); err != nil {
		return fmt.Errorf("denoise: close engine device: %w", err)
	}
	return nil
}
