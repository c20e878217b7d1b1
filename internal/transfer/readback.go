package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/internal/pitch"
	"github.com/gogpu/denoise/internal/pixel"
	"github.com/gogpu/denoise/internal/staging"
)

// View is a read-only window onto a mapped Readback staging buffer.
// Bytes is valid until Release, which hands the buffer back to the pool.
type View struct {
	Bytes  []byte
	Layout pitch.Layout

	once sync.Once
	buf  *staging.Buffer
	pool *staging.Pool
	err  error
}

// Release unmaps the buffer and returns it to the pool. Safe to call twice.
func (v *View) Release() error {
	v.once.Do(func() {
		v.Bytes = nil
		if err := v.buf.Unmap(); err != nil {
			v.pool.Discard(v.buf)
			v.err = fmt.Errorf("unmap readback buffer: %w", err)
			return
		}
		v.err = v.pool.Put(v.buf)
	})
	return v.err
}

// Readback copies textures into host memory.
type Readback struct {
	link *Link
}

// NewReadback returns a Readback controller on l.
func NewReadback(l *Link) *Readback {
	return &Readback{link: l}
}

// ReadTexture copies the frame-sized region of target into a staging
// buffer and returns a view of the mapped bytes.
//
// The call returns only after the copy is observed complete. A failed map
// is retried once with a freshly allocated buffer; a timeout retires the
// buffer and fails with ErrMapTimeout; device loss fails with ErrDeviceLost.
func (r *Readback) ReadTexture(ctx context.Context, target Target, frame pixel.Frame) (*View, error) {
	l := r.link
	if err := frame.ValidateAligned(l.cfg.Alignment); err != nil {
		return nil, err
	}
	layout := l.Layout(frame)

	buf, err := l.pool.Get(layout.Size(), staging.Readback)
	if err != nil {
		return nil, l.classify("get readback buffer", err)
	}
	slogger().Debug("transfer: readback",
		"frame", frame.String(), "stride", layout.Stride, "size", layout.Size())

	v, err := r.attempt(ctx, target, layout, buf)
	if !errors.Is(err, ErrMapFailed) {
		return v, err
	}

	slogger().Warn("transfer: readback map failed, retrying with fresh buffer", "err", err)
	fresh, ferr := l.pool.GetFresh(layout.Size(), staging.Readback)
	if ferr != nil {
		return nil, l.classify("get fresh readback buffer", ferr)
	}
	return r.attempt(ctx, target, layout, fresh)
}

func (r *Readback) attempt(ctx context.Context, target Target, layout pitch.Layout, buf *staging.Buffer) (*View, error) {
	l := r.link
	idx, err := l.encode("denoise_readback", target, gputypes.TextureUsageCopySrc, func(enc hal.CommandEncoder) {
		enc.CopyTextureToBuffer(target.Texture, buf.Raw(), copyRegion(target.Texture, layout))
	})
	if err != nil {
		l.pool.Discard(buf)
		return nil, l.classify("readback", err)
	}
	if err := buf.MarkPending(idx); err != nil {
		l.pool.Discard(buf)
		return nil, fmt.Errorf("readback: %w", err)
	}
	if err := l.await(ctx, buf); err != nil {
		return nil, err
	}

	data, err := buf.Map()
	if err != nil {
		l.pool.Discard(buf)
		if errors.Is(err, hal.ErrDeviceLost) {
			return nil, l.classify("map readback buffer", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrMapFailed, err)
	}
	return &View{Bytes: data, Layout: layout, buf: buf, pool: l.pool}, nil
}
