package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/internal/pitch"
	"github.com/gogpu/denoise/internal/pixel"
	"github.com/gogpu/denoise/internal/staging"
)

// Upload copies host memory into textures.
type Upload struct {
	link *Link
}

// NewUpload returns an Upload controller on l.
func NewUpload(l *Link) *Upload {
	return &Upload{link: l}
}

// WriteTexture copies data, laid out with the same padded stride Readback
// uses for frame, into target. It returns once the copy has completed.
//
// Hazards against an earlier readback of the same texture are the caller's
// concern: data must be fully prepared before WriteTexture is called.
func (u *Upload) WriteTexture(ctx context.Context, data []byte, target Target, frame pixel.Frame) error {
	l := u.link
	if err := frame.ValidateAligned(l.cfg.Alignment); err != nil {
		return err
	}
	layout := l.Layout(frame)
	if uint64(len(data)) < layout.Size() {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortData, len(data), layout.Size())
	}
	data = data[:layout.Size()]

	buf, err := l.pool.Get(layout.Size(), staging.Upload)
	if err != nil {
		return l.classify("get upload buffer", err)
	}
	slogger().Debug("transfer: upload",
		"frame", frame.String(), "stride", layout.Stride, "size", layout.Size())

	err = u.attempt(ctx, data, target, layout, buf)
	if !errors.Is(err, ErrMapFailed) {
		return err
	}

	slogger().Warn("transfer: upload map failed, retrying with fresh buffer", "err", err)
	fresh, ferr := l.pool.GetFresh(layout.Size(), staging.Upload)
	if ferr != nil {
		return l.classify("get fresh upload buffer", ferr)
	}
	return u.attempt(ctx, data, target, layout, fresh)
}

func (u *Upload) attempt(ctx context.Context, data []byte, target Target, layout pitch.Layout, buf *staging.Buffer) error {
	l := u.link
	mapped, err := buf.Map()
	if err != nil {
		l.pool.Discard(buf)
		if errors.Is(err, hal.ErrDeviceLost) {
			return l.classify("map upload buffer", err)
		}
		return fmt.Errorf("%w: %w", ErrMapFailed, err)
	}
	copy(mapped, data)
	if err := buf.Unmap(); err != nil {
		l.pool.Discard(buf)
		return l.classify("unmap upload buffer", err)
	}

	idx, err := l.encode("denoise_upload", target, gputypes.TextureUsageCopyDst, func(enc hal.CommandEncoder) {
		enc.CopyBufferToTexture(buf.Raw(), target.Texture, copyRegion(target.Texture, layout))
	})
	if err != nil {
		l.pool.Discard(buf)
		return l.classify("upload", err)
	}
	if err := buf.MarkPending(idx); err != nil {
		l.pool.Discard(buf)
		return fmt.Errorf("upload: %w", err)
	}
	if err := l.await(ctx, buf); err != nil {
		return err
	}
	return l.pool.Put(buf)
}
