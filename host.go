package denoise

import (
	"context"
	"fmt"

	"github.com/gogpu/denoise/internal/convert"
)

// WriteRGBA uploads interleaved RGBA float32 pixels into tex, rounding to
// half precision for RGBA16Float textures. pix must hold Width*Height*4 values.
func (d *Denoiser) WriteRGBA(ctx context.Context, tex *Texture, pix []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	frame, err := textureFrame("destination", tex, d.cfg.alignment)
	if err != nil {
		return err
	}
	if len(pix) != frame.Pixels()*4 {
		return configErrorf("%d values for a %v texture, want %d", len(pix), frame, frame.Pixels()*4)
	}
	layout := d.link.Layout(frame)
	buf := make([]byte, layout.Size())
	if err := convert.PackRGBA(buf, pix, frame, layout.Stride); err != nil {
		return fmt.Errorf("denoise: pack pixels: %w", err)
	}
	if err := d.upload.WriteTexture(ctx, buf, tex.target(), frame); err != nil {
		return fmt.Errorf("denoise: write texture: %w", err)
	}
	return nil
}

// ReadRGBA reads tex back as interleaved RGBA float32 pixels.
func (d *Denoiser) ReadRGBA(ctx context.Context, tex *Texture) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	frame, err := textureFrame("source", tex, d.cfg.alignment)
	if err != nil {
		return nil, err
	}
	view, err := d.readback.ReadTexture(ctx, tex.target(), frame)
	if err != nil {
		return nil, fmt.Errorf("denoise: read texture: %w", err)
	}
	pix := make([]float32, frame.Pixels()*4)
	err = convert.UnpackRGBA(pix, view.Bytes, frame, view.Layout.Stride)
	if rerr := view.Release(); err == nil && rerr != nil {
		err = rerr
	}
	if err != nil {
		return nil, fmt.Errorf("denoise: unpack pixels: %w", err)
	}
	return pix, nil
}
