package hostgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// CopyRowAlignment is the BytesPerRow alignment required for multi-row
// buffer-texture copies.
const CopyRowAlignment = 256

var errNotRecording = errors.New("hostgpu: encoder is not recording")

// CommandEncoder records buffer and texture copies. Copies are validated
// when recorded; the first failure is returned by EndEncoding.
type CommandEncoder struct {
	noop.CommandEncoder

	dev       *Device
	label     string
	recording bool
	ops       []func()
	err       error
}

// BeginEncoding starts a recording.
func (e *CommandEncoder) BeginEncoding(label string) error {
	if e.dev.isLost() {
		return hal.ErrDeviceLost
	}
	if label != "" {
		e.label = label
	}
	e.recording = true
	e.ops = nil
	e.err = nil
	return nil
}

// EndEncoding finishes the recording.
func (e *CommandEncoder) EndEncoding() (hal.CommandBuffer, error) {
	if !e.recording {
		return nil, errNotRecording
	}
	e.recording = false
	if e.err != nil {
		err := e.err
		e.ops, e.err = nil, nil
		return nil, err
	}
	cb := &CommandBuffer{label: e.label, ops: e.ops}
	e.ops = nil
	return cb, nil
}

// DiscardEncoding drops the recording.
func (e *CommandEncoder) DiscardEncoding() {
	e.recording = false
	e.ops, e.err = nil, nil
}

func (e *CommandEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *CommandEncoder) record(op func()) {
	if !e.recording {
		e.fail(errNotRecording)
		return
	}
	e.dev.countCopy()
	e.ops = append(e.ops, op)
}

// CopyBufferToBuffer records byte range copies between buffers.
func (e *CommandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	s, ok1 := src.(*Buffer)
	d, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		e.fail(fmt.Errorf("hostgpu: foreign buffer in copy"))
		return
	}
	if !s.usage.Contains(gputypes.BufferUsageCopySrc) || !d.usage.Contains(gputypes.BufferUsageCopyDst) {
		e.fail(fmt.Errorf("hostgpu: buffer copy %q -> %q lacks copy usage", s.label, d.label))
		return
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(d.data)) {
			e.fail(fmt.Errorf("hostgpu: buffer copy of %d bytes out of range", r.Size))
			return
		}
		e.record(func() {
			copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		})
	}
}

// CopyTextureToBuffer records texture readbacks.
func (e *CommandEncoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	t, ok1 := src.(*Texture)
	b, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		e.fail(fmt.Errorf("hostgpu: foreign resource in texture to buffer copy"))
		return
	}
	if !t.desc.Usage.Contains(gputypes.TextureUsageCopySrc) {
		e.fail(fmt.Errorf("hostgpu: texture %q lacks CopySrc usage", t.desc.Label))
		return
	}
	if !b.usage.Contains(gputypes.BufferUsageCopyDst) {
		e.fail(fmt.Errorf("hostgpu: buffer %q lacks CopyDst usage", b.label))
		return
	}
	for _, c := range regions {
		r := region{layout: c.BufferLayout, origin: c.TextureBase.Origin, size: c.Size}
		if err := r.validate(t, uint64(len(b.data)), true); err != nil {
			e.fail(err)
			return
		}
		e.record(func() { r.textureToBuffer(t, b.data) })
	}
}

// CopyBufferToTexture records texture uploads.
func (e *CommandEncoder) CopyBufferToTexture(src hal.Buffer, dst hal.Texture, regions []hal.BufferTextureCopy) {
	b, ok1 := src.(*Buffer)
	t, ok2 := dst.(*Texture)
	if !ok1 || !ok2 {
		e.fail(fmt.Errorf("hostgpu: foreign resource in buffer to texture copy"))
		return
	}
	if !t.desc.Usage.Contains(gputypes.TextureUsageCopyDst) {
		e.fail(fmt.Errorf("hostgpu: texture %q lacks CopyDst usage", t.desc.Label))
		return
	}
	if !b.usage.Contains(gputypes.BufferUsageCopySrc) {
		e.fail(fmt.Errorf("hostgpu: buffer %q lacks CopySrc usage", b.label))
		return
	}
	for _, c := range regions {
		r := region{layout: c.BufferLayout, origin: c.TextureBase.Origin, size: c.Size}
		if err := r.validate(t, uint64(len(b.data)), true); err != nil {
			e.fail(err)
			return
		}
		e.record(func() { r.bufferToTexture(b.data, t) })
	}
}

// region is one buffer-texture copy.
type region struct {
	layout hal.ImageDataLayout
	origin hal.Origin3D
	size   hal.Extent3D
}

func (r region) layers() uint32 {
	if r.size.DepthOrArrayLayers == 0 {
		return 1
	}
	return r.size.DepthOrArrayLayers
}

func (r region) rowsPerImage() uint32 {
	if r.layout.RowsPerImage == 0 {
		return r.size.Height
	}
	return r.layout.RowsPerImage
}

// validate checks the region against the texture and a buffer of bufLen
// bytes. Command copies require aligned rows; queue writes do not.
func (r region) validate(t *Texture, bufLen uint64, aligned bool) error {
	d := t.desc.Size
	if r.origin.X+r.size.Width > d.Width || r.origin.Y+r.size.Height > d.Height ||
		r.origin.Z+r.layers() > d.DepthOrArrayLayers {
		return fmt.Errorf("hostgpu: copy %dx%dx%d at (%d,%d,%d) exceeds texture %dx%dx%d",
			r.size.Width, r.size.Height, r.layers(), r.origin.X, r.origin.Y, r.origin.Z,
			d.Width, d.Height, d.DepthOrArrayLayers)
	}
	row := uint64(r.size.Width) * uint64(t.bpp)
	multiRow := r.size.Height > 1 || r.layers() > 1
	if multiRow {
		if uint64(r.layout.BytesPerRow) < row {
			return fmt.Errorf("hostgpu: bytes per row %d below row size %d", r.layout.BytesPerRow, row)
		}
		if aligned && r.layout.BytesPerRow%CopyRowAlignment != 0 {
			return fmt.Errorf("hostgpu: bytes per row %d not a multiple of %d", r.layout.BytesPerRow, CopyRowAlignment)
		}
		if r.rowsPerImage() < r.size.Height {
			return fmt.Errorf("hostgpu: rows per image %d below height %d", r.rowsPerImage(), r.size.Height)
		}
	}
	if r.size.Width == 0 || r.size.Height == 0 {
		return nil
	}
	bpr := uint64(r.layout.BytesPerRow)
	last := r.layout.Offset +
		uint64(r.layers()-1)*uint64(r.rowsPerImage())*bpr +
		uint64(r.size.Height-1)*bpr + row
	if last > bufLen {
		return fmt.Errorf("hostgpu: copy needs %d buffer bytes, have %d", last, bufLen)
	}
	return nil
}

func (r region) each(t *Texture, fn func(buf, tex uint64, n uint64)) {
	row := uint64(r.size.Width) * uint64(t.bpp)
	bpr := uint64(r.layout.BytesPerRow)
	for z := uint32(0); z < r.layers(); z++ {
		for y := uint32(0); y < r.size.Height; y++ {
			buf := r.layout.Offset + (uint64(z)*uint64(r.rowsPerImage())+uint64(y))*bpr
			tex := uint64(r.origin.Z+z)*t.layerBytes() +
				uint64(r.origin.Y+y)*t.rowBytes() +
				uint64(r.origin.X)*uint64(t.bpp)
			fn(buf, tex, row)
		}
	}
}

func (r region) textureToBuffer(t *Texture, dst []byte) {
	r.each(t, func(buf, tex, n uint64) { copy(dst[buf:buf+n], t.data[tex:tex+n]) })
}

func (r region) bufferToTexture(src []byte, t *Texture) {
	r.each(t, func(buf, tex, n uint64) { copy(t.data[tex:tex+n], src[buf:buf+n]) })
}
