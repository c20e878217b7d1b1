package hostgpu

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Compile-time interface checks.
var (
	_ hal.Device         = (*Device)(nil)
	_ hal.Queue          = (*Queue)(nil)
	_ hal.CommandEncoder = (*CommandEncoder)(nil)
	_ hal.Buffer         = (*Buffer)(nil)
	_ hal.Texture        = (*Texture)(nil)
	_ hal.CommandBuffer  = (*CommandBuffer)(nil)
)

func newTexture(t *testing.T, d *Device, w, h uint32) *Texture {
	t.Helper()
	tex, err := d.CreateTexture(&hal.TextureDescriptor{
		Label:         "test",
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA16Float,
		Usage:         gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	return tex.(*Texture)
}

func newBuffer(t *testing.T, d *Device, size uint64, usage gputypes.BufferUsage) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&hal.BufferDescriptor{Label: "buf", Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	return b.(*Buffer)
}

func copyOut(tex *Texture, stride uint32) hal.BufferTextureCopy {
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: stride, RowsPerImage: tex.Height()},
		TextureBase:  hal.ImageCopyTexture{Texture: tex, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: tex.Width(), Height: tex.Height(), DepthOrArrayLayers: 1},
	}
}

func TestTextureRoundTripThroughBuffers(t *testing.T) {
	d, q := New()
	src := newTexture(t, d, 5, 3)
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i)
	}
	const stride = 256
	read := newBuffer(t, d, stride*3, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)

	enc, err := d.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.BeginEncoding("readback"); err != nil {
		t.Fatal(err)
	}
	enc.CopyTextureToBuffer(src, read, []hal.BufferTextureCopy{copyOut(src, stride)})
	cb, err := enc.EndEncoding()
	if err != nil {
		t.Fatalf("EndEncoding: %v", err)
	}
	idx, err := q.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		t.Fatal(err)
	}
	if got := q.PollCompleted(); got < idx {
		t.Fatalf("PollCompleted = %d, want >= %d", got, idx)
	}

	for y := 0; y < 3; y++ {
		got := read.Bytes()[y*stride : y*stride+40]
		want := src.Bytes()[y*40 : y*40+40]
		if !bytes.Equal(got, want) {
			t.Errorf("row %d mismatch", y)
		}
	}

	dst := newTexture(t, d, 5, 3)
	up := newBuffer(t, d, stride*3, gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	copy(up.Bytes(), read.Bytes())
	enc2, _ := d.CreateCommandEncoder(nil)
	_ = enc2.BeginEncoding("upload")
	enc2.CopyBufferToTexture(up, dst, []hal.BufferTextureCopy{copyOut(dst, stride)})
	cb2, err := enc2.EndEncoding()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit([]hal.CommandBuffer{cb2}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst.Bytes(), src.Bytes()) {
		t.Error("uploaded texture differs from source")
	}
}

func TestCopyValidation(t *testing.T) {
	d, _ := New()
	tex := newTexture(t, d, 5, 3)
	okBuf := newBuffer(t, d, 768, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)

	tests := []struct {
		name   string
		buf    *Buffer
		modify func(*hal.BufferTextureCopy)
	}{
		{"unaligned stride", okBuf, func(c *hal.BufferTextureCopy) { c.BufferLayout.BytesPerRow = 40 }},
		{"stride below row", okBuf, func(c *hal.BufferTextureCopy) { c.BufferLayout.BytesPerRow = 0 }},
		{"region exceeds texture", okBuf, func(c *hal.BufferTextureCopy) { c.TextureBase.Origin.X = 1 }},
		{"buffer too small", newBuffer(t, d, 500, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst), nil},
		{"missing copy usage", newBuffer(t, d, 768, gputypes.BufferUsageMapRead), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := copyOut(tex, 256)
			if tt.modify != nil {
				tt.modify(&c)
			}
			enc, _ := d.CreateCommandEncoder(nil)
			_ = enc.BeginEncoding(tt.name)
			enc.CopyTextureToBuffer(tex, tt.buf, []hal.BufferTextureCopy{c})
			if _, err := enc.EndEncoding(); err == nil {
				t.Error("EndEncoding succeeded, want error")
			}
		})
	}
}

func TestSingleRowNeedsNoAlignment(t *testing.T) {
	d, q := New()
	tex := newTexture(t, d, 3, 1)
	buf := newBuffer(t, d, 24, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	enc, _ := d.CreateCommandEncoder(nil)
	_ = enc.BeginEncoding("row")
	enc.CopyTextureToBuffer(tex, buf, []hal.BufferTextureCopy{copyOut(tex, 0)})
	cb, err := enc.EndEncoding()
	if err != nil {
		t.Fatalf("EndEncoding: %v", err)
	}
	if _, err := q.Submit([]hal.CommandBuffer{cb}); err != nil {
		t.Fatal(err)
	}
}

func TestManualCompletion(t *testing.T) {
	d, q := New()
	q.SetManualCompletion(true)
	tex := newTexture(t, d, 1, 1)
	tex.Bytes()[0] = 7
	buf := newBuffer(t, d, 8, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)

	enc, _ := d.CreateCommandEncoder(nil)
	_ = enc.BeginEncoding("manual")
	enc.CopyTextureToBuffer(tex, buf, []hal.BufferTextureCopy{copyOut(tex, 0)})
	cb, _ := enc.EndEncoding()
	idx, err := q.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		t.Fatal(err)
	}
	if q.PollCompleted() >= idx {
		t.Fatal("submission completed before CompleteNext")
	}
	if buf.Bytes()[0] != 0 {
		t.Fatal("copy ran before completion")
	}
	if q.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", q.Pending())
	}
	if !q.CompleteNext() {
		t.Fatal("CompleteNext = false")
	}
	if q.PollCompleted() != idx || buf.Bytes()[0] != 7 {
		t.Fatal("submission not completed")
	}
	if q.CompleteNext() {
		t.Error("CompleteNext with nothing pending = true")
	}
}

func TestMapBuffer(t *testing.T) {
	d, _ := New()
	buf := newBuffer(t, d, 16, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	buf.Bytes()[3] = 42

	m, err := d.MapBuffer(buf, 0, 16)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	if got := unsafe.Slice((*byte)(m.Ptr), 16)[3]; got != 42 {
		t.Errorf("mapped byte = %d, want 42", got)
	}
	if err := d.UnmapBuffer(buf); err != nil {
		t.Fatal(err)
	}

	if _, err := d.MapBuffer(buf, 8, 16); !errors.Is(err, hal.ErrInvalidMapRange) {
		t.Errorf("out of range map error = %v", err)
	}
	noMap := newBuffer(t, d, 16, gputypes.BufferUsageCopyDst)
	if _, err := d.MapBuffer(noMap, 0, 16); !errors.Is(err, hal.ErrInvalidMapRange) {
		t.Errorf("unmappable buffer error = %v", err)
	}
}

func TestFailMaps(t *testing.T) {
	d, _ := New()
	buf := newBuffer(t, d, 16, gputypes.BufferUsageMapRead)
	d.FailMaps(2, nil)
	for i := 0; i < 2; i++ {
		if _, err := d.MapBuffer(buf, 0, 16); !errors.Is(err, ErrInjectedMapFailure) {
			t.Fatalf("map %d error = %v, want injected failure", i, err)
		}
	}
	if _, err := d.MapBuffer(buf, 0, 16); err != nil {
		t.Fatalf("third map: %v", err)
	}
}

func TestLose(t *testing.T) {
	d, q := New()
	q.SetManualCompletion(true)
	tex := newTexture(t, d, 1, 1)
	buf := newBuffer(t, d, 8, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	enc, _ := d.CreateCommandEncoder(nil)
	_ = enc.BeginEncoding("lost")
	enc.CopyTextureToBuffer(tex, buf, []hal.BufferTextureCopy{copyOut(tex, 0)})
	cb, _ := enc.EndEncoding()
	idx, _ := q.Submit([]hal.CommandBuffer{cb})

	d.Lose()
	if q.CompleteNext() {
		t.Error("submission completed on lost device")
	}
	if q.PollCompleted() >= idx {
		t.Error("PollCompleted advanced on lost device")
	}
	if _, err := d.MapBuffer(buf, 0, 8); !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("MapBuffer error = %v, want ErrDeviceLost", err)
	}
	if _, err := d.CreateBuffer(&hal.BufferDescriptor{Size: 8}); !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("CreateBuffer error = %v, want ErrDeviceLost", err)
	}
	if _, err := q.Submit(nil); !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("Submit error = %v, want ErrDeviceLost", err)
	}
}

func TestStatsAndLiveBuffers(t *testing.T) {
	d, q := New()
	a := newBuffer(t, d, 8, gputypes.BufferUsageMapRead)
	_ = newBuffer(t, d, 8, gputypes.BufferUsageMapRead)
	d.DestroyBuffer(a)
	d.DestroyBuffer(a)
	if _, err := q.Submit(nil); err != nil {
		t.Fatal(err)
	}
	s := d.Stats()
	if s.BuffersCreated != 2 || s.BuffersDestroyed != 1 || s.Submissions != 1 {
		t.Errorf("Stats = %+v", s)
	}
	if d.LiveBuffers() != 1 {
		t.Errorf("LiveBuffers = %d, want 1", d.LiveBuffers())
	}
	if !a.Destroyed() {
		t.Error("destroyed buffer not marked")
	}
}

func TestWriteTexture(t *testing.T) {
	d, q := New()
	tex := newTexture(t, d, 2, 2)
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i + 1)
	}
	err := q.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex},
		data,
		&hal.ImageDataLayout{BytesPerRow: 16, RowsPerImage: 2},
		&hal.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
	)
	if err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}
	if !bytes.Equal(tex.Bytes(), data) {
		t.Error("texture contents differ")
	}
}
