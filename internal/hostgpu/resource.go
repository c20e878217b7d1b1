package hostgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Buffer is a hal.Buffer backed by a byte slice.
type Buffer struct {
	noop.Resource
	label     string
	usage     gputypes.BufferUsage
	data      []byte
	mapped    bool
	destroyed bool
}

// Label returns the debug label the buffer was created with.
func (b *Buffer) Label() string { return b.label }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Destroyed reports whether DestroyBuffer was called on b.
func (b *Buffer) Destroyed() bool { return b.destroyed }

// Texture is a hal.Texture whose texels live in a tightly packed byte slice,
// rows of Width*BytesPerPixel bytes, layers stacked after each other.
type Texture struct {
	noop.Texture
	desc      hal.TextureDescriptor
	bpp       uint32
	data      []byte
	destroyed bool
}

// Width returns the texture width in texels.
func (t *Texture) Width() uint32 { return t.desc.Size.Width }

// Height returns the texture height in texels.
func (t *Texture) Height() uint32 { return t.desc.Size.Height }

// Format returns the texture format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() hal.TextureDescriptor { return t.desc }

// BytesPerPixel returns the texel size used for copies.
func (t *Texture) BytesPerPixel() uint32 { return t.bpp }

// Bytes returns the texel data. The slice aliases the texture.
func (t *Texture) Bytes() []byte { return t.data }

// Destroyed reports whether DestroyTexture was called on t.
func (t *Texture) Destroyed() bool { return t.destroyed }

func (t *Texture) rowBytes() uint64 { return uint64(t.desc.Size.Width) * uint64(t.bpp) }

func (t *Texture) layerBytes() uint64 { return t.rowBytes() * uint64(t.desc.Size.Height) }

// CommandBuffer holds the copies recorded by a CommandEncoder.
type CommandBuffer struct {
	noop.Resource
	label string
	ops   []func()
}

// Label returns the label passed to BeginEncoding.
func (c *CommandBuffer) Label() string { return c.label }

// bytesPerPixel returns the texel size of the formats hostgpu can copy.
func bytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA32Float:
		return 16
	case gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatR16Float:
		return 2
	default:
		return 4
	}
}
