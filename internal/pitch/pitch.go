// Package pitch computes padded row strides for buffer/texture copies.
//
// Readback and upload must agree on the staging buffer layout byte for byte,
// so both sides derive it from the functions here.
package pitch

import "math"

// CopyAlignment is the BytesPerRow alignment WebGPU (and DX12) require for
// buffer<->texture copies.
const CopyAlignment = 256

// MaxStride is the largest stride a copy can describe; BytesPerRow is 32 bits.
const MaxStride = math.MaxUint32

// Stride returns the padded row stride for a row of width pixels of bpp bytes,
// rounded up to a multiple of alignment. It is computed in 64 bits and never
// wraps.
//
// An alignment of 0 or 1 means no padding.
func Stride(width, bpp, alignment uint32) uint64 {
	row := uint64(width) * uint64(bpp)
	if alignment <= 1 {
		return row
	}
	a := uint64(alignment)
	if a&(a-1) == 0 {
		return (row + a - 1) &^ (a - 1)
	}
	return (row + a - 1) / a * a
}

// Fits reports whether the padded stride fits in a copy's BytesPerRow.
func Fits(width, bpp, alignment uint32) bool {
	return Stride(width, bpp, alignment) <= MaxStride
}

// BufferSize returns the size in bytes of a staging buffer holding height
// rows of the given stride.
func BufferSize(stride uint64, height uint32) uint64 {
	return stride * uint64(height)
}

// Layout describes a padded host image.
type Layout struct {
	Width  uint32
	Height uint32
	BPP    uint32
	Stride uint64
}

// NewLayout returns the padded layout of a width x height image.
func NewLayout(width, height, bpp, alignment uint32) Layout {
	return Layout{
		Width:  width,
		Height: height,
		BPP:    bpp,
		Stride: Stride(width, bpp, alignment),
	}
}

// RowBytes returns the unpadded byte count of one row.
func (l Layout) RowBytes() uint64 { return uint64(l.Width) * uint64(l.BPP) }

// Size returns the total padded size in bytes.
func (l Layout) Size() uint64 { return BufferSize(l.Stride, l.Height) }

// Padding returns the number of pad bytes at the end of each row.
func (l Layout) Padding() uint64 { return l.Stride - l.RowBytes() }
