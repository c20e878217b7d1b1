// Package pixel describes the texture pixel formats the denoise pipeline
// accepts and the frame descriptor passed between its stages.
package pixel

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/denoise/internal/pitch"
)

// Errors returned by frame validation.
var (
	// ErrUnsupportedFormat is returned for any format other than RGBA16Float and RGBA32Float.
	ErrUnsupportedFormat = errors.New("denoise: unsupported pixel format")

	// ErrInvalidDimensions is returned for zero-sized or layered frames and
	// for rows too wide for a copy stride.
	ErrInvalidDimensions = errors.New("denoise: invalid dimensions")
)

// Format is a texture pixel format supported by the pipeline.
type Format uint8

const (
	// FormatInvalid is the zero value and never valid.
	FormatInvalid Format = iota

	// FormatRGBA16Float is four IEEE 754 binary16 channels, 8 bytes per pixel.
	FormatRGBA16Float

	// FormatRGBA32Float is four IEEE 754 binary32 channels, 16 bytes per pixel.
	FormatRGBA32Float
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatRGBA16Float:
		return "RGBA16Float"
	case FormatRGBA32Float:
		return "RGBA32Float"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f == FormatRGBA16Float || f == FormatRGBA32Float
}

// BytesPerPixel returns the size of one pixel, or 0 for an invalid format.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// BytesPerChannel returns the size of one channel, or 0 for an invalid format.
func (f Format) BytesPerChannel() uint32 {
	return f.BytesPerPixel() / 4
}

// TextureFormat returns the matching WebGPU texture format.
func (f Format) TextureFormat() gputypes.TextureFormat {
	switch f {
	case FormatRGBA16Float:
		return gputypes.TextureFormatRGBA16Float
	case FormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float
	default:
		return gputypes.TextureFormatUndefined
	}
}

// FromTextureFormat maps a WebGPU texture format onto a supported Format.
func FromTextureFormat(tf gputypes.TextureFormat) (Format, error) {
	switch tf {
	case gputypes.TextureFormatRGBA16Float:
		return FormatRGBA16Float, nil
	case gputypes.TextureFormatRGBA32Float:
		return FormatRGBA32Float, nil
	default:
		return FormatInvalid, fmt.Errorf("%w: %v", ErrUnsupportedFormat, tf)
	}
}

// Frame describes one image flowing through the pipeline.
// It is immutable for the duration of a denoise call.
type Frame struct {
	Width  uint32
	Height uint32
	Format Format
}

// Validate checks that the frame is non-empty, uses a supported format and
// has a padded row stride that fits a copy at pitch.CopyAlignment.
func (f Frame) Validate() error {
	return f.ValidateAligned(pitch.CopyAlignment)
}

// ValidateAligned is Validate for a custom copy alignment.
func (f Frame) ValidateAligned(alignment uint32) error {
	if !f.Format.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f.Format)
	}
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, f.Width, f.Height)
	}
	if !pitch.Fits(f.Width, f.Format.BytesPerPixel(), alignment) {
		return fmt.Errorf("%w: %d pixel rows of %v exceed the %d byte copy stride",
			ErrInvalidDimensions, f.Width, f.Format, uint64(pitch.MaxStride))
	}
	return nil
}

// Pixels returns Width*Height.
func (f Frame) Pixels() int {
	return int(f.Width) * int(f.Height)
}

// PlaneLen returns the length of the compact RGB plane for this frame.
func (f Frame) PlaneLen() int {
	return f.Pixels() * 3
}

// SameSize reports whether two frames have identical dimensions.
func (f Frame) SameSize(o Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}

// String returns e.g. "640x480 RGBA16Float".
func (f Frame) String() string {
	return fmt.Sprintf("%dx%d %v", f.Width, f.Height, f.Format)
}
