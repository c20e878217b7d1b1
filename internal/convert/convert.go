// Package convert moves pixels between padded GPU row layouts and the compact
// float32 planes exchanged with the denoise engine.
//
// A compact RGB plane holds width*height*3 float32 values in row-major order
// with no padding. Alpha travels in a separate width*height plane and is
// never handed to the engine.
//
// RGBA16Float channels are widened to float32 on unpack and rounded back to
// binary16 on pack using github.com/mrjoshuak/go-openexr/half. That rounding is
// the only precision loss the converter introduces; a value that came from a
// half channel survives the round trip bit for bit.
package convert

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/denoise/internal/pixel"
	"github.com/mrjoshuak/go-openexr/half"
)

// Converter errors.
var (
	// ErrShortBuffer is returned when a padded buffer cannot hold the frame.
	ErrShortBuffer = errors.New("convert: buffer too small for frame")

	// ErrStrideTooSmall is returned when the row stride is less than one unpadded row.
	ErrStrideTooSmall = errors.New("convert: stride smaller than row")
)

// Unpack decodes a padded buffer into a new RGB plane and alpha plane.
func Unpack(src []byte, frame pixel.Frame, stride uint64) (rgb, alpha []float32, err error) {
	rgb = make([]float32, frame.PlaneLen())
	alpha = make([]float32, frame.Pixels())
	if err := UnpackInto(rgb, alpha, src, frame, stride); err != nil {
		return nil, nil, err
	}
	return rgb, alpha, nil
}

// UnpackInto decodes src into rgb and alpha. A nil alpha discards the alpha
// channel, which is what auxiliary planes use.
//
// Only the first Width*BytesPerPixel bytes of each row are read.
// rgb must hold exactly frame.PlaneLen() values; anything else panics.
func UnpackInto(rgb, alpha []float32, src []byte, frame pixel.Frame, stride uint64) error {
	if err := check(len(src), frame, stride); err != nil {
		return err
	}
	checkPlanes(rgb, alpha, frame)

	w := int(frame.Width)
	rowBytes := w * int(frame.Format.BytesPerPixel())
	row := make([]float32, w*4)
	for y := 0; y < int(frame.Height); y++ {
		off := y * int(stride)
		decodeRow(row, src[off:off+rowBytes], frame.Format)
		base := y * w
		for x := 0; x < w; x++ {
			i := (base + x) * 3
			j := x * 4
			rgb[i] = row[j]
			rgb[i+1] = row[j+1]
			rgb[i+2] = row[j+2]
			if alpha != nil {
				alpha[base+x] = row[j+3]
			}
		}
	}
	return nil
}

// Pack encodes an RGB plane and alpha plane into a new zero-padded buffer of
// frame.Height*stride bytes.
func Pack(rgb, alpha []float32, frame pixel.Frame, stride uint64) ([]byte, error) {
	if !frame.Format.Valid() {
		return nil, fmt.Errorf("%w: %v", pixel.ErrUnsupportedFormat, frame.Format)
	}
	dst := make([]byte, int(stride)*int(frame.Height))
	if err := PackInto(dst, rgb, alpha, frame, stride); err != nil {
		return nil, err
	}
	return dst, nil
}

// PackInto encodes rgb and alpha into dst, interleaving RGBA and zero-filling
// the pad bytes of every row. A nil alpha writes 1.
func PackInto(dst []byte, rgb, alpha []float32, frame pixel.Frame, stride uint64) error {
	if err := check(len(dst), frame, stride); err != nil {
		return err
	}
	checkPlanes(rgb, alpha, frame)

	w := int(frame.Width)
	rowBytes := w * int(frame.Format.BytesPerPixel())
	row := make([]float32, w*4)
	for y := 0; y < int(frame.Height); y++ {
		base := y * w
		for x := 0; x < w; x++ {
			i := (base + x) * 3
			j := x * 4
			row[j] = rgb[i]
			row[j+1] = rgb[i+1]
			row[j+2] = rgb[i+2]
			if alpha != nil {
				row[j+3] = alpha[base+x]
			} else {
				row[j+3] = 1
			}
		}
		off := y * int(stride)
		encodeRow(dst[off:off+rowBytes], row, frame.Format)
		clear(dst[off+rowBytes : off+int(stride)])
	}
	return nil
}

// UnpackRGBA decodes a padded buffer into interleaved RGBA float32 pixels.
func UnpackRGBA(dst []float32, src []byte, frame pixel.Frame, stride uint64) error {
	if err := check(len(src), frame, stride); err != nil {
		return err
	}
	if len(dst) != frame.Pixels()*4 {
		panic(fmt.Sprintf("convert: rgba length %d, want %d", len(dst), frame.Pixels()*4))
	}
	w := int(frame.Width)
	rowBytes := w * int(frame.Format.BytesPerPixel())
	for y := 0; y < int(frame.Height); y++ {
		off := y * int(stride)
		decodeRow(dst[y*w*4:(y+1)*w*4], src[off:off+rowBytes], frame.Format)
	}
	return nil
}

// PackRGBA encodes interleaved RGBA float32 pixels into a padded buffer.
func PackRGBA(dst []byte, src []float32, frame pixel.Frame, stride uint64) error {
	if err := check(len(dst), frame, stride); err != nil {
		return err
	}
	if len(src) != frame.Pixels()*4 {
		panic(fmt.Sprintf("convert: rgba length %d, want %d", len(src), frame.Pixels()*4))
	}
	w := int(frame.Width)
	rowBytes := w * int(frame.Format.BytesPerPixel())
	for y := 0; y < int(frame.Height); y++ {
		off := y * int(stride)
		encodeRow(dst[off:off+rowBytes], src[y*w*4:(y+1)*w*4], frame.Format)
		clear(dst[off+rowBytes : off+int(stride)])
	}
	return nil
}

func check(n int, frame pixel.Frame, stride uint64) error {
	if !frame.Format.Valid() {
		return fmt.Errorf("%w: %v", pixel.ErrUnsupportedFormat, frame.Format)
	}
	rowBytes := uint64(frame.Width) * uint64(frame.Format.BytesPerPixel())
	if stride < rowBytes {
		return fmt.Errorf("%w: stride %d < %d", ErrStrideTooSmall, stride, rowBytes)
	}
	if need := stride * uint64(frame.Height); uint64(n) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, n, need)
	}
	return nil
}

func checkPlanes(rgb, alpha []float32, frame pixel.Frame) {
	if len(rgb) != frame.PlaneLen() {
		panic(fmt.Sprintf("convert: rgb plane length %d, want %d", len(rgb), frame.PlaneLen()))
	}
	if alpha != nil && len(alpha) != frame.Pixels() {
		panic(fmt.Sprintf("convert: alpha plane length %d, want %d", len(alpha), frame.Pixels()))
	}
}

// decodeRow widens one unpadded row of little-endian channels into dst.
func decodeRow(dst []float32, src []byte, f pixel.Format) {
	switch f {
	case pixel.FormatRGBA16Float:
		half.ConvertBytesToFloat32(dst, src)
	case pixel.FormatRGBA32Float:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
}

// encodeRow narrows src into one unpadded row of little-endian channels.
func encodeRow(dst []byte, src []float32, f pixel.Format) {
	switch f {
	case pixel.FormatRGBA16Float:
		half.ConvertFloat32ToBytes(dst, src)
	case pixel.FormatRGBA32Float:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
		}
	}
}
