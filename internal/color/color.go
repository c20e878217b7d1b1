// Package color maps scene-linear HDR values to 8-bit sRGB for previews.
//
// Denoised frames stay in linear float; only previews are tone mapped.
// An Operator compresses [0, inf) into [0, 1], then the sRGB transfer
// curve is applied through a lookup table.
package color

import (
	"fmt"
	"image"
	stdcolor "image/color"
	"math"
)

// Operator selects how linear values above 1 are compressed.
type Operator uint8

const (
	// OperatorClamp clips values to [0, 1].
	OperatorClamp Operator = iota

	// OperatorReinhard maps v to v/(1+v).
	OperatorReinhard

	// OperatorACES uses the Narkowicz fit of the ACES filmic curve.
	OperatorACES
)

// String returns the operator name.
func (o Operator) String() string {
	switch o {
	case OperatorClamp:
		return "clamp"
	case OperatorReinhard:
		return "reinhard"
	case OperatorACES:
		return "aces"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// ParseOperator returns the operator named s.
func ParseOperator(s string) (Operator, error) {
	for _, o := range []Operator{OperatorClamp, OperatorReinhard, OperatorACES} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("color: unknown tone map operator %q", s)
}

// Apply compresses one linear channel value. NaN and negative values map to 0.
func (o Operator) Apply(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	switch o {
	case OperatorReinhard:
		return v / (1 + v)
	case OperatorACES:
		const a, b, c, d, e = 2.51, 0.03, 2.43, 0.59, 0.14
		return clamp01((v * (a*v + b)) / (v*(c*v+d) + e))
	default:
		return clamp01(v)
	}
}

// SRGBToLinear converts an sRGB component in [0, 1] to linear.
func SRGBToLinear(s float32) float32 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return float32(math.Pow(float64((s+0.055)/1.055), 2.4))
}

// LinearToSRGB converts a linear component in [0, 1] to sRGB.
func LinearToSRGB(l float32) float32 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*float32(math.Pow(float64(l), 1.0/2.4)) - 0.055
}

// Mapper converts linear RGBA float pixels to 8-bit sRGB.
type Mapper struct {
	Operator Operator

	// Exposure is in stops; each stop doubles the input.
	Exposure float32
}

// Pixel maps one linear RGBA pixel. Alpha is clamped, never tone mapped
// or gamma encoded.
func (m Mapper) Pixel(r, g, b, a float32) stdcolor.RGBA {
	k := float32(math.Exp2(float64(m.Exposure)))
	return stdcolor.RGBA{
		R: Encode8(m.Operator.Apply(r * k)),
		G: Encode8(m.Operator.Apply(g * k)),
		B: Encode8(m.Operator.Apply(b * k)),
		A: uint8(clamp01(a)*255 + 0.5),
	}
}

// Image maps interleaved RGBA pixels of a w x h image into a new image.RGBA.
func (m Mapper) Image(pix []float32, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 || len(pix) != w*h*4 {
		return nil, fmt.Errorf("color: %d values for a %dx%d image", len(pix), w, h)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			out.SetRGBA(x, y, m.Pixel(pix[i], pix[i+1], pix[i+2], pix[i+3]))
		}
	}
	return out, nil
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
