package color

import "math"

// encodeLUT maps linear [0, 1] to sRGB bytes with 12-bit input precision,
// which is more than 8-bit output needs.
var encodeLUT [4096]uint8

func init() {
	for i := range encodeLUT {
		l := float64(i) / 4095
		var s float64
		if l <= 0.0031308 {
			s = l * 12.92
		} else {
			s = 1.055*math.Pow(l, 1.0/2.4) - 0.055
		}
		encodeLUT[i] = uint8(min(max(s*255+0.5, 0), 255))
	}
}

// Encode8 converts a linear value to an sRGB byte. Input is clamped to [0, 1].
//
// Example:
//
//	s := Encode8(0.5) // 188, not 128
func Encode8(l float32) uint8 {
	if !(l > 0) {
		return 0
	}
	if l > 1 {
		l = 1
	}
	return encodeLUT[int(l*4095+0.5)]
}
