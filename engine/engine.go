// Package engine defines the denoising engine the pipeline drives.
//
// An Engine opens Devices; a Device creates Filters. A Filter is configured
// by binding float images to roles and setting named options, then
// committed and executed, synchronously or with a pollable Completion.
// Errors carry an ErrorCode and message and are also retained on the
// Device until LastError takes them.
//
// The pure Go implementation lives in engine/cpu; engine/enginetest has
// deterministic stubs.
package engine

import (
	"context"
	"fmt"
)

// DeviceKind selects the engine backend.
type DeviceKind int

const (
	DeviceDefault DeviceKind = iota
	DeviceCPU
	DeviceSYCL
	DeviceCUDA
	DeviceHIP
	DeviceMetal
)

// String returns the device kind name.
func (k DeviceKind) String() string {
	switch k {
	case DeviceDefault:
		return "Default"
	case DeviceCPU:
		return "CPU"
	case DeviceSYCL:
		return "SYCL"
	case DeviceCUDA:
		return "CUDA"
	case DeviceHIP:
		return "HIP"
	case DeviceMetal:
		return "Metal"
	default:
		return fmt.Sprintf("DeviceKind(%d)", int(k))
	}
}

// ParseDeviceKind returns the kind named s, case-sensitively as printed by String.
func ParseDeviceKind(s string) (DeviceKind, error) {
	for k := DeviceDefault; k <= DeviceMetal; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("engine: unknown device kind %q", s)
}

// FilterKind names a filter type.
type FilterKind string

const (
	// FilterRT denoises ray traced images, optionally guided by albedo and normal.
	FilterRT FilterKind = "RT"
	// FilterRTLightmap denoises lightmaps. It takes no auxiliary images.
	FilterRTLightmap FilterKind = "RTLightmap"
)

// Valid reports whether k is a known filter kind.
func (k FilterKind) Valid() bool {
	return k == FilterRT || k == FilterRTLightmap
}

// ImageRole is the slot an image is bound to.
type ImageRole uint8

const (
	RoleColor ImageRole = iota
	RoleAlbedo
	RoleNormal
	RoleOutput
)

// String returns the role name used by the engine.
func (r ImageRole) String() string {
	switch r {
	case RoleColor:
		return "color"
	case RoleAlbedo:
		return "albedo"
	case RoleNormal:
		return "normal"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("ImageRole(%d)", int(r))
	}
}

// Format is the element layout of a bound image.
type Format uint8

const (
	FormatUndefined Format = iota
	// FormatFloat3 is three float32 channels per pixel.
	FormatFloat3
)

// Quality trades speed for quality. Values match the engine's numbering.
type Quality int

const (
	QualityDefault  Quality = 0
	QualityFast     Quality = 4
	QualityBalanced Quality = 5
	QualityHigh     Quality = 6
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityDefault:
		return "Default"
	case QualityFast:
		return "Fast"
	case QualityBalanced:
		return "Balanced"
	case QualityHigh:
		return "High"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

// Valid reports whether q is a known quality.
func (q Quality) Valid() bool {
	switch q {
	case QualityDefault, QualityFast, QualityBalanced, QualityHigh:
		return true
	}
	return false
}

// ParseQuality returns the quality named s (case-sensitive, as printed by String).
func ParseQuality(s string) (Quality, error) {
	for _, q := range []Quality{QualityDefault, QualityFast, QualityBalanced, QualityHigh} {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("engine: unknown quality %q", s)
}

// Option names understood by filters.
const (
	OptionHDR         = "hdr"
	OptionSRGB        = "srgb"
	OptionCleanAux    = "cleanAux"
	OptionInputScale  = "inputScale"
	OptionQuality     = "quality"
	OptionDirectional = "directional"
)

// PhysicalDevice describes a device the engine can open.
type PhysicalDevice struct {
	ID   int
	Kind DeviceKind
	Name string
}

// Engine opens devices.
type Engine interface {
	NewDevice(kind DeviceKind) (Device, error)
	PhysicalDevices() []PhysicalDevice
}

// Device owns filters and the last error raised by any of them.
type Device interface {
	Kind() DeviceKind
	NewFilter(kind FilterKind) (Filter, error)

	// LastError returns and clears the oldest unreported error, or nil.
	LastError() *Error

	Close() error
}

// Filter is one configured denoising operation.
//
// Images are bound by reference: the engine reads color, albedo and normal
// and writes output during execution. Output may alias color.
type Filter interface {
	// SetImage binds data to role. rowStride is the byte distance between
	// rows; zero means tightly packed.
	SetImage(role ImageRole, data []float32, format Format, width, height, rowStride int) error
	UnsetImage(role ImageRole)

	SetBool(name string, v bool)
	SetInt(name string, v int)
	SetFloat(name string, v float32)
	GetBool(name string) bool
	GetInt(name string) int
	GetFloat(name string) float32

	// Commit validates the bound images and options.
	Commit() error

	// Execute runs the filter and returns when output is written.
	Execute(ctx context.Context) error

	// ExecuteAsync starts the filter and returns a handle to poll.
	ExecuteAsync(ctx context.Context) (Completion, error)

	Close() error
}

// Completion reports the outcome of an asynchronous execution.
type Completion interface {
	Poll() (done bool, err error)
}
