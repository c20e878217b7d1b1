package denoise

import (
	"errors"
	"fmt"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/pixel"
	"github.com/gogpu/denoise/internal/transfer"
)

// Errors returned by Denoiser operations.
var (
	// ErrConfiguration is returned for invalid textures or options. It is
	// detected before any device or engine work and never retried.
	ErrConfiguration = errors.New("denoise: configuration error")

	// ErrUnsupportedFormat is returned for texture formats other than
	// RGBA16Float and RGBA32Float. It also matches ErrConfiguration.
	ErrUnsupportedFormat = pixel.ErrUnsupportedFormat

	// ErrInvalidDimensions is returned for zero-sized or layered textures and
	// for textures whose sizes do not match. It also matches ErrConfiguration.
	ErrInvalidDimensions = pixel.ErrInvalidDimensions

	// ErrDeviceLost is returned when the GPU device is invalidated during a
	// call. Pooled staging buffers are dropped when it occurs.
	ErrDeviceLost = transfer.ErrDeviceLost

	// ErrMapFailed is returned when a staging buffer could not be mapped,
	// after one retry with a freshly allocated buffer.
	ErrMapFailed = transfer.ErrMapFailed

	// ErrMapTimeout is returned when a copy is not observed complete within
	// the map timeout. The output texture is left untouched.
	ErrMapTimeout = transfer.ErrMapTimeout

	// ErrEngineTimeout is returned when asynchronous engine execution does not
	// finish within the engine timeout.
	ErrEngineTimeout = errors.New("denoise: engine execution timed out")

	// ErrClosed is returned by calls on a closed Denoiser.
	ErrClosed = errors.New("denoise: denoiser closed")
)

// EngineError is a failure reported by the denoise engine, surfaced with the
// engine's code and message. Use errors.As to extract it.
type EngineError = engine.Error

// configError marks err as a configuration error while keeping its cause.
func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// configErrorf is configError for a formatted cause.
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
