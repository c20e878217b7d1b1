package denoise

import "github.com/gogpu/denoise/internal/pixel"

// PixelFormat is a texture format the denoiser can read and write.
type PixelFormat = pixel.Format

// Supported pixel formats.
const (
	FormatRGBA16Float = pixel.FormatRGBA16Float
	FormatRGBA32Float = pixel.FormatRGBA32Float
)

// FrameDescriptor is the width, height and format of one texture.
type FrameDescriptor = pixel.Frame
