package denoise

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/internal/pixel"
	"github.com/gogpu/denoise/internal/transfer"
)

// DefaultTextureUsage is the usage CreateTexture applies when TextureInfo.Usage is zero.
const DefaultTextureUsage = gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding

// TextureInfo describes a texture the denoiser reads or writes.
type TextureInfo struct {
	Label  string
	Width  uint32
	Height uint32

	// DepthOrArrayLayers must be 1 for denoising. Zero is treated as 1.
	DepthOrArrayLayers uint32

	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
}

// Texture is a HAL texture together with the description the denoiser needs.
// HAL textures carry no queryable size or format, so the caller supplies them.
type Texture struct {
	raw    hal.Texture
	info   TextureInfo
	device hal.Device // non-nil when the texture was created by CreateTexture
}

// WrapTexture describes an existing texture. The caller keeps ownership;
// Destroy on a wrapped texture does nothing.
func WrapTexture(raw hal.Texture, info TextureInfo) *Texture {
	if info.DepthOrArrayLayers == 0 {
		info.DepthOrArrayLayers = 1
	}
	return &Texture{raw: raw, info: info}
}

// CreateTexture allocates a 2D texture on device. A zero Usage means
// DefaultTextureUsage.
func CreateTexture(device hal.Device, info TextureInfo) (*Texture, error) {
	if device == nil {
		return nil, errors.New("denoise: nil device")
	}
	if info.Usage == 0 {
		info.Usage = DefaultTextureUsage
	}
	if info.DepthOrArrayLayers == 0 {
		info.DepthOrArrayLayers = 1
	}
	raw, err := device.CreateTexture(&hal.TextureDescriptor{
		Label: info.Label,
		Size: hal.Extent3D{
			Width:              info.Width,
			Height:             info.Height,
			DepthOrArrayLayers: info.DepthOrArrayLayers,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        info.Format,
		Usage:         info.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("denoise: create texture %q: %w", info.Label, err)
	}
	return &Texture{raw: raw, info: info, device: device}, nil
}

// Raw returns the underlying HAL texture.
func (t *Texture) Raw() hal.Texture { return t.raw }

// Info returns the texture description.
func (t *Texture) Info() TextureInfo { return t.info }

// Frame returns the frame descriptor for t, or a configuration error when the
// texture cannot be denoised.
func (t *Texture) Frame() (FrameDescriptor, error) {
	if t.info.DepthOrArrayLayers != 1 {
		return FrameDescriptor{}, configError(fmt.Errorf("%w: %d layers", ErrInvalidDimensions, t.info.DepthOrArrayLayers))
	}
	format, err := pixel.FromTextureFormat(t.info.Format)
	if err != nil {
		return FrameDescriptor{}, configError(err)
	}
	frame := FrameDescriptor{Width: t.info.Width, Height: t.info.Height, Format: format}
	if err := frame.Validate(); err != nil {
		return FrameDescriptor{}, configError(err)
	}
	return frame, nil
}

// Destroy releases a texture created by CreateTexture.
func (t *Texture) Destroy() {
	if t.device != nil && t.raw != nil {
		t.device.DestroyTexture(t.raw)
		t.raw = nil
	}
}

// target is the transfer view of t. The texture rests in its binding usage
// between transfers, if it has one.
func (t *Texture) target() transfer.Target {
	var resting gputypes.TextureUsage
	switch {
	case t.info.Usage.Contains(gputypes.TextureUsageTextureBinding):
		resting = gputypes.TextureUsageTextureBinding
	case t.info.Usage.Contains(gputypes.TextureUsageStorageBinding):
		resting = gputypes.TextureUsageStorageBinding
	}
	return transfer.Target{Texture: t.raw, Usage: resting}
}
