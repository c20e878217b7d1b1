// Package transfer moves texture contents between the GPU and host memory
// through pooled staging buffers.
//
// Readback copies a texture into a Readback staging buffer and maps it once
// the copy is observed complete. Upload maps an Upload staging buffer, fills
// it and copies it into a texture. Both derive the staging layout from
// internal/pitch so their buffers agree byte for byte.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/denoise/internal/completion"
	"github.com/gogpu/denoise/internal/pitch"
	"github.com/gogpu/denoise/internal/pixel"
	"github.com/gogpu/denoise/internal/staging"
)

// Transfer errors.
var (
	// ErrDeviceLost is returned when the device is invalidated mid-transfer.
	ErrDeviceLost = errors.New("denoise: device lost")

	// ErrMapFailed is returned when a staging buffer cannot be mapped.
	ErrMapFailed = errors.New("denoise: staging buffer map failed")

	// ErrMapTimeout is returned when a copy is not observed complete in time.
	ErrMapTimeout = errors.New("denoise: staging buffer map timed out")

	// ErrShortData is returned when upload data is smaller than the staging layout.
	ErrShortData = errors.New("denoise: upload data shorter than staging layout")
)

// DefaultMapTimeout bounds each wait for a copy to complete.
const DefaultMapTimeout = 5 * time.Second

// Config holds the settings shared by readback and upload.
type Config struct {
	// Alignment is the BytesPerRow alignment for copies. Zero means pitch.CopyAlignment.
	Alignment uint32

	// MapTimeout bounds each wait for a submitted copy. Zero or less waits forever.
	MapTimeout time.Duration

	// PollInterval is the sleep between completion polls.
	PollInterval time.Duration

	// Clock drives waits. Nil means the real clock.
	Clock completion.Clock
}

// Target is a texture with the usage it rests in between transfers.
// When Usage is non-zero the copy is bracketed by barriers from and back to it.
type Target struct {
	Texture hal.Texture
	Usage   gputypes.TextureUsage
}

// Link is the device, queue and staging pool a Readback and an Upload share.
// Submissions through one Link are serialized.
type Link struct {
	device hal.Device
	queue  hal.Queue
	pool   *staging.Pool
	cfg    Config

	submitMu sync.Mutex
}

// NewLink returns a Link. Zero Config fields take their defaults.
func NewLink(device hal.Device, queue hal.Queue, pool *staging.Pool, cfg Config) *Link {
	if cfg.Alignment == 0 {
		cfg.Alignment = pitch.CopyAlignment
	}
	if cfg.Clock == nil {
		cfg.Clock = completion.RealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = completion.DefaultPollInterval
	}
	return &Link{device: device, queue: queue, pool: pool, cfg: cfg}
}

// Layout returns the staging layout for frame.
func (l *Link) Layout(frame pixel.Frame) pitch.Layout {
	return pitch.NewLayout(frame.Width, frame.Height, frame.Format.BytesPerPixel(), l.cfg.Alignment)
}

// Pool returns the staging pool.
func (l *Link) Pool() *staging.Pool { return l.pool }

// lostReporter is implemented by devices that can report loss without a call failing.
type lostReporter interface {
	Lost() bool
}

func (l *Link) deviceLost() bool {
	lr, ok := l.device.(lostReporter)
	return ok && lr.Lost()
}

// classify maps hal device loss onto ErrDeviceLost and invalidates the pool.
func (l *Link) classify(op string, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) || errors.Is(err, ErrDeviceLost) {
		l.pool.Invalidate()
		slogger().Warn("transfer: device lost", "op", op)
		if errors.Is(err, ErrDeviceLost) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrDeviceLost, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// encode records one copy through record and submits it.
func (l *Link) encode(label string, target Target, during gputypes.TextureUsage, record func(hal.CommandEncoder)) (uint64, error) {
	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	encoder, err := l.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return 0, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return 0, fmt.Errorf("begin encoding: %w", err)
	}

	if target.Usage != 0 {
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: target.Texture,
			Usage:   hal.TextureUsageTransition{OldUsage: target.Usage, NewUsage: during},
		}})
	}
	record(encoder)
	if target.Usage != 0 {
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: target.Texture,
			Usage:   hal.TextureUsageTransition{OldUsage: during, NewUsage: target.Usage},
		}})
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return 0, fmt.Errorf("end encoding: %w", err)
	}
	defer l.device.FreeCommandBuffer(cmdBuf)

	idx, err := l.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	return idx, nil
}

// submission returns a future that completes when the queue reports idx done.
func (l *Link) submission(idx uint64) *completion.Future {
	p := completion.PollerFunc(func() (bool, error) {
		if l.queue.PollCompleted() >= idx {
			return true, nil
		}
		if l.deviceLost() {
			return true, hal.ErrDeviceLost
		}
		return false, nil
	})
	return completion.New(p, l.cfg.Clock, l.cfg.PollInterval)
}

// await waits for buf's pending submission. On timeout or cancellation the
// buffer is retired since the copy may still be running.
func (l *Link) await(ctx context.Context, buf *staging.Buffer) error {
	err := l.submission(buf.Submission()).Await(ctx, l.cfg.MapTimeout)
	switch {
	case err == nil:
		buf.Complete()
		l.pool.Collect(l.queue.PollCompleted())
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		buf.Complete()
		l.pool.Discard(buf)
		return l.classify("wait for copy", err)
	}
	l.pool.Retire(buf)
	if errors.Is(err, completion.ErrTimeout) {
		slogger().Warn("transfer: copy timed out", "submission", buf.Submission(), "timeout", l.cfg.MapTimeout)
		return fmt.Errorf("%w: %w", ErrMapTimeout, err)
	}
	return fmt.Errorf("wait for copy: %w", err)
}

// copyRegion expects a layout already checked with pitch.Fits.
func copyRegion(texture hal.Texture, layout pitch.Layout) []hal.BufferTextureCopy {
	return []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(layout.Stride), RowsPerImage: layout.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: texture, MipLevel: 0, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: layout.Width, Height: layout.Height, DepthOrArrayLayers: 1},
	}}
}
