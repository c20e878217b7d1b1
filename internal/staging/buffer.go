// Package staging manages host-visible buffers used for texture readback
// and upload, and a pool that reuses them across calls.
package staging

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Buffer errors.
var (
	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("staging: buffer has been destroyed")

	// ErrBufferInUse is returned when a mapped or pending buffer is handed back to the pool.
	ErrBufferInUse = errors.New("staging: buffer is mapped or has a pending copy")

	// ErrBufferNotMapped is returned when accessing unmapped buffer data.
	ErrBufferNotMapped = errors.New("staging: buffer is not mapped")

	// ErrBufferAlreadyMapped is returned when mapping an already mapped buffer.
	ErrBufferAlreadyMapped = errors.New("staging: buffer is already mapped")

	// ErrInvalidBufferSize is returned for zero-sized requests.
	ErrInvalidBufferSize = errors.New("staging: invalid buffer size")

	// ErrPoolReleased is returned by a pool after Release.
	ErrPoolReleased = errors.New("staging: pool has been released")
)

// Direction tags a buffer with the copy it serves.
type Direction uint8

const (
	// Readback buffers receive texture-to-buffer copies and are mapped for reading.
	Readback Direction = iota
	// Upload buffers are mapped for writing and feed buffer-to-texture copies.
	Upload
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Readback:
		return "Readback"
	case Upload:
		return "Upload"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Usage returns the buffer usage flags for the direction.
func (d Direction) Usage() gputypes.BufferUsage {
	if d == Upload {
		return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	}
	return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
}

// MapState is the mapping state of a buffer.
type MapState int

const (
	// Unmapped means the buffer is idle on the host side.
	Unmapped MapState = iota
	// Pending means a submitted copy touching the buffer has not been observed complete.
	Pending
	// Mapped means the buffer contents are host-visible.
	Mapped
)

// String returns the state name.
func (s MapState) String() string {
	switch s {
	case Unmapped:
		return "Unmapped"
	case Pending:
		return "Pending"
	case Mapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Buffer is a staging buffer.
//
// Lifecycle for readback:
//  1. Get from a Pool
//  2. Record and submit a texture-to-buffer copy, then MarkPending
//  3. Map once the submission is observed complete
//  4. Read Bytes, Unmap, Put back
//
// Upload maps first, writes, unmaps, submits the copy with MarkPending and
// calls Complete once the submission finishes.
type Buffer struct {
	mu sync.Mutex

	raw    hal.Buffer
	device hal.Device
	size   uint64
	dir    Direction

	state      MapState
	submission uint64
	data       []byte
	destroyed  bool

	pooled     bool
	generation uint64
}

func newBuffer(device hal.Device, size uint64, dir Direction, label string) (*Buffer, error) {
	if size == 0 {
		return nil, ErrInvalidBufferSize
	}
	raw, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: dir.Usage(),
	})
	if err != nil {
		return nil, fmt.Errorf("staging: create %v buffer of %d bytes: %w", dir, size, err)
	}
	return &Buffer{raw: raw, device: device, size: size, dir: dir}, nil
}

// Raw returns the underlying hal buffer for copy commands.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Direction returns the direction the buffer was created for.
func (b *Buffer) Direction() Direction { return b.dir }

// Pooled reports whether the buffer returns to its pool on Put.
func (b *Buffer) Pooled() bool { return b.pooled }

// State returns the current mapping state.
func (b *Buffer) State() MapState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Submission returns the index of the last submission that used the buffer.
func (b *Buffer) Submission() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submission
}

// MarkPending records that submission idx copies into or out of the buffer.
func (b *Buffer) MarkPending(idx uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrBufferDestroyed
	}
	if b.state == Mapped {
		return ErrBufferAlreadyMapped
	}
	b.state = Pending
	b.submission = idx
	return nil
}

// Complete records that the pending submission finished without mapping
// the buffer.
func (b *Buffer) Complete() {
	b.mu.Lock()
	if b.state == Pending {
		b.state = Unmapped
	}
	b.mu.Unlock()
}

// Map maps the whole buffer and returns its contents. The caller must have
// observed completion of any pending submission first.
func (b *Buffer) Map() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, ErrBufferDestroyed
	}
	if b.state == Mapped {
		return nil, ErrBufferAlreadyMapped
	}
	m, err := b.device.MapBuffer(b.raw, 0, b.size)
	if err != nil {
		return nil, err
	}
	if m.Ptr == nil {
		return nil, fmt.Errorf("staging: map returned nil pointer")
	}
	b.data = unsafe.Slice((*byte)(m.Ptr), b.size)
	b.state = Mapped
	return b.data, nil
}

// Bytes returns the mapped contents.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Mapped {
		return nil, ErrBufferNotMapped
	}
	return b.data, nil
}

// Unmap ends the mapping. Views returned by Map or Bytes become invalid.
func (b *Buffer) Unmap() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrBufferDestroyed
	}
	if b.state != Mapped {
		return ErrBufferNotMapped
	}
	b.data = nil
	b.state = Unmapped
	return b.device.UnmapBuffer(b.raw)
}

// destroy releases the hal buffer, unmapping it first if needed.
func (b *Buffer) destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	if b.state == Mapped {
		if err := b.device.UnmapBuffer(b.raw); err != nil {
			slogger().Debug("staging: unmap before destroy", "err", err)
		}
	}
	b.data = nil
	b.destroyed = true
	b.device.DestroyBuffer(b.raw)
}
