package hostgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

type submission struct {
	index uint64
	ops   []func()
}

// Queue is an in-memory hal.Queue. Submissions complete immediately unless
// manual completion is enabled, in which case they complete in order through
// CompleteNext and CompleteAll.
type Queue struct {
	noop.Queue

	dev *Device

	mu        sync.Mutex
	submitted uint64
	completed uint64
	manual    bool
	pending   []submission
}

// SetManualCompletion switches between immediate and manual completion.
// Turning manual completion off does not flush pending submissions.
func (q *Queue) SetManualCompletion(manual bool) {
	q.mu.Lock()
	q.manual = manual
	q.mu.Unlock()
}

// Pending returns the number of submissions not yet completed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CompleteNext completes the oldest pending submission and reports whether
// there was one. Nothing completes on a lost device.
func (q *Queue) CompleteNext() bool {
	if q.dev.isLost() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return false
	}
	s := q.pending[0]
	q.pending = q.pending[1:]
	run(s.ops)
	q.completed = s.index
	return true
}

// CompleteAll completes every pending submission.
func (q *Queue) CompleteAll() {
	for q.CompleteNext() {
	}
}

func (q *Queue) submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.submitted)
}

// Submit enqueues the recorded copies of each command buffer and returns
// the submission index.
func (q *Queue) Submit(commandBuffers []hal.CommandBuffer) (uint64, error) {
	if q.dev.isLost() {
		return 0, hal.ErrDeviceLost
	}
	var ops []func()
	for _, cb := range commandBuffers {
		c, ok := cb.(*CommandBuffer)
		if !ok || c == nil {
			return 0, fmt.Errorf("hostgpu: foreign command buffer %T", cb)
		}
		ops = append(ops, c.ops...)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted++
	idx := q.submitted
	if q.manual || len(q.pending) > 0 {
		q.pending = append(q.pending, submission{index: idx, ops: ops})
		return idx, nil
	}
	run(ops)
	q.completed = idx
	return idx, nil
}

// PollCompleted returns the highest completed submission index.
func (q *Queue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// WriteBuffer copies data into buffer at offset.
func (q *Queue) WriteBuffer(buffer hal.Buffer, offset uint64, data []byte) error {
	if q.dev.isLost() {
		return hal.ErrDeviceLost
	}
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return fmt.Errorf("hostgpu: foreign buffer %T", buffer)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("hostgpu: write of %d bytes at %d overflows buffer of %d", len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// WriteTexture copies data laid out as layout into the region of dst.
func (q *Queue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) error {
	if q.dev.isLost() {
		return hal.ErrDeviceLost
	}
	if dst == nil || layout == nil || size == nil {
		return fmt.Errorf("hostgpu: nil write texture argument")
	}
	t, ok := dst.Texture.(*Texture)
	if !ok || t == nil {
		return fmt.Errorf("hostgpu: foreign texture %T", dst.Texture)
	}
	r := region{layout: *layout, origin: dst.Origin, size: *size}
	if err := r.validate(t, uint64(len(data)), false); err != nil {
		return err
	}
	r.bufferToTexture(data, t)
	return nil
}

func run(ops []func()) {
	for _, op := range ops {
		op()
	}
}
