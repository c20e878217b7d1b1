package staging

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"
)

// Stats counts pool activity.
type Stats struct {
	Hits          int // Get served from the pool
	Misses        int // Get that allocated
	Fresh         int // GetFresh allocations
	Retired       int // buffers sent to Retire
	Invalidations int // calls to Invalidate
	Destroyed     int // buffers destroyed by the pool
	Idle          int // buffers currently held for reuse
}

// Pool reuses staging buffers keyed by (size, direction).
//
// A buffer is only accepted back while unmapped with no pending copy, so a
// buffer handed out by Get is never aliased by another caller. Buffers that
// timed out are retired: they are not reused and are destroyed once their
// submission is known to be complete. Invalidate drops every buffer tied to
// a lost device.
//
// Thread safety: All methods are safe for concurrent use.
type Pool struct {
	mu         sync.Mutex
	device     hal.Device
	buckets    map[poolKey][]*Buffer
	maxSize    int
	generation uint64
	retired    []*Buffer
	released   bool
	stats      Stats
}

type poolKey struct {
	size uint64
	dir  Direction
}

// NewPool creates a pool on device retaining at most maxPerBucket idle
// buffers per key. A maxPerBucket of 0 means unlimited; a negative value
// disables retention so every Put destroys the buffer.
func NewPool(device hal.Device, maxPerBucket int) *Pool {
	return &Pool{
		device:  device,
		buckets: make(map[poolKey][]*Buffer),
		maxSize: maxPerBucket,
	}
}

// Get returns an idle buffer of exactly size bytes for dir, allocating one
// if none is pooled.
func (p *Pool) Get(size uint64, dir Direction) (*Buffer, error) {
	key := poolKey{size: size, dir: dir}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil, ErrPoolReleased
	}
	if bucket := p.buckets[key]; len(bucket) > 0 {
		b := bucket[len(bucket)-1]
		p.buckets[key] = bucket[:len(bucket)-1]
		p.stats.Hits++
		p.mu.Unlock()
		slogger().Debug("staging: pool hit", "size", size, "dir", dir)
		return b, nil
	}
	p.stats.Misses++
	gen := p.generation
	p.mu.Unlock()

	b, err := newBuffer(p.device, size, dir, fmt.Sprintf("staging-%v-%d", dir, size))
	if err != nil {
		return nil, err
	}
	b.pooled = p.maxSize >= 0
	b.generation = gen
	slogger().Debug("staging: allocated", "size", size, "dir", dir)
	return b, nil
}

// GetFresh allocates a buffer that bypasses the pool. Put destroys it.
func (p *Pool) GetFresh(size uint64, dir Direction) (*Buffer, error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil, ErrPoolReleased
	}
	p.stats.Fresh++
	p.mu.Unlock()

	b, err := newBuffer(p.device, size, dir, fmt.Sprintf("staging-fresh-%v-%d", dir, size))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Put hands a buffer back. Pooled buffers of the current generation are
// kept for reuse while the bucket has room; everything else is destroyed.
// A mapped or pending buffer is refused with ErrBufferInUse and stays owned
// by the caller.
func (p *Pool) Put(b *Buffer) error {
	if b == nil {
		return nil
	}
	switch b.State() {
	case Mapped, Pending:
		return ErrBufferInUse
	}

	p.mu.Lock()
	key := poolKey{size: b.size, dir: b.dir}
	bucket := p.buckets[key]
	keep := b.pooled && !p.released && b.generation == p.generation &&
		(p.maxSize == 0 || len(bucket) < p.maxSize)
	if keep {
		p.buckets[key] = append(bucket, b)
		p.mu.Unlock()
		return nil
	}
	p.stats.Destroyed++
	p.mu.Unlock()

	b.destroy()
	return nil
}

// Discard destroys a buffer that must not be reused, such as one whose
// mapping failed. The buffer must have no copy in flight.
func (p *Pool) Discard(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	p.stats.Destroyed++
	p.mu.Unlock()
	b.destroy()
}

// Retire takes a buffer whose copy may still be in flight out of
// circulation. It is destroyed by Collect once the completed submission
// index reaches the buffer's submission.
func (p *Pool) Retire(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	p.stats.Retired++
	released := p.released
	if !released {
		p.retired = append(p.retired, b)
	} else {
		p.stats.Destroyed++
	}
	p.mu.Unlock()

	slogger().Warn("staging: buffer retired", "size", b.size, "dir", b.dir, "submission", b.Submission())
	if released {
		b.destroy()
	}
}

// Collect destroys retired buffers whose submission is at or below completed.
func (p *Pool) Collect(completed uint64) {
	p.mu.Lock()
	var done []*Buffer
	kept := p.retired[:0]
	for _, b := range p.retired {
		if b.Submission() <= completed {
			done = append(done, b)
		} else {
			kept = append(kept, b)
		}
	}
	p.retired = kept
	p.stats.Destroyed += len(done)
	p.mu.Unlock()

	for _, b := range done {
		b.destroy()
	}
}

// Invalidate drops every idle and retired buffer and makes buffers that are
// currently checked out non-reusable. Used after the device is lost.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	p.generation++
	p.stats.Invalidations++
	drop := p.drainLocked()
	p.mu.Unlock()

	slogger().Warn("staging: pool invalidated", "dropped", len(drop))
	for _, b := range drop {
		b.destroy()
	}
}

// Release destroys every idle and retired buffer. The pool is unusable
// afterwards.
func (p *Pool) Release() {
	p.mu.Lock()
	p.released = true
	drop := p.drainLocked()
	p.mu.Unlock()

	for _, b := range drop {
		b.destroy()
	}
}

func (p *Pool) drainLocked() []*Buffer {
	var drop []*Buffer
	for key, bucket := range p.buckets {
		drop = append(drop, bucket...)
		delete(p.buckets, key)
	}
	drop = append(drop, p.retired...)
	p.retired = nil
	p.stats.Destroyed += len(drop)
	return drop
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	for _, bucket := range p.buckets {
		s.Idle += len(bucket)
	}
	return s
}
