// Package parallel splits image rows into bands and runs them on a fixed set
// of worker goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a fixed set of goroutines with one queue each.
//
// Work is dealt round-robin onto the queues. An idle worker steals from the
// other queues before blocking, which evens out bands that take longer than
// others (edge rows, large filter radii).
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// inflight is held shared by Run and exclusively by Close, so done is
	// never closed while a Run is still dealing work onto the queues.
	inflight sync.RWMutex
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	return p
}

func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case fn := <-own:
			fn()
			continue
		case <-p.done:
			p.drain(own)
			return
		default:
		}
		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}
		select {
		case fn := <-own:
			fn()
		case <-p.done:
			p.drain(own)
			return
		}
	}
}

func (p *WorkerPool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// Run executes every task and waits for them. Tasks not yet started when
// ctx is done are skipped and Run returns ctx.Err(). After Close, Run
// executes the tasks on the calling goroutine.
//
// Tasks must not call Run or Close on the same pool.
func (p *WorkerPool) Run(ctx context.Context, tasks []func()) error {
	if len(tasks) == 0 {
		return ctx.Err()
	}
	p.inflight.RLock()
	defer p.inflight.RUnlock()
	if !p.running.Load() {
		for _, fn := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn()
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, fn := range tasks {
		wrapped := func() {
			defer wg.Done()
			if ctx.Err() == nil {
				fn()
			}
		}
		p.queues[i%p.workers] <- wrapped
	}
	wg.Wait()
	return ctx.Err()
}

// Rows splits [0, height) into bands of at least minRows rows and calls fn
// for each band in parallel.
func (p *WorkerPool) Rows(ctx context.Context, height, minRows int, fn func(y0, y1 int)) error {
	bands := Bands(height, p.workers*4, minRows)
	tasks := make([]func(), len(bands))
	for i, b := range bands {
		tasks[i] = func() { fn(b.Y0, b.Y1) }
	}
	return p.Run(ctx, tasks)
}

// Close waits for in-flight Run calls, then stops the workers. Run calls
// that start after Close execute inline.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.inflight.Lock()
	close(p.done)
	p.inflight.Unlock()
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether Close has not been called.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Band is a half-open row range.
type Band struct {
	Y0, Y1 int
}

// Bands splits height rows into at most parts contiguous bands of at least
// minRows rows each (the last band may be shorter only when height is).
// Band sizes differ by at most one row.
func Bands(height, parts, minRows int) []Band {
	if height <= 0 {
		return nil
	}
	minRows = max(minRows, 1)
	parts = min(max(parts, 1), max(height/minRows, 1))

	bands := make([]Band, 0, parts)
	base, extra := height/parts, height%parts
	y := 0
	for i := range parts {
		n := base
		if i < extra {
			n++
		}
		bands = append(bands, Band{Y0: y, Y1: y + n})
		y += n
	}
	return bands
}
