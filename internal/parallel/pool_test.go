package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool
// =============================================================================

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 4, 4},
		{"zero uses GOMAXPROCS", 0, runtime.GOMAXPROCS(0)},
		{"negative uses GOMAXPROCS", -3, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWorkerPool(tt.workers)
			defer p.Close()
			if p.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", p.Workers(), tt.want)
			}
			if !p.IsRunning() {
				t.Error("pool not running after creation")
			}
		})
	}
}

func TestRunExecutesAll(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	var n atomic.Int64
	tasks := make([]func(), 200)
	for i := range tasks {
		tasks[i] = func() { n.Add(1) }
	}
	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	if n.Load() != 200 {
		t.Errorf("executed %d tasks, want 200", n.Load())
	}
}

func TestRunCanceled(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var n atomic.Int64
	tasks := []func(){func() { n.Add(1) }, func() { n.Add(1) }}
	if err := p.Run(ctx, tasks); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if n.Load() != 0 {
		t.Errorf("%d tasks ran after cancellation", n.Load())
	}
}

func TestRunAfterClose(t *testing.T) {
	p := NewWorkerPool(2)
	p.Close()
	p.Close()
	if p.IsRunning() {
		t.Error("IsRunning after Close")
	}
	ran := false
	if err := p.Run(context.Background(), []func(){func() { ran = true }}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("Run after Close did not execute inline")
	}
}

func TestCloseWaitsForRun(t *testing.T) {
	p := NewWorkerPool(2)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var ran atomic.Int32
	tasks := make([]func(), 16)
	for i := range tasks {
		tasks[i] = func() {
			once.Do(func() { close(started) })
			<-release
			ran.Add(1)
		}
	}

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background(), tasks) }()
	<-started

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while Run was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	<-closed
	if ran.Load() != 16 {
		t.Errorf("ran = %d, want 16", ran.Load())
	}
}

func TestRunRacingClose(t *testing.T) {
	for range 500 {
		p := NewWorkerPool(1)
		tasks := make([]func(), 64)
		var ran atomic.Int32
		for i := range tasks {
			tasks[i] = func() { ran.Add(1) }
		}
		runDone := make(chan error, 1)
		go func() { runDone <- p.Run(context.Background(), tasks) }()
		p.Close()

		select {
		case err := <-runDone:
			if err != nil {
				t.Fatalf("Run() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run hung after Close")
		}
		if ran.Load() != 64 {
			t.Fatalf("ran = %d, want 64", ran.Load())
		}
	}
}

func TestRunConcurrentCallers(t *testing.T) {
	p := NewWorkerPool(3)
	defer p.Close()

	var total atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks := make([]func(), 50)
			for i := range tasks {
				tasks[i] = func() { total.Add(1) }
			}
			_ = p.Run(context.Background(), tasks)
		}()
	}
	wg.Wait()
	if total.Load() != 400 {
		t.Errorf("total = %d, want 400", total.Load())
	}
}

func TestRowsCoversEveryRowOnce(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	const height = 97
	var hits [height]atomic.Int32
	err := p.Rows(context.Background(), height, 4, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			hits[y].Add(1)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	for y := range hits {
		if hits[y].Load() != 1 {
			t.Fatalf("row %d visited %d times", y, hits[y].Load())
		}
	}
}

// =============================================================================
// Bands
// =============================================================================

func TestBands(t *testing.T) {
	tests := []struct {
		name                  string
		height, parts, minRow int
		wantBands             int
	}{
		{"empty", 0, 4, 1, 0},
		{"fewer rows than parts", 3, 8, 1, 3},
		{"even split", 16, 4, 1, 4},
		{"uneven split", 10, 3, 1, 3},
		{"min rows limits parts", 10, 8, 4, 2},
		{"single band", 5, 1, 1, 1},
		{"min larger than height", 3, 4, 16, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bands := Bands(tt.height, tt.parts, tt.minRow)
			if len(bands) != tt.wantBands {
				t.Fatalf("len(Bands) = %d, want %d", len(bands), tt.wantBands)
			}
			y := 0
			lo, hi := tt.height, 0
			for _, b := range bands {
				if b.Y0 != y {
					t.Fatalf("band starts at %d, want %d", b.Y0, y)
				}
				n := b.Y1 - b.Y0
				lo, hi = min(lo, n), max(hi, n)
				y = b.Y1
			}
			if y != tt.height {
				t.Errorf("bands cover %d rows, want %d", y, tt.height)
			}
			if len(bands) > 0 && hi-lo > 1 {
				t.Errorf("band sizes range %d..%d", lo, hi)
			}
		})
	}
}

func BenchmarkRows(b *testing.B) {
	p := NewWorkerPool(0)
	defer p.Close()
	row := make([]float32, 1920*3)
	b.ResetTimer()
	for range b.N {
		_ = p.Rows(context.Background(), 1080, 8, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				for i := range row {
					_ = row[i] * float32(y)
				}
			}
		})
	}
}
