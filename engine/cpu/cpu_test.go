package cpu

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gogpu/denoise/engine"
)

func newFilter(t *testing.T, kind engine.FilterKind) (*Device, engine.Filter) {
	t.Helper()
	d, err := New(2).NewDevice(engine.DeviceCPU)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	f, err := d.NewFilter(kind)
	if err != nil {
		t.Fatal(err)
	}
	return d.(*Device), f
}

func constant(w, h int, rgb [3]float32) []float32 {
	p := make([]float32, w*h*3)
	for i := range w * h {
		copy(p[3*i:], rgb[:])
	}
	return p
}

func noisy(w, h int, base float32, amp float32, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	p := make([]float32, w*h*3)
	for i := range p {
		p[i] = base + amp*(rng.Float32()*2-1)
	}
	return p
}

func variance(p []float32) float64 {
	var mean float64
	for _, v := range p {
		mean += float64(v)
	}
	mean /= float64(len(p))
	var s float64
	for _, v := range p {
		d := float64(v) - mean
		s += d * d
	}
	return s / float64(len(p))
}

func run(t *testing.T, f engine.Filter, color, out []float32, w, h int) {
	t.Helper()
	if err := f.SetImage(engine.RoleColor, color, engine.FormatFloat3, w, h, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.SetImage(engine.RoleOutput, out, engine.FormatFloat3, w, h, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := f.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// =============================================================================
// Engine and device
// =============================================================================

func TestNewDevice(t *testing.T) {
	e := New(1)
	tests := []struct {
		kind engine.DeviceKind
		ok   bool
	}{
		{engine.DeviceDefault, true},
		{engine.DeviceCPU, true},
		{engine.DeviceCUDA, false},
		{engine.DeviceSYCL, false},
		{engine.DeviceHIP, false},
		{engine.DeviceMetal, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			d, err := e.NewDevice(tt.kind)
			if tt.ok {
				if err != nil {
					t.Fatalf("NewDevice: %v", err)
				}
				if d.Kind() != engine.DeviceCPU {
					t.Errorf("Kind() = %v", d.Kind())
				}
				_ = d.Close()
				return
			}
			if !errors.Is(err, engine.ErrDeviceCreationFailed) || !errors.Is(err, engine.ErrUnsupportedHardware) {
				t.Errorf("err = %v, want device creation failure with UnsupportedHardware", err)
			}
		})
	}
	if devs := e.PhysicalDevices(); len(devs) != 1 || devs[0].Kind != engine.DeviceCPU {
		t.Errorf("PhysicalDevices() = %+v", devs)
	}
}

func TestNewFilterUnknownKind(t *testing.T) {
	d, err := New(1).NewDevice(engine.DeviceDefault)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, err := d.NewFilter("Bilateral"); !errors.Is(err, engine.ErrFilterCreationFailed) {
		t.Fatalf("err = %v, want ErrFilterCreationFailed", err)
	}
	if e := d.LastError(); e == nil || e.Code != engine.CodeInvalidArgument {
		t.Errorf("LastError() = %v, want InvalidArgument", e)
	}
	if d.LastError() != nil {
		t.Error("LastError did not clear")
	}
}

// =============================================================================
// Filtering
// =============================================================================

func TestConstantImageUnchanged(t *testing.T) {
	tests := []struct {
		name string
		hdr  bool
		rgb  [3]float32
	}{
		{"ldr", false, [3]float32{0.2, 0.5, 0.8}},
		{"hdr", true, [3]float32{3, 12, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, f := newFilter(t, engine.FilterRT)
			f.SetBool(engine.OptionHDR, tt.hdr)
			color := constant(9, 7, tt.rgb)
			out := make([]float32, len(color))
			run(t, f, color, out, 9, 7)
			for i, v := range out {
				if d := math.Abs(float64(v - color[i])); d > 1e-4*math.Max(1, float64(color[i])) {
					t.Fatalf("out[%d] = %v, want %v", i, v, color[i])
				}
			}
		})
	}
}

func TestReducesNoise(t *testing.T) {
	for _, q := range []engine.Quality{engine.QualityFast, engine.QualityBalanced, engine.QualityHigh} {
		t.Run(q.String(), func(t *testing.T) {
			_, f := newFilter(t, engine.FilterRT)
			f.SetBool(engine.OptionHDR, false)
			f.SetInt(engine.OptionQuality, int(q))
			color := noisy(32, 32, 0.5, 0.05, 1)
			out := make([]float32, len(color))
			run(t, f, color, out, 32, 32)
			if vin, vout := variance(color), variance(out); vout >= vin/2 {
				t.Errorf("variance %v -> %v, want at least halved", vin, vout)
			}
		})
	}
}

func TestPreservesEdges(t *testing.T) {
	_, f := newFilter(t, engine.FilterRT)
	f.SetBool(engine.OptionHDR, false)
	const w, h = 16, 8
	color := make([]float32, w*h*3)
	for y := range h {
		for x := range w {
			v := float32(0)
			if x >= w/2 {
				v = 1
			}
			i := (y*w + x) * 3
			color[i], color[i+1], color[i+2] = v, v, v
		}
	}
	out := make([]float32, len(color))
	run(t, f, color, out, w, h)
	left, right := out[(4*w+w/2-1)*3], out[(4*w+w/2)*3]
	if left > 0.01 || right < 0.99 {
		t.Errorf("edge blurred: left %v right %v", left, right)
	}
}

func TestInPlace(t *testing.T) {
	_, f1 := newFilter(t, engine.FilterRT)
	_, f2 := newFilter(t, engine.FilterRT)
	color := noisy(12, 10, 0.3, 0.1, 7)
	separate := make([]float32, len(color))
	run(t, f1, color, separate, 12, 10)

	inplace := append([]float32(nil), color...)
	run(t, f2, inplace, inplace, 12, 10)
	for i := range separate {
		if separate[i] != inplace[i] {
			t.Fatalf("in-place result differs at %d: %v vs %v", i, inplace[i], separate[i])
		}
	}
}

func TestStridedImages(t *testing.T) {
	_, f := newFilter(t, engine.FilterRT)
	const w, h, stride = 3, 2, 4 // stride in pixels
	color := make([]float32, stride*3*h)
	out := make([]float32, stride*3*h)
	for i := range out {
		out[i] = -1
	}
	for y := range h {
		for x := range w {
			i := y*stride*3 + x*3
			color[i], color[i+1], color[i+2] = 0.5, 0.5, 0.5
		}
	}
	rs := stride * 3 * 4
	if err := f.SetImage(engine.RoleColor, color, engine.FormatFloat3, w, h, rs); err != nil {
		t.Fatal(err)
	}
	if err := f.SetImage(engine.RoleOutput, out, engine.FormatFloat3, w, h, rs); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := f.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	for y := range h {
		for x := range stride {
			v := out[y*stride*3+x*3]
			if x < w && math.Abs(float64(v)-0.5) > 1e-4 {
				t.Errorf("pixel (%d,%d) = %v, want 0.5", x, y, v)
			}
			if x >= w && v != -1 {
				t.Errorf("padding (%d,%d) overwritten with %v", x, y, v)
			}
		}
	}
}

func TestAuxGuidance(t *testing.T) {
	// The albedo has an edge the color does not: guidance keeps the sides apart.
	const w, h = 16, 8
	color := noisy(w, h, 0.5, 0.05, 3)
	albedo := make([]float32, w*h*3)
	normal := constant(w, h, [3]float32{0, 0, 1})
	for y := range h {
		for x := w / 2; x < w; x++ {
			i := (y*w + x) * 3
			albedo[i], albedo[i+1], albedo[i+2] = 1, 1, 1
		}
	}

	_, f := newFilter(t, engine.FilterRT)
	f.SetBool(engine.OptionHDR, false)
	f.SetBool(engine.OptionCleanAux, true)
	if err := f.SetImage(engine.RoleAlbedo, albedo, engine.FormatFloat3, w, h, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.SetImage(engine.RoleNormal, normal, engine.FormatFloat3, w, h, 0); err != nil {
		t.Fatal(err)
	}
	guided := make([]float32, len(color))
	run(t, f, color, guided, w, h)

	_, plain := newFilter(t, engine.FilterRT)
	plain.SetBool(engine.OptionHDR, false)
	unguided := make([]float32, len(color))
	run(t, plain, color, unguided, w, h)

	same := true
	for i := range guided {
		if guided[i] != unguided[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("albedo and normal had no effect")
	}
}

func TestLightmapRejectsAux(t *testing.T) {
	d, f := newFilter(t, engine.FilterRTLightmap)
	p := make([]float32, 12)
	_ = f.SetImage(engine.RoleColor, p, engine.FormatFloat3, 2, 2, 0)
	_ = f.SetImage(engine.RoleOutput, make([]float32, 12), engine.FormatFloat3, 2, 2, 0)
	_ = f.SetImage(engine.RoleAlbedo, p, engine.FormatFloat3, 2, 2, 0)
	if err := f.Commit(); !errors.Is(err, engine.ErrInvalidOperation) {
		t.Fatalf("Commit = %v, want InvalidOperation", err)
	}
	if d.LastError() == nil {
		t.Error("commit failure not recorded on device")
	}
	f.UnsetImage(engine.RoleAlbedo)
	f.SetBool(engine.OptionDirectional, true)
	if err := f.Commit(); err != nil {
		t.Fatalf("Commit without aux: %v", err)
	}
}

func TestExecuteRequiresCommit(t *testing.T) {
	_, f := newFilter(t, engine.FilterRT)
	_ = f.SetImage(engine.RoleColor, make([]float32, 3), engine.FormatFloat3, 1, 1, 0)
	_ = f.SetImage(engine.RoleOutput, make([]float32, 3), engine.FormatFloat3, 1, 1, 0)
	if err := f.Execute(context.Background()); !errors.Is(err, engine.ErrInvalidOperation) {
		t.Fatalf("Execute = %v, want InvalidOperation", err)
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	f.SetFloat(engine.OptionInputScale, 2)
	if err := f.Execute(context.Background()); !errors.Is(err, engine.ErrInvalidOperation) {
		t.Fatalf("Execute after option change = %v, want InvalidOperation", err)
	}
}

func TestExecuteCanceled(t *testing.T) {
	_, f := newFilter(t, engine.FilterRT)
	color := noisy(8, 8, 0.5, 0.1, 9)
	out := make([]float32, len(color))
	_ = f.SetImage(engine.RoleColor, color, engine.FormatFloat3, 8, 8, 0)
	_ = f.SetImage(engine.RoleOutput, out, engine.FormatFloat3, 8, 8, 0)
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Execute(ctx); !errors.Is(err, engine.ErrCancelled) {
		t.Fatalf("Execute = %v, want Cancelled", err)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatal("canceled execution wrote output")
		}
	}
}

func TestExecuteAsync(t *testing.T) {
	_, f := newFilter(t, engine.FilterRT)
	color := constant(8, 8, [3]float32{0.25, 0.25, 0.25})
	out := make([]float32, len(color))
	_ = f.SetImage(engine.RoleColor, color, engine.FormatFloat3, 8, 8, 0)
	_ = f.SetImage(engine.RoleOutput, out, engine.FormatFloat3, 8, 8, 0)
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	c, err := f.ExecuteAsync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		done, err := c.Poll()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("async execution did not complete")
		}
		time.Sleep(time.Millisecond)
	}
	if math.Abs(float64(out[0])-0.25) > 1e-4 {
		t.Errorf("out[0] = %v, want 0.25", out[0])
	}
}

func TestInputScale(t *testing.T) {
	tests := []struct {
		name string
		s    engine.Settings
		rgb  float32
		want float32
	}{
		{"explicit", engine.Settings{HDR: true, InputScale: 4}, 1, 4},
		{"negative falls back", engine.Settings{HDR: true, InputScale: -1}, 1, 1},
		{"ldr auto", engine.Settings{InputScale: float32(math.NaN())}, 1, 1},
		{"hdr auto", engine.Settings{HDR: true, InputScale: float32(math.NaN())}, 1.8, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &plan{settings: tt.s, kind: engine.FilterRT}
			got := p.inputScale(constant(4, 4, [3]float32{tt.rgb, tt.rgb, tt.rgb}))
			if math.Abs(float64(got-tt.want)) > 1e-3 {
				t.Errorf("inputScale = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkExecute(b *testing.B) {
	d, _ := New(0).NewDevice(engine.DeviceCPU)
	defer d.Close()
	f, _ := d.NewFilter(engine.FilterRT)
	const w, h = 256, 256
	color := noisy(w, h, 0.5, 0.1, 11)
	out := make([]float32, len(color))
	_ = f.SetImage(engine.RoleColor, color, engine.FormatFloat3, w, h, 0)
	_ = f.SetImage(engine.RoleOutput, out, engine.FormatFloat3, w, h, 0)
	_ = f.Commit()
	b.ResetTimer()
	for range b.N {
		_ = f.Execute(context.Background())
	}
}
