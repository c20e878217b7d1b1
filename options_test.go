package denoise

import (
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/completion"
)

func TestDefaultConfig(t *testing.T) {
	c := defaultConfig()
	if c.alignment != 256 {
		t.Errorf("alignment = %d, want 256", c.alignment)
	}
	if c.mapTimeout != 5*time.Second {
		t.Errorf("mapTimeout = %v, want 5s", c.mapTimeout)
	}
	if c.engineTimeout != DefaultEngineTimeout {
		t.Errorf("engineTimeout = %v, want %v", c.engineTimeout, DefaultEngineTimeout)
	}
	if c.poolSize != DefaultPoolSize || c.syncExecute || c.clock != nil || c.logger != nil {
		t.Errorf("defaultConfig() = %+v", c)
	}
}

func TestOptionsApply(t *testing.T) {
	clock := completion.NewFakeClock()
	logger := slog.Default()
	c := defaultConfig()
	for _, opt := range []Option{
		WithAlignment(512),
		WithMapTimeout(time.Second),
		WithEngineTimeout(2 * time.Second),
		WithPoolSize(8),
		WithSyncExecute(),
		WithPollInterval(time.Millisecond),
		WithClock(clock),
		WithLogger(logger),
	} {
		opt(&c)
	}
	want := config{
		alignment:     512,
		mapTimeout:    time.Second,
		engineTimeout: 2 * time.Second,
		poolSize:      8,
		syncExecute:   true,
		pollInterval:  time.Millisecond,
		clock:         clock,
		logger:        logger,
	}
	if c != want {
		t.Errorf("config = %+v, want %+v", c, want)
	}

	WithoutPooling()(&c)
	if c.poolSize >= 0 {
		t.Errorf("WithoutPooling poolSize = %d, want negative", c.poolSize)
	}
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if !o.HDR || o.SRGB || o.CleanAux || o.InputScale != 0 || o.Quality != QualityDefault {
		t.Errorf("DefaultOptions() = %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("DefaultOptions().Validate() = %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"zero value", Options{}, false},
		{"hdr", Options{HDR: true}, false},
		{"srgb", Options{SRGB: true}, false},
		{"hdr and srgb", Options{HDR: true, SRGB: true}, true},
		{"quality high", Options{Quality: QualityHigh}, false},
		{"quality unknown", Options{Quality: 3}, true},
		{"input scale", Options{InputScale: 0.5}, false},
		{"negative scale", Options{InputScale: -1}, true},
		{"nan scale", Options{InputScale: float32(math.NaN())}, true},
		{"infinite scale", Options{InputScale: float32(math.Inf(1))}, true},
		{"lightmap", Options{Filter: engine.FilterRTLightmap}, false},
		{"directional lightmap", Options{Filter: engine.FilterRTLightmap, Directional: true}, false},
		{"directional rt", Options{Directional: true}, true},
		{"unknown filter", Options{Filter: "RL"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestOptionsString(t *testing.T) {
	got := DefaultOptions().String()
	want := "filter=RT quality=Default hdr=true srgb=false cleanAux=false inputScale=0"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
