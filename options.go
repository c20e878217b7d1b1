package denoise

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/completion"
	"github.com/gogpu/denoise/internal/pitch"
	"github.com/gogpu/denoise/internal/transfer"
)

// Option configures a Denoiser during creation.
//
// Example:
//
//	d, err := denoise.NewDenoiser(device, queue, dev,
//	    denoise.WithMapTimeout(2*time.Second),
//	    denoise.WithPoolSize(8),
//	)
type Option func(*config)

// config holds the Denoiser settings fixed at creation.
type config struct {
	alignment     uint32
	mapTimeout    time.Duration
	engineTimeout time.Duration
	poolSize      int
	syncExecute   bool
	pollInterval  time.Duration
	clock         Clock
	logger        *slog.Logger
}

// DefaultEngineTimeout bounds asynchronous engine execution.
const DefaultEngineTimeout = time.Minute

// DefaultPoolSize is the number of idle staging buffers kept per size and direction.
const DefaultPoolSize = 4

func defaultConfig() config {
	return config{
		alignment:     pitch.CopyAlignment,
		mapTimeout:    transfer.DefaultMapTimeout,
		engineTimeout: DefaultEngineTimeout,
		poolSize:      DefaultPoolSize,
		pollInterval:  completion.DefaultPollInterval,
	}
}

// Clock is the time source for map and engine waits. Tests substitute a
// manually stepped clock.
type Clock = completion.Clock

// WithAlignment sets the row pitch alignment of staging buffers in bytes.
// It must be a multiple of 256 for real devices; other values are only
// useful with devices that accept them.
func WithAlignment(n uint32) Option {
	return func(c *config) {
		c.alignment = n
	}
}

// WithMapTimeout bounds each wait for a texture copy to complete.
// Zero or less waits until the context is done.
func WithMapTimeout(d time.Duration) Option {
	return func(c *config) {
		c.mapTimeout = d
	}
}

// WithEngineTimeout bounds asynchronous engine execution.
// Zero or less waits until the context is done.
func WithEngineTimeout(d time.Duration) Option {
	return func(c *config) {
		c.engineTimeout = d
	}
}

// WithPoolSize sets how many idle staging buffers are kept per size and
// direction. Zero keeps every returned buffer.
func WithPoolSize(n int) Option {
	return func(c *config) {
		c.poolSize = n
	}
}

// WithoutPooling allocates fresh staging buffers for every transfer.
//
// Example:
//
//	// Trade latency for isolation between calls
//	d, err := denoise.NewDenoiser(device, queue, dev, denoise.WithoutPooling())
func WithoutPooling() Option {
	return func(c *config) {
		c.poolSize = -1
	}
}

// WithSyncExecute runs the engine with a blocking Execute instead of
// polling an asynchronous execution. The engine timeout does not apply.
func WithSyncExecute() Option {
	return func(c *config) {
		c.syncExecute = true
	}
}

// WithPollInterval sets the sleep between completion polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithClock replaces the clock used for waits.
func WithClock(clock Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets a logger for this Denoiser instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Quality trades denoising speed for quality.
type Quality = engine.Quality

// Quality levels.
const (
	QualityDefault  = engine.QualityDefault
	QualityFast     = engine.QualityFast
	QualityBalanced = engine.QualityBalanced
	QualityHigh     = engine.QualityHigh
)

// Options controls one denoise call.
type Options struct {
	Quality Quality

	// HDR marks the color input as high dynamic range.
	HDR bool

	// SRGB marks the color input as sRGB encoded low dynamic range.
	// It cannot be combined with HDR.
	SRGB bool

	// CleanAux marks the albedo and normal inputs as noise-free.
	CleanAux bool

	// InputScale multiplies the color input before denoising and divides
	// the result afterwards. Zero lets the engine choose.
	InputScale float32

	// Filter selects the engine filter. The zero value means engine.FilterRT.
	Filter engine.FilterKind

	// Directional denoises directional lightmaps. Requires engine.FilterRTLightmap.
	Directional bool
}

// DefaultOptions returns HDR input with default quality and automatic input scale.
func DefaultOptions() Options {
	return Options{HDR: true, Filter: engine.FilterRT}
}

// filter returns the filter kind, defaulting to RT.
func (o Options) filter() engine.FilterKind {
	if o.Filter == "" {
		return engine.FilterRT
	}
	return o.Filter
}

// Validate reports option combinations the engine cannot honor.
func (o Options) Validate() error {
	if o.HDR && o.SRGB {
		return configErrorf("hdr and srgb are mutually exclusive")
	}
	if !o.Quality.Valid() {
		return configErrorf("invalid quality %d", int(o.Quality))
	}
	s := float64(o.InputScale)
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return configErrorf("invalid input scale %v", o.InputScale)
	}
	kind := o.filter()
	if !kind.Valid() {
		return configErrorf("unknown filter %q", kind)
	}
	if o.Directional && kind != engine.FilterRTLightmap {
		return configErrorf("directional requires the %s filter", engine.FilterRTLightmap)
	}
	return nil
}

// String summarizes the options for logging.
func (o Options) String() string {
	return fmt.Sprintf("filter=%s quality=%v hdr=%t srgb=%t cleanAux=%t inputScale=%g",
		o.filter(), o.Quality, o.HDR, o.SRGB, o.CleanAux, o.InputScale)
}
