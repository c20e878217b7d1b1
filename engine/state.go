package engine

import (
	"math"
	"sync"
)

// Params stores named filter options. The zero value is ready to use and
// safe for concurrent use. Unset floats read as NaN so inputScale defaults
// to automatic.
type Params struct {
	mu     sync.Mutex
	bools  map[string]bool
	ints   map[string]int
	floats map[string]float32
}

// SetBool stores a boolean option.
func (p *Params) SetBool(name string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bools == nil {
		p.bools = make(map[string]bool)
	}
	p.bools[name] = v
}

// SetInt stores an integer option.
func (p *Params) SetInt(name string, v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ints == nil {
		p.ints = make(map[string]int)
	}
	p.ints[name] = v
}

// SetFloat stores a float option.
func (p *Params) SetFloat(name string, v float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.floats == nil {
		p.floats = make(map[string]float32)
	}
	p.floats[name] = v
}

// GetBool returns a boolean option, or the filter default.
func (p *Params) GetBool(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.bools[name]; ok {
		return v
	}
	return name == OptionHDR
}

// GetInt returns an integer option, or 0.
func (p *Params) GetInt(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ints[name]
}

// GetFloat returns a float option, or NaN.
func (p *Params) GetFloat(name string) float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.floats[name]; ok {
		return v
	}
	return float32(math.NaN())
}

// Settings is a snapshot of the options a filter acts on.
type Settings struct {
	HDR         bool
	SRGB        bool
	CleanAux    bool
	Directional bool
	InputScale  float32 // NaN means automatic
	Quality     Quality
}

// Settings snapshots the known options.
func (p *Params) Settings() Settings {
	return Settings{
		HDR:         p.GetBool(OptionHDR),
		SRGB:        p.GetBool(OptionSRGB),
		CleanAux:    p.GetBool(OptionCleanAux),
		Directional: p.GetBool(OptionDirectional),
		InputScale:  p.GetFloat(OptionInputScale),
		Quality:     Quality(p.GetInt(OptionQuality)),
	}
}

// Image is a bound float image.
type Image struct {
	Data   []float32
	Width  int
	Height int
	Stride int // in float32 elements
}

// At returns the index of channel 0 of pixel (x, y).
func (im Image) At(x, y int) int {
	return y*im.Stride + x*3
}

// NewImage validates a binding and returns it. rowStride is in bytes; zero
// means tightly packed.
func NewImage(data []float32, format Format, width, height, rowStride int) (Image, error) {
	if format != FormatFloat3 {
		return Image{}, Errorf(CodeInvalidArgument, "unsupported image format %d", format)
	}
	if width <= 0 || height <= 0 {
		return Image{}, Errorf(CodeInvalidArgument, "invalid image size %dx%d", width, height)
	}
	stride := width * 3
	if rowStride != 0 {
		if rowStride%4 != 0 || rowStride/4 < stride {
			return Image{}, Errorf(CodeInvalidArgument, "invalid row stride %d for width %d", rowStride, width)
		}
		stride = rowStride / 4
	}
	if need := (height-1)*stride + width*3; len(data) < need {
		return Image{}, Errorf(CodeInvalidArgument, "image buffer holds %d floats, need %d", len(data), need)
	}
	return Image{Data: data, Width: width, Height: height, Stride: stride}, nil
}

// Images holds the bindings of a filter. The zero value is ready to use.
type Images struct {
	mu    sync.Mutex
	bound [RoleOutput + 1]*Image
}

// Set validates and binds an image to role.
func (s *Images) Set(role ImageRole, data []float32, format Format, width, height, rowStride int) error {
	if role > RoleOutput {
		return Errorf(CodeInvalidArgument, "unknown image role %v", role)
	}
	im, err := NewImage(data, format, width, height, rowStride)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound[role] = &im
	s.mu.Unlock()
	return nil
}

// Unset removes the binding of role.
func (s *Images) Unset(role ImageRole) {
	if role > RoleOutput {
		return
	}
	s.mu.Lock()
	s.bound[role] = nil
	s.mu.Unlock()
}

// Get returns the binding of role and whether it is set.
func (s *Images) Get(role ImageRole) (Image, bool) {
	if role > RoleOutput {
		return Image{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound[role] == nil {
		return Image{}, false
	}
	return *s.bound[role], true
}

// Validate checks the bindings for a filter of the given kind: color and
// output are required and every image matches the color size. Lightmap
// filters take no auxiliary images, and a normal requires an albedo.
func (s *Images) Validate(kind FilterKind) error {
	color, ok := s.Get(RoleColor)
	if !ok {
		return Errorf(CodeInvalidOperation, "color image not set")
	}
	if _, ok := s.Get(RoleOutput); !ok {
		return Errorf(CodeInvalidOperation, "output image not set")
	}
	_, hasAlbedo := s.Get(RoleAlbedo)
	_, hasNormal := s.Get(RoleNormal)
	if kind == FilterRTLightmap && (hasAlbedo || hasNormal) {
		return Errorf(CodeInvalidOperation, "%s filter takes no auxiliary images", kind)
	}
	if hasNormal && !hasAlbedo {
		return Errorf(CodeInvalidOperation, "normal image requires an albedo image")
	}
	for _, role := range []ImageRole{RoleAlbedo, RoleNormal, RoleOutput} {
		im, ok := s.Get(role)
		if ok && (im.Width != color.Width || im.Height != color.Height) {
			return Errorf(CodeInvalidArgument, "%v image is %dx%d, color is %dx%d",
				role, im.Width, im.Height, color.Width, color.Height)
		}
	}
	return nil
}

// ErrorLog keeps the first unreported error of a device. The zero value is
// ready to use.
type ErrorLog struct {
	mu  sync.Mutex
	err *Error
}

// Record stores e unless an earlier error is still unreported. It returns e.
func (l *ErrorLog) Record(e *Error) *Error {
	l.mu.Lock()
	if l.err == nil {
		l.err = e
	}
	l.mu.Unlock()
	return e
}

// Take returns and clears the stored error.
func (l *ErrorLog) Take() *Error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.err
	l.err = nil
	return e
}
