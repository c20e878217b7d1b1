package cpu

import (
	"context"
	"math"

	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/internal/parallel"
)

// Range sigmas. Aux images are trusted more when they are noise free.
const (
	sigmaColorLDR   = 0.10
	sigmaColorHDR   = 0.25
	sigmaAlbedo     = 0.15
	sigmaAlbedoTidy = 0.05
	sigmaNormal     = 0.30
	sigmaNormalTidy = 0.10

	// keyValue is the mid-grey exposure automatic input scaling targets.
	keyValue = 0.18

	minBandRows = 4
)

// plan is a committed filter: images and settings frozen at Commit.
type plan struct {
	settings engine.Settings
	kind     engine.FilterKind
	color    engine.Image
	output   engine.Image
	albedo   *engine.Image
	normal   *engine.Image
}

// radius returns the filter radius in pixels for the quality.
func radius(q engine.Quality) int {
	switch q {
	case engine.QualityFast:
		return 1
	case engine.QualityBalanced:
		return 2
	default:
		return 3
	}
}

// logDomain reports whether filtering happens on log1p of the scaled input.
// Directional lightmaps carry signed coefficients and stay linear.
func (p *plan) logDomain() bool {
	return p.settings.HDR && !(p.kind == engine.FilterRTLightmap && p.settings.Directional)
}

func (p *plan) run(ctx context.Context, pool *parallel.WorkerPool) error {
	w, h := p.color.Width, p.color.Height

	// Copy inputs first: output may alias color.
	src := gather(p.color)
	var alb, nrm []float32
	if p.albedo != nil {
		alb = gather(*p.albedo)
	}
	if p.normal != nil {
		nrm = gather(*p.normal)
	}

	scale := p.inputScale(src)
	logd := p.logDomain()
	for i, v := range src {
		v *= scale
		if logd {
			v = float32(math.Log1p(float64(max(v, 0))))
		}
		src[i] = v
	}

	r := radius(p.settings.Quality)
	spatial := spatialKernel(r)
	sc := float32(sigmaColorLDR)
	if logd {
		sc = sigmaColorHDR
	}
	sa, sn := float32(sigmaAlbedo), float32(sigmaNormal)
	if p.settings.CleanAux {
		sa, sn = sigmaAlbedoTidy, sigmaNormalTidy
	}
	ic, ia, in := -1/(2*sc*sc), -1/(2*sa*sa), -1/(2*sn*sn)

	out := make([]float32, len(src))
	err := pool.Rows(ctx, h, minBandRows, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			if ctx.Err() != nil {
				return
			}
			for x := 0; x < w; x++ {
				c := (y*w + x) * 3
				var sum [3]float32
				var wsum float32
				k := 0
				for dy := -r; dy <= r; dy++ {
					yy := y + dy
					for dx := -r; dx <= r; dx++ {
						xx := x + dx
						ws := spatial[k]
						k++
						if yy < 0 || yy >= h || xx < 0 || xx >= w {
							continue
						}
						q := (yy*w + xx) * 3
						e := dist2(src, c, q) * ic
						if alb != nil {
							e += dist2(alb, c, q) * ia
						}
						if nrm != nil {
							e += dist2(nrm, c, q) * in
						}
						wt := ws * float32(math.Exp(float64(e)))
						sum[0] += wt * src[q]
						sum[1] += wt * src[q+1]
						sum[2] += wt * src[q+2]
						wsum += wt
					}
				}
				// The centre tap always contributes with weight 1.
				out[c] = sum[0] / wsum
				out[c+1] = sum[1] / wsum
				out[c+2] = sum[2] / wsum
			}
		}
	})
	if err != nil {
		return err
	}

	for i, v := range out {
		if logd {
			v = float32(math.Expm1(float64(v)))
		}
		out[i] = v / scale
	}
	scatter(out, p.output)
	return nil
}

// inputScale returns the explicit scale, or for HDR input the scale that
// maps the log-average luminance to keyValue. LDR input defaults to 1.
func (p *plan) inputScale(rgb []float32) float32 {
	s := p.settings.InputScale
	if !math.IsNaN(float64(s)) {
		if s > 0 && !math.IsInf(float64(s), 0) {
			return s
		}
		return 1
	}
	if !p.settings.HDR || p.settings.Directional {
		return 1
	}
	const eps = 1e-4
	var sum float64
	n := len(rgb) / 3
	for i := 0; i < n; i++ {
		l := 0.2126*rgb[3*i] + 0.7152*rgb[3*i+1] + 0.0722*rgb[3*i+2]
		sum += math.Log(eps + float64(max(l, 0)))
	}
	avg := math.Exp(sum / float64(n))
	if avg <= eps {
		return 1
	}
	return float32(keyValue / avg)
}

// spatialKernel returns Gaussian weights for a (2r+1)^2 window, row-major.
func spatialKernel(r int) []float32 {
	sigma := float64(r)/2 + 0.5
	k := make([]float32, 0, (2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d2 := float64(dx*dx + dy*dy)
			k = append(k, float32(math.Exp(-d2/(2*sigma*sigma))))
		}
	}
	return k
}

func dist2(p []float32, a, b int) float32 {
	d0 := p[a] - p[b]
	d1 := p[a+1] - p[b+1]
	d2 := p[a+2] - p[b+2]
	return d0*d0 + d1*d1 + d2*d2
}

// gather copies a strided image into a tight RGB plane.
func gather(im engine.Image) []float32 {
	row := im.Width * 3
	out := make([]float32, row*im.Height)
	for y := 0; y < im.Height; y++ {
		copy(out[y*row:(y+1)*row], im.Data[im.At(0, y):im.At(0, y)+row])
	}
	return out
}

// scatter writes a tight RGB plane into a strided image.
func scatter(src []float32, im engine.Image) {
	row := im.Width * 3
	for y := 0; y < im.Height; y++ {
		copy(im.Data[im.At(0, y):im.At(0, y)+row], src[y*row:(y+1)*row])
	}
}
