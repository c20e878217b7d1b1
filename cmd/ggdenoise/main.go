// Command ggdenoise denoises OpenEXR images through the GPU texture pipeline.
//
// Usage:
//
//	ggdenoise -in noisy.exr -out clean.exr [-albedo a.exr] [-normal n.exr]
//
// The image is uploaded to a texture, denoised with the CPU engine and read
// back. -backend host runs the GPU side in memory; -backend auto uses the
// best available wgpu backend and falls back to host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/gogpu/denoise"
	"github.com/gogpu/denoise/engine"
	"github.com/gogpu/denoise/engine/cpu"
	"github.com/gogpu/denoise/internal/color"
)

func main() {
	var (
		in        = flag.String("in", "", "noisy color image (OpenEXR)")
		out       = flag.String("out", "denoised.exr", "output image (OpenEXR)")
		albedo    = flag.String("albedo", "", "optional albedo image (OpenEXR)")
		normal    = flag.String("normal", "", "optional normal image (OpenEXR), requires -albedo")
		format    = flag.String("format", "half", "texture format: half or float")
		quality   = flag.String("quality", "Default", "quality: Default, Fast, Balanced or High")
		hdr       = flag.Bool("hdr", true, "color input is high dynamic range")
		srgb      = flag.Bool("srgb", false, "color input is sRGB encoded")
		scale     = flag.Float64("scale", 0, "input scale, 0 for automatic")
		cleanAux  = flag.Bool("clean-aux", false, "albedo and normal are noise-free")
		lightmap  = flag.Bool("lightmap", false, "use the lightmap filter")
		device    = flag.String("device", "Default", "engine device: Default or CPU")
		workers   = flag.Int("workers", 0, "engine worker goroutines, 0 for GOMAXPROCS")
		backend   = flag.String("backend", "host", "GPU backend: host or auto")
		preview   = flag.String("preview", "", "optional PNG preview path")
		previewW  = flag.Int("preview-width", 512, "preview width in pixels")
		toneOp    = flag.String("tonemap", "reinhard", "preview tone map: clamp, reinhard or aces")
		exposure  = flag.Float64("exposure", 0, "preview exposure in stops")
		timeout   = flag.Duration("timeout", 2*time.Minute, "overall timeout")
		verbose   = flag.Bool("v", false, "verbose logging")
		noPooling = flag.Bool("no-pool", false, "allocate fresh staging buffers for every transfer")
	)
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		denoise.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	texFormat, err := parseFormat(*format)
	if err != nil {
		log.Fatal(err)
	}
	q, err := engine.ParseQuality(*quality)
	if err != nil {
		log.Fatal(err)
	}
	kind, err := engine.ParseDeviceKind(*device)
	if err != nil {
		log.Fatal(err)
	}
	op, err := color.ParseOperator(*toneOp)
	if err != nil {
		log.Fatal(err)
	}

	opts := denoise.Options{
		Quality:    q,
		HDR:        *hdr,
		SRGB:       *srgb,
		CleanAux:   *cleanAux,
		InputScale: float32(*scale),
		Filter:     engine.FilterRT,
	}
	if *lightmap {
		opts.Filter = engine.FilterRTLightmap
	}
	if err := opts.Validate(); err != nil {
		log.Fatal(err)
	}

	noisy, err := exr.DecodeFile(*in)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *in, err)
	}
	aux := make(map[string]*exr.RGBAImage)
	for name, path := range map[string]string{"albedo": *albedo, "normal": *normal} {
		if path == "" {
			continue
		}
		img, err := exr.DecodeFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}
		aux[name] = img
	}

	gpu, err := openGPU(*backend)
	if err != nil {
		log.Fatalf("Failed to open GPU: %v", err)
	}
	defer gpu.close()

	engDev, err := cpu.New(*workers).NewDevice(kind)
	if err != nil {
		log.Fatalf("Failed to open engine device: %v", err)
	}

	dopts := []denoise.Option{}
	if *noPooling {
		dopts = append(dopts, denoise.WithoutPooling())
	}
	d, err := denoise.NewDenoiser(gpu.device, gpu.queue, engDev, dopts...)
	if err != nil {
		log.Fatalf("Failed to create denoiser: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	result, err := run(ctx, d, gpu, texFormat, noisy, aux["albedo"], aux["normal"], opts)
	if err != nil {
		log.Fatalf("Denoise failed: %v", err)
	}
	elapsed := time.Since(start)

	if err := exr.EncodeFile(*out, result); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	if *preview != "" {
		m := color.Mapper{Operator: op, Exposure: float32(*exposure)}
		if err := writePreview(*preview, result, *previewW, m); err != nil {
			log.Fatalf("Failed to write preview: %v", err)
		}
	}

	s := d.Stats()
	log.Printf("Denoised %s -> %s (%dx%d, %v, %s) in %v; staging hits=%d misses=%d\n",
		*in, *out, noisy.Rect.Dx(), noisy.Rect.Dy(), texFormat, gpu.name, elapsed, s.Hits, s.Misses)
}

func parseFormat(s string) (gputypes.TextureFormat, error) {
	switch s {
	case "half":
		return gputypes.TextureFormatRGBA16Float, nil
	case "float":
		return gputypes.TextureFormatRGBA32Float, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want half or float)", s)
	}
}

// run uploads the images, denoises the color texture in place and reads
// the result back.
func run(ctx context.Context, d *denoise.Denoiser, gpu *gpuDevice, format gputypes.TextureFormat,
	noisy, albedo, normal *exr.RGBAImage, opts denoise.Options) (*exr.RGBAImage, error) {
	upload := func(label string, img *exr.RGBAImage) (*denoise.Texture, error) {
		if img == nil {
			return nil, nil
		}
		tex, err := denoise.CreateTexture(gpu.device, denoise.TextureInfo{
			Label:  label,
			Width:  uint32(img.Rect.Dx()),
			Height: uint32(img.Rect.Dy()),
			Format: format,
		})
		if err != nil {
			return nil, err
		}
		if err := d.WriteRGBA(ctx, tex, img.Pix); err != nil {
			tex.Destroy()
			return nil, fmt.Errorf("upload %s: %w", label, err)
		}
		return tex, nil
	}

	colorTex, err := upload("color", noisy)
	if err != nil {
		return nil, err
	}
	defer colorTex.Destroy()
	albedoTex, err := upload("albedo", albedo)
	if err != nil {
		return nil, err
	}
	if albedoTex != nil {
		defer albedoTex.Destroy()
	}
	normalTex, err := upload("normal", normal)
	if err != nil {
		return nil, err
	}
	if normalTex != nil {
		defer normalTex.Destroy()
	}

	if err := d.DenoiseWithAux(ctx, colorTex, colorTex, albedoTex, normalTex, opts); err != nil {
		return nil, err
	}
	pix, err := d.ReadRGBA(ctx, colorTex)
	if err != nil {
		return nil, err
	}
	result := exr.NewRGBAImage(noisy.Rect)
	copy(result.Pix, pix)
	return result, nil
}
