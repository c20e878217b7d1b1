// Package denoise removes Monte Carlo noise from GPU textures.
//
// # Overview
//
// A Denoiser reads a noisy texture back from the GPU, converts it into the
// compact float32 planes a denoise engine consumes, runs the engine and
// uploads the result into an output texture. Optional albedo and normal
// textures guide the engine. Alpha never reaches the engine; it is carried
// around it and written back unchanged.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/denoise"
//	    "github.com/gogpu/denoise/engine/cpu"
//	)
//
//	eng := cpu.New(0)
//	dev, err := eng.NewDevice(engine.DeviceDefault)
//	if err != nil {
//	    return err
//	}
//	d, err := denoise.NewDenoiser(halDevice, halQueue, dev)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	color := denoise.WrapTexture(raw, denoise.TextureInfo{
//	    Width: 1920, Height: 1080, Format: gputypes.TextureFormatRGBA16Float,
//	})
//	err = d.Denoise(ctx, color, color, denoise.DefaultOptions())
//
// Passing the same texture as input and output denoises in place.
//
// # Formats
//
// Two texture formats are supported: RGBA16Float and RGBA32Float. Anything
// else is rejected with ErrUnsupportedFormat before any device work.
// Half-precision channels are widened to float32 for the engine and rounded
// back on upload.
//
// # Staging
//
// Copies between textures and host memory go through staging buffers whose
// rows are padded to 256 bytes, the copy pitch required by WebGPU. Buffers
// are pooled per Denoiser and keyed by size and direction. A buffer whose
// copy timed out is never returned to the pool; after device loss every
// pooled buffer is dropped.
//
// # Errors
//
// Every failure matches exactly one of ErrConfiguration, ErrDeviceLost,
// ErrMapFailed, ErrMapTimeout, ErrEngineTimeout, ErrClosed or *EngineError.
// Configuration errors also match the specific cause, for example
// ErrUnsupportedFormat or ErrInvalidDimensions.
//
// # Engines
//
// The engine package defines the contract a denoise engine implements.
// engine/cpu is a pure Go implementation; engine/enginetest provides a
// deterministic stub for tests.
//
// # Logging
//
// The package is silent by default. See SetLogger.
package denoise
