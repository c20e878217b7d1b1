package main

import (
	"image"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/gogpu/denoise/internal/color"
)

// writePreview writes a tone-mapped PNG of img scaled to width pixels.
func writePreview(path string, img *exr.RGBAImage, width int, m color.Mapper) error {
	ldr, err := m.Image(img.Pix, img.Rect.Dx(), img.Rect.Dy())
	if err != nil {
		return err
	}
	b := ldr.Bounds()
	if width <= 0 || width > b.Dx() {
		width = b.Dx()
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), ldr, b, xdraw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
