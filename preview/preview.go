// Package preview renders layer bitmaps and print thumbnails at a
// requested size.
package preview

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/layer"
)

// Resin is the tint used for cured pixels.
var Resin = color.RGBA{R: 0x3d, G: 0xc1, B: 0xd3, A: 0xff}

// Background is the color of unexposed pixels.
var Background = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}

// FitSize returns the largest size with the aspect ratio of src that
// fits within maxWidth x maxHeight. Neither dimension is less than 1.
func FitSize(srcWidth, srcHeight, maxWidth, maxHeight int) (int, int) {
	scaleX := float64(maxWidth) / float64(srcWidth)
	scaleY := float64(maxHeight) / float64(srcHeight)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	return max(1, int(float64(srcWidth)*scale)), max(1, int(float64(srcHeight)*scale))
}

// Scale draws src into a new width x height image, stretching as needed.
func Scale(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Render draws b as a width x height thumbnail. The layer keeps its
// aspect ratio and is centered on Background; pixel intensity blends
// from Background to Resin.
func Render(b *bitmap.Buffer, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	w, h := FitSize(b.Width(), b.Height(), width, height)
	x0, y0 := (width-w)/2, (height-h)/2
	r := image.Rect(x0, y0, x0+w, y0+h)
	draw.ApproxBiLinear.Scale(dst, r, tint(b), image.Rect(0, 0, b.Width(), b.Height()), draw.Src, nil)
	return dst
}

func tint(b *bitmap.Buffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width(), b.Height()))
	var lut [256]color.RGBA
	for v := range lut {
		lut[v] = blend(Background, Resin, uint8(v))
	}
	pix := b.Pix()
	for i, v := range pix {
		c := lut[v]
		j := i * 4
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func blend(from, to color.RGBA, v uint8) color.RGBA {
	mix := func(a, b uint8) uint8 { return uint8((int(a)*(255-int(v)) + int(b)*int(v)) / 255) }
	return color.RGBA{R: mix(from.R, to.R), G: mix(from.G, to.G), B: mix(from.B, to.B), A: 0xff}
}

// Thumbnail renders the layer of t with the most exposed pixels, or
// returns nil if no layer image is attached.
func Thumbnail(t *layer.Table, width, height int) *image.RGBA {
	var best *bitmap.Buffer
	most := -1
	for _, l := range t.Layers() {
		if img := l.Image(); img != nil && l.NonZeroPixels > most {
			best, most = img, l.NonZeroPixels
		}
	}
	if best == nil {
		return nil
	}
	return Render(best, width, height)
}
