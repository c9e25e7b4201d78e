package preview

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/layer"
)

func TestFitSize(t *testing.T) {
	tests := []struct {
		sw, sh, mw, mh int
		ww, wh         int
	}{
		{sw: 100, sh: 50, mw: 50, mh: 50, ww: 50, wh: 25},
		{sw: 50, sh: 100, mw: 50, mh: 50, ww: 25, wh: 50},
		{sw: 10, sh: 10, mw: 40, mh: 20, ww: 20, wh: 20},
		{sw: 1000, sh: 1, mw: 10, mh: 10, ww: 10, wh: 1},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %vx%v in %vx%v", i, tt.sw, tt.sh, tt.mw, tt.mh), func(t *testing.T) {
			w, h := FitSize(tt.sw, tt.sh, tt.mw, tt.mh)
			if w != tt.ww || h != tt.wh {
				t.Errorf("FitSize = %vx%v, want %vx%v", w, h, tt.ww, tt.wh)
			}
		})
	}
}

func TestRender(t *testing.T) {
	b, _ := bitmap.NewFilled(20, 10, 0xff)
	img := Render(b, 40, 40)
	if got := img.Bounds(); got != image.Rect(0, 0, 40, 40) {
		t.Fatalf("bounds = %v", got)
	}
	// 20x10 scales to 40x20, centered vertically.
	if got := img.RGBAAt(20, 2); got != Background {
		t.Errorf("letterbox pixel = %v, want %v", got, Background)
	}
	if got := img.RGBAAt(20, 20); got != Resin {
		t.Errorf("center pixel = %v, want %v", got, Resin)
	}
}

func TestScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	red := color.RGBA{R: 0xff, A: 0xff}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, red)
		}
	}
	dst := Scale(src, 9, 3)
	if dst.Bounds().Dx() != 9 || dst.Bounds().Dy() != 3 {
		t.Fatalf("bounds = %v", dst.Bounds())
	}
	if got := dst.RGBAAt(4, 1); got != red {
		t.Errorf("pixel = %v, want %v", got, red)
	}
}

func TestThumbnail(t *testing.T) {
	tbl, _ := layer.NewTable(8, 8, 3)
	if Thumbnail(tbl, 4, 4) != nil {
		t.Error("Thumbnail without images is not nil")
	}
	small, _ := bitmap.New(8, 8)
	small.Set(1, 1, 0xff)
	big, _ := bitmap.NewFilled(8, 8, 0xff)
	tbl.Layer(0).SetDecodedImage(small)
	tbl.Layer(2).SetDecodedImage(big)
	img := Thumbnail(tbl, 4, 4)
	if img == nil {
		t.Fatal("Thumbnail = nil")
	}
	if got := img.RGBAAt(0, 3); got != Resin {
		t.Errorf("thumbnail corner = %v, want the fuller layer (%v)", got, Resin)
	}
}
