package main

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/gdamore/tcell/v2"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/preview"
)

const upperHalf = '▀'

// browse runs a full-screen layer viewer starting at layer n. Each
// terminal cell shows two vertically stacked pixels.
func browse(path string, t *layer.Table, n int) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	redraw := func() {
		s.Clear()
		cols, rows := s.Size()
		l := t.Layer(n)
		drawLayer(s, l.Image(), cols, rows-1)
		drawStatus(s, rows-1, cols, fmt.Sprintf("%v  layer %v/%v  z=%.3f mm  %v px  [arrows, PgUp/PgDn, Home/End, q]",
			filepath.Base(path), n, t.Len()-1, l.PositionZ, l.NonZeroPixels))
		s.Show()
	}
	redraw()

	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventResize:
			s.Sync()
			redraw()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return nil
			case tcell.KeyRune:
				if ev.Rune() == 'q' {
					return nil
				}
			case tcell.KeyRight, tcell.KeyUp:
				n++
			case tcell.KeyLeft, tcell.KeyDown:
				n--
			case tcell.KeyPgUp:
				n += 10
			case tcell.KeyPgDn:
				n -= 10
			case tcell.KeyHome:
				n = 0
			case tcell.KeyEnd:
				n = t.Len() - 1
			}
			n = min(max(n, 0), t.Len()-1)
			redraw()
		}
	}
}

func drawLayer(s tcell.Screen, b *bitmap.Buffer, cols, rows int) {
	if b == nil || cols <= 0 || rows <= 0 {
		return
	}
	img := preview.Render(b, cols, 2*rows)
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			style := tcell.StyleDefault.
				Foreground(rgb(img.RGBAAt(cx, 2*cy))).
				Background(rgb(img.RGBAAt(cx, 2*cy+1)))
			s.SetContent(cx, cy, upperHalf, nil, style)
		}
	}
}

func drawStatus(s tcell.Screen, row, cols int, msg string) {
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlack)
	for x := 0; x < cols; x++ {
		s.SetContent(x, row, ' ', nil, style)
	}
	x := 0
	for _, ch := range msg {
		if x >= cols {
			break
		}
		s.SetContent(x, row, ch, nil, style)
		x++
	}
}

func rgb(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}
