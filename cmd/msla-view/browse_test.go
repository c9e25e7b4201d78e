package main

import (
	"fmt"
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/preview"
)

func TestDrawLayer(t *testing.T) {
	tests := []struct {
		name   string
		fill   byte
		wantFG tcell.Color
	}{
		{name: "exposed", fill: 0xff, wantFG: rgb(preview.Resin)},
		{name: "empty", fill: 0, wantFG: rgb(preview.Background)},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			s := tcell.NewSimulationScreen("UTF-8")
			if err := s.Init(); err != nil {
				t.Fatal(err)
			}
			defer s.Fini()
			s.SetSize(8, 5)

			b, _ := bitmap.NewFilled(16, 8, tt.fill)
			drawLayer(s, b, 8, 4)

			r, _, style, _ := s.GetContent(3, 2)
			if r != upperHalf {
				t.Errorf("rune = %q, want %q", r, upperHalf)
			}
			if fg, _, _ := style.Decompose(); fg != tt.wantFG {
				t.Errorf("foreground = %v, want %v", fg, tt.wantFG)
			}
			if r, _, _, _ := s.GetContent(3, 4); r == upperHalf {
				t.Error("status row was drawn over")
			}
		})
	}
}

func TestBusiestLayer(t *testing.T) {
	tbl, err := layer.NewTable(4, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range []int{3, 9, 5} {
		b, _ := bitmap.New(4, 4)
		b.FillRun(0, n, 0xff)
		tbl.Layer(i).SetImage(b)
	}
	if got := busiestLayer(tbl); got != 1 {
		t.Errorf("busiestLayer = %v, want 1", got)
	}
}
