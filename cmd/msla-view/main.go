// msla-view shows one layer of a resin printer file in the terminal.
//
// On a sixel-capable TTY the layer is drawn as a sixel image scaled to
// the terminal width; otherwise a PNG is written to stdout. With -i the
// layers can be browsed interactively with the arrow keys.
//
// Usage:
//
//	msla-view [-layer N] [-i] file
package main

import (
	"context"
	"flag"
	"image/png"
	"log"
	"os"

	"github.com/mattn/go-sixel"
	"golang.org/x/term"

	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/internal/config"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"

	_ "github.com/gmlewis/msla/ctb"
	_ "github.com/gmlewis/msla/cxdlp"
	_ "github.com/gmlewis/msla/osf"
	_ "github.com/gmlewis/msla/photon"
	_ "github.com/gmlewis/msla/zipper"
)

const charWidth = 8 // pixels per terminal column when sizing sixel output

var (
	layerNum    = flag.Int("layer", -1, "Layer to show (default is the layer with the most exposed pixels)")
	interactive = flag.Bool("i", false, "Browse layers interactively")
	width       = flag.Int("width", 0, "Image width in pixels (default fits the terminal)")
)

func main() {
	cfg, err := config.Load(config.Find())
	check("config: %v", err)
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	check("log level: %v", cfg.Apply())

	if flag.NArg() != 1 {
		log.Fatalf("usage: %v [flags] file", os.Args[0])
	}
	arg := flag.Arg(0)

	pc := cfg.Pipeline()
	pc.KeepImages = true
	doc, err := format.Decode(context.Background(), arg, pipeline.Full, pc)
	check("%v", err)
	t := doc.Table()
	if t.Len() == 0 {
		log.Fatalf("%v has no layers", arg)
	}

	n := *layerNum
	if n < 0 {
		n = busiestLayer(t)
	}
	if n >= t.Len() {
		log.Fatalf("%v has %v layers; -layer %v is out of range", arg, t.Len(), n)
	}

	if *interactive {
		check("browse: %v", browse(arg, t, n))
		return
	}
	check("show: %v", show(t.Layer(n), t))
}

func busiestLayer(t *layer.Table) int {
	best := 0
	for i, l := range t.Layers() {
		if l.NonZeroPixels > t.Layer(best).NonZeroPixels {
			best = i
		}
	}
	return best
}

func show(l *layer.Layer, t *layer.Table) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return png.Encode(os.Stdout, l.Image().Gray())
	}

	w := *width
	if w <= 0 {
		cols, _, err := term.GetSize(fd)
		if err != nil {
			cols = 80
		}
		w = cols * charWidth
	}
	w, h := preview.FitSize(t.Width(), t.Height(), min(w, t.Width()), t.Height())
	img := preview.Render(l.Image(), w, h)

	enc := sixel.NewEncoder(os.Stdout)
	enc.Width, enc.Height = w, h
	return enc.Encode(img)
}

func check(fmtStr string, args ...interface{}) {
	err := args[len(args)-1]
	if err != nil {
		log.Fatalf(fmtStr, args...)
	}
}
