// msla-info prints the print parameters and derived layer statistics of
// one or more resin printer files.
//
// With -extract, every layer image is also written to the given
// directory as a grayscale PNG.
//
// Usage:
//
//	msla-info [-layers] [-extract dir] file...
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/internal/config"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"

	_ "github.com/gmlewis/msla/ctb"
	_ "github.com/gmlewis/msla/cxdlp"
	_ "github.com/gmlewis/msla/osf"
	_ "github.com/gmlewis/msla/photon"
	_ "github.com/gmlewis/msla/zipper"
)

var (
	layers  = flag.Bool("layers", false, "Print one line per layer")
	extract = flag.String("extract", "", "Write every layer image as a PNG into this directory")
)

func main() {
	cfg, err := config.Load(config.Find())
	check("config: %v", err)
	cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %v [flags] file...\n\nSupported formats:\n", os.Args[0])
		for _, h := range format.Formats() {
			fmt.Fprintf(os.Stderr, "  %-8v %v\n", h.Name(), strings.Join(h.Extensions(), " "))
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	check("log level: %v", cfg.Apply())

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	mode := pipeline.Metadata
	if *extract != "" {
		mode = pipeline.Full
		check("MkdirAll: %v", os.MkdirAll(*extract, 0o755))
	}

	ctx := context.Background()
	for _, arg := range flag.Args() {
		doc, err := format.Decode(ctx, arg, mode, cfg.Pipeline())
		check("%v", err)

		t := doc.Table()
		printTable(arg, t)

		if *extract != "" {
			base := strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
			for _, l := range t.Layers() {
				name := filepath.Join(*extract, fmt.Sprintf("%v-%05d.png", base, l.Index))
				check("%v: %v", name, writePNG(name, l))
			}
			log.Printf("Wrote %v layer images of %v to %v", t.Len(), arg, *extract)
		}
	}
}

func printTable(path string, t *layer.Table) {
	p := t.Params
	fmt.Printf("%v:\n", path)
	fmt.Printf("  machine:        %v\n", p.MachineName)
	fmt.Printf("  resolution:     %vx%v px, bed %vx%vx%v mm\n", t.Width(), t.Height(), p.BedSizeX, p.BedSizeY, p.BedSizeZ)
	fmt.Printf("  layers:         %v x %v mm (%v bottom), print height %v mm\n", t.Len(), p.LayerHeight, p.BottomLayers, t.PrintHeight)
	fmt.Printf("  exposure:       %v s (bottom %v s), light off %v s (bottom %v s)\n", p.ExposureTime, p.BottomExposureTime, p.LightOffDelay, p.BottomLightOffDelay)
	fmt.Printf("  lift:           %v mm at %v mm/min (bottom %v mm at %v mm/min), retract %v mm/min\n", p.LiftHeight, p.LiftSpeed, p.BottomLiftHeight, p.BottomLiftSpeed, p.RetractSpeed)
	fmt.Printf("  light PWM:      %v (bottom %v), anti-aliasing %v\n", p.LightPWM, p.BottomLightPWM, p.AntiAliasing)
	if t.TotalPixels > 0 {
		fmt.Printf("  exposed pixels: %v, bounds %v\n", t.TotalPixels, t.BoundingRect)
	}
	if !*layers {
		return
	}
	for _, l := range t.Layers() {
		fmt.Printf("  %5d z=%-8.3f exp=%-6.2f off=%-5.2f lift=%v@%v pwm=%-3d px=%v\n",
			l.Index, l.PositionZ, l.ExposureTime, l.LightOffDelay, l.LiftHeight, l.LiftSpeed, l.LightPWM, l.NonZeroPixels)
	}
}

func writePNG(name string, l *layer.Layer) error {
	img := l.Image()
	if img == nil {
		return pipeline.ErrMissingImage
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img.Gray()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func check(fmtStr string, args ...interface{}) {
	err := args[len(args)-1]
	if err != nil {
		log.Fatalf(fmtStr, args...)
	}
}
