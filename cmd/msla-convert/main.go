// msla-convert rewrites a resin printer file, optionally changing its
// exposure settings, in the same or another supported format.
//
// When the output is the input file and only settings changed, the file
// is patched in place without re-encoding any layer.
//
// Usage:
//
//	msla-convert [-o out.ext] [-exposure s] [-bottom-exposure s] [-name machine] in.ext
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gmlewis/msla/batch"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/internal/config"
	"github.com/gmlewis/msla/internal/logging"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"

	_ "github.com/gmlewis/msla/ctb"
	_ "github.com/gmlewis/msla/cxdlp"
	_ "github.com/gmlewis/msla/osf"
	_ "github.com/gmlewis/msla/photon"
	_ "github.com/gmlewis/msla/zipper"
)

var (
	output         = flag.String("o", "", "Output file (default is to rewrite the input)")
	exposure       = flag.Float64("exposure", 0, "Normal layer exposure in seconds")
	bottomExposure = flag.Float64("bottom-exposure", 0, "Bottom layer exposure in seconds")
	machineName    = flag.String("name", "", "Machine name stored in the file")
)

func main() {
	cfg, err := config.Load(config.Find())
	check("config: %v", err)
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	check("log level: %v", cfg.Apply())

	if flag.NArg() != 1 {
		log.Fatalf("usage: %v [flags] in.ext", os.Args[0])
	}
	in := flag.Arg(0)
	out := *output
	if out == "" {
		out = in
	}
	inPlace := sameFile(in, out)

	ctrl := batch.NewController()
	pc := cfg.Pipeline()
	pc.Controller = ctrl
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctrl.Cancel()
	}()
	done := reportProgress(ctrl)
	defer close(done)

	// Settings-only edits of the same file only need the layer records.
	mode := pipeline.Full
	if inPlace {
		mode = pipeline.Metadata
	}
	doc, err := decodeFor(ctx, in, out, mode, pc)
	check("%v", err)
	edit(doc.Table())

	err = format.Save(ctx, doc, out, pc)
	if errors.Is(err, pipeline.ErrMissingImage) && mode == pipeline.Metadata {
		logging.Info("%v needs a full rewrite; decoding layer images", out)
		doc, err = decodeFor(ctx, in, out, pipeline.Full, pc)
		check("%v", err)
		edit(doc.Table())
		err = format.Save(ctx, doc, out, pc)
	}
	check("Save: %v", err)
	log.Printf("Wrote %v", out)
}

// decodeFor reads in and returns a document that saves in out's format.
func decodeFor(ctx context.Context, in, out string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	h, err := format.ForPath(out)
	if err != nil {
		return nil, err
	}
	doc, err := format.Decode(ctx, in, mode, cfg)
	if err != nil {
		return nil, err
	}
	src, _ := format.ForPath(in)
	if src.Name() != h.Name() {
		logging.Info("Converting %v from %v to %v", in, src.Name(), h.Name())
		return h.New(doc.Table()), nil
	}
	return doc, nil
}

// edit applies the flags that were set on the command line.
func edit(t *layer.Table) {
	var exposureChanged bool
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "exposure":
			t.Params.ExposureTime = float32(*exposure)
			exposureChanged = true
		case "bottom-exposure":
			t.Params.BottomExposureTime = float32(*bottomExposure)
			exposureChanged = true
		case "name":
			t.Params.MachineName = *machineName
		}
	})
	if !exposureChanged {
		return
	}
	for _, l := range t.Layers() {
		if l.IsBottom(t.Params.BottomLayers) {
			l.ExposureTime = t.Params.BottomExposureTime
		} else {
			l.ExposureTime = t.Params.ExposureTime
		}
	}
}

func reportProgress(ctrl *batch.Controller) chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if total := ctrl.Total(); total > 0 {
					logging.Info("%v/%v layers", ctrl.Done(), total)
				}
			}
		}
	}()
	return done
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return os.SameFile(ai, bi)
}

func check(fmtStr string, args ...interface{}) {
	err := args[len(args)-1]
	if err != nil {
		log.Fatalf(fmtStr, args...)
	}
}
