// Package photon reads and writes ChiTuBox .cbddlp files (which are
// identical to AnyCubic .photon files).
//
// This is based on: github.com/Andoryuuta/photon
// with the major difference that this code does not hold the full
// model in-memory but instead streams the images to and from the file
// a batch at a time.
package photon

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Name is the registered format name.
const Name = "photon"

var layerCodec = pipeline.LayerCodec{Kind: codec.Photon}

func init() {
	format.RegisterFormat(handler{})
}

type handler struct{}

func (handler) Name() string         { return Name }
func (handler) Extensions() []string { return []string{".photon", ".cbddlp"} }

func (handler) Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	f, err := Decode(ctx, path, mode, cfg)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (handler) New(t *layer.Table) format.Document { return New(t) }

// File is a .photon document.
type File struct {
	pipeline.Origin

	table *layer.Table

	// As last read from or written to disk. Unknown fields are kept.
	header   fileHeader
	previews [2]previewHeader
	layers   []layerHeader
}

// New returns a File for t that has not been saved yet.
func New(t *layer.Table) *File {
	return &File{table: t, header: fileHeader{Magic: magic, Version: version, ProjectionType: 1}}
}

// Table returns the layers and print parameters.
func (f *File) Table() *layer.Table { return f.table }

// Decode reads the .photon file at path. In Metadata mode layer images
// are left undecoded.
func Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (*File, error) {
	tr := pipeline.NewTracer(Name, path)
	r, err := os.Open(path)
	if err != nil {
		return nil, tr.Fail(err)
	}
	defer r.Close()
	fi, err := r.Stat()
	if err != nil {
		return nil, tr.Fail(err)
	}
	size := fi.Size()

	f := &File{}
	if err := pipeline.ReadStruct(r, order, 0, &f.header); err != nil {
		return nil, tr.Fail(err)
	}
	h := &f.header
	if h.Magic != magic {
		return nil, tr.Fail(pipeline.Formatf("%v: bad magic %#x", path, h.Magic))
	}
	if h.Version != version {
		return nil, tr.Fail(pipeline.Formatf("%v: unsupported version %v", path, h.Version))
	}
	if h.ResolutionX == 0 || h.ResolutionY == 0 || h.ResolutionX > maxResolution || h.ResolutionY > maxResolution {
		return nil, tr.Fail(pipeline.Formatf("%v: resolution %vx%v", path, h.ResolutionX, h.ResolutionY))
	}
	if end := int64(h.LayerTableOffset) + int64(h.LayerCount)*int64(layerHeaderSize); end > size {
		return nil, tr.Fail(fmt.Errorf("%v: layer table ends at %v, file is %v bytes: %w", path, end, size, pipeline.ErrTruncated))
	}
	tr.To(pipeline.HeaderRead)

	t, err := layer.NewTable(int(h.ResolutionX), int(h.ResolutionY), int(h.LayerCount))
	if err != nil {
		return nil, tr.Fail(err)
	}
	t.Params = h.params()
	t.ApplyParams()

	for i, off := range []uint32{h.PreviewOffset, h.ThumbnailOffset} {
		if off == 0 {
			continue
		}
		img, err := readPreview(r, size, int64(off), &f.previews[i])
		if err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: preview %v: %w", path, i, err))
		}
		if img != nil {
			t.SetDecodedPreview(i, img)
		}
	}

	f.layers = make([]layerHeader, h.LayerCount)
	if err := pipeline.ReadStruct(r, order, int64(h.LayerTableOffset), f.layers); err != nil {
		return nil, tr.Fail(err)
	}
	regions := make([]dedup.Region, len(f.layers))
	for i := range f.layers {
		lh := &f.layers[i]
		lh.apply(t.Layer(i))
		regions[i] = dedup.Region{Offset: int64(lh.DataOffset), Length: int64(lh.DataSize)}
	}
	tr.To(pipeline.LayersInitialized)

	if mode == pipeline.Full {
		rr := &pipeline.RegionReader{R: r, Size: size, Regions: regions}
		if err := pipeline.DecodeLayers(ctx, cfg, t, layerCodec, rr); err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
		}
		tr.To(pipeline.LayersPopulated)
	} else {
		tr.To(pipeline.MetadataOnly)
	}
	t.ComputeDerived()

	f.table = t
	f.Origin.Set(path)
	tr.To(pipeline.Done)
	return f, nil
}

func readPreview(r *os.File, size, off int64, ph *previewHeader) (*image.RGBA, error) {
	if err := pipeline.ReadStruct(r, order, off, ph); err != nil {
		return nil, err
	}
	if ph.Width == 0 || ph.Height == 0 {
		return nil, nil
	}
	if ph.Width > maxResolution || ph.Height > maxResolution {
		return nil, pipeline.Formatf("preview size %vx%v", ph.Width, ph.Height)
	}
	data, err := pipeline.ReadBytes(r, size, int64(ph.DataOffset), int64(ph.DataSize), "preview data")
	if err != nil {
		return nil, err
	}
	return codec.DecodePreview(data, int(ph.Width), int(ph.Height))
}
