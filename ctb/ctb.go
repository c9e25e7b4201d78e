// Package ctb reads and writes ChiTuBox .ctb (version 3) files.
//
// Layers are stored with the 7-bit grayscale codec and, when the header
// carries a non-zero seed, enciphered per layer.
package ctb

import (
	"context"
	"fmt"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Name is the registered format name.
const Name = "ctb"

func init() {
	format.RegisterFormat(handler{})
}

type handler struct{}

func (handler) Name() string         { return Name }
func (handler) Extensions() []string { return []string{".ctb"} }

func (handler) Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	f, err := Decode(ctx, path, mode, cfg)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (handler) New(t *layer.Table) format.Document { return New(t) }

// File is a .ctb document.
type File struct {
	pipeline.Origin

	// Seed keys the layer cipher. Zero stores layers in the clear.
	Seed uint32

	table *layer.Table

	// As last read from or written to disk.
	header  fileHeader
	preview previewHeader
	params  printParams
	layers  []layerDef
}

// New returns an unencrypted File for t that has not been saved yet.
func New(t *layer.Table) *File {
	return &File{table: t, header: fileHeader{Magic: magic, Version: version}}
}

// Table returns the layers and print parameters.
func (f *File) Table() *layer.Table { return f.table }

func (f *File) layerCodec() pipeline.LayerCodec {
	return pipeline.LayerCodec{Kind: codec.Gray7, Seed: f.Seed}
}

// Decode reads the .ctb file at path. In Metadata mode layer images are
// left undecoded.
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
	h := &f.header
	if err := pipeline.ReadStruct(r, order, 0, h); err != nil {
		return nil, tr.Fail(err)
	}
	if h.Magic != magic {
		return nil, tr.Fail(pipeline.Formatf("%v: bad magic %#x", path, h.Magic))
	}
	if h.Version != version {
		return nil, tr.Fail(pipeline.Formatf("%v: unsupported version %v", path, h.Version))
	}
	if h.ResolutionX == 0 || h.ResolutionY == 0 || h.ResolutionX > maxResolution || h.ResolutionY > maxResolution {
		return nil, tr.Fail(pipeline.Formatf("%v: resolution %vx%v", path, h.ResolutionX, h.ResolutionY))
	}
	if h.MachineNameSize > maxMachineName {
		return nil, tr.Fail(pipeline.Formatf("%v: machine name is %v bytes", path, h.MachineNameSize))
	}
	if end := int64(h.LayerTableOffset) + int64(h.LayerCount)*int64(layerDefSize); end > size {
		return nil, tr.Fail(fmt.Errorf("%v: layer table ends at %v, file is %v bytes: %w", path, end, size, pipeline.ErrTruncated))
	}
	f.Seed = h.EncryptionSeed
	tr.To(pipeline.HeaderRead)

	if err := pipeline.ReadStruct(r, order, int64(h.ParamsOffset), &f.params); err != nil {
		return nil, tr.Fail(err)
	}
	name, err := pipeline.ReadBytes(r, size, int64(h.MachineNameOffset), int64(h.MachineNameSize), "machine name")
	if err != nil {
		return nil, tr.Fail(err)
	}

	t, err := layer.NewTable(int(h.ResolutionX), int(h.ResolutionY), int(h.LayerCount))
	if err != nil {
		return nil, tr.Fail(err)
	}
	t.Params = h.params(&f.params, string(name))
	t.ApplyParams()

	if h.PreviewOffset != 0 {
		if err := pipeline.ReadStruct(r, order, int64(h.PreviewOffset), &f.preview); err != nil {
			return nil, tr.Fail(err)
		}
		ph := &f.preview
		if ph.Width > maxResolution || ph.Height > maxResolution {
			return nil, tr.Fail(pipeline.Formatf("%v: preview size %vx%v", path, ph.Width, ph.Height))
		}
		if ph.Width > 0 && ph.Height > 0 {
			data, err := pipeline.ReadBytes(r, size, int64(ph.DataOffset), int64(ph.DataSize), "preview data")
			if err != nil {
				return nil, tr.Fail(err)
			}
			img, err := codec.DecodePreview(data, int(ph.Width), int(ph.Height))
			if err != nil {
				return nil, tr.Fail(fmt.Errorf("%v: preview: %w", path, err))
			}
			t.SetDecodedPreview(0, img)
		}
	}

	f.layers = make([]layerDef, h.LayerCount)
	if err := pipeline.ReadStruct(r, order, int64(h.LayerTableOffset), f.layers); err != nil {
		return nil, tr.Fail(err)
	}
	regions := make([]dedup.Region, len(f.layers))
	for i := range f.layers {
		d := &f.layers[i]
		d.apply(t.Layer(i))
		regions[i] = dedup.Region{Offset: int64(d.DataOffset), Length: int64(d.DataSize)}
	}
	tr.To(pipeline.LayersInitialized)

	if mode == pipeline.Full {
		rr := &pipeline.RegionReader{R: r, Size: size, Regions: regions}
		if err := pipeline.DecodeLayers(ctx, cfg, t, f.layerCodec(), rr); err != nil {
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
