// Package osf reads and writes .osf files.
//
// Every layer definition sits directly in front of its image data, so the
// layer table is discovered by walking the file and no two layers can
// share stored data.
package osf

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Name is the registered format name.
const Name = "osf"

var layerCodec = pipeline.LayerCodec{Kind: codec.VarLen}

func init() {
	format.RegisterFormat(handler{})
}

type handler struct{}

func (handler) Name() string         { return Name }
func (handler) Extensions() []string { return []string{".osf"} }

func (handler) Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	f, err := Decode(ctx, path, mode, cfg)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (handler) New(t *layer.Table) format.Document { return New(t) }

// File is an .osf document.
type File struct {
	pipeline.Origin

	table  *layer.Table
	header fileHeader
	layers []layerDef
}

// New returns a File for t that has not been saved yet.
func New(t *layer.Table) *File {
	return &File{table: t}
}

// Table returns the layers and print parameters.
func (f *File) Table() *layer.Table { return f.table }

// readHeader reads and checks the file header.
func readHeader(r io.ReaderAt, size int64) (*fileHeader, error) {
	h := &fileHeader{}
	if err := pipeline.ReadStruct(r, order, 0, h); err != nil {
		return nil, err
	}
	if h.Version != version {
		return nil, pipeline.Formatf("unsupported version %v", h.Version)
	}
	if int64(h.HeaderSize) < int64(fileHeaderSize)+int64(h.PreviewSize) {
		return nil, pipeline.Formatf("header size %v leaves no room for a %v-byte preview", h.HeaderSize, h.PreviewSize)
	}
	if h.ResolutionX == 0 || h.ResolutionY == 0 || h.ResolutionX > maxResolution || h.ResolutionY > maxResolution {
		return nil, pipeline.Formatf("resolution %vx%v", h.ResolutionX, h.ResolutionY)
	}
	if need := int64(h.HeaderSize) + int64(h.LayerCount)*int64(layerDefSize); need > size {
		return nil, fmt.Errorf("%v layer definitions need %v bytes, file is %v: %w", h.LayerCount, need, size, pipeline.ErrTruncated)
	}
	return h, nil
}

// walk reads the inline layer definitions, returning each with the
// offset of the definition and the region of its data.
func walk(r io.ReaderAt, size int64, h *fileHeader) ([]layerDef, []int64, []dedup.Region, error) {
	n := int(h.LayerCount)
	defs := make([]layerDef, n)
	offsets := make([]int64, n)
	regions := make([]dedup.Region, n)
	off := int64(h.HeaderSize)
	for i := range defs {
		offsets[i] = off
		if err := pipeline.ReadStruct(r, order, off, &defs[i]); err != nil {
			return nil, nil, nil, fmt.Errorf("layer %v: %w", i, err)
		}
		off += int64(layerDefSize)
		length := int64(defs[i].DataSize)
		if off+length > size {
			return nil, nil, nil, fmt.Errorf("layer %v: %v data bytes at %v past end of %v-byte file: %w", i, length, off, size, pipeline.ErrTruncated)
		}
		regions[i] = dedup.Region{Offset: off, Length: length}
		off += length
	}
	return defs, offsets, regions, nil
}

// Decode reads the .osf file at path. In Metadata mode layer images are
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

	h, err := readHeader(r, size)
	if err != nil {
		return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	tr.To(pipeline.HeaderRead)

	t, err := layer.NewTable(int(h.ResolutionX), int(h.ResolutionY), int(h.LayerCount))
	if err != nil {
		return nil, tr.Fail(err)
	}
	t.Params = h.params()

	if h.PreviewWidth > 0 && h.PreviewHeight > 0 {
		data, err := pipeline.ReadBytes(r, size, int64(fileHeaderSize), int64(h.PreviewSize), "preview data")
		if err != nil {
			return nil, tr.Fail(err)
		}
		img, err := codec.DecodePreview(data, int(h.PreviewWidth), int(h.PreviewHeight))
		if err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: preview: %w", path, err))
		}
		t.SetDecodedPreview(0, img)
	}

	defs, _, regions, err := walk(r, size, h)
	if err != nil {
		return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	for i := range defs {
		defs[i].apply(t.Layer(i))
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

	f := &File{table: t, header: *h, layers: defs}
	f.Origin.Set(path)
	tr.To(pipeline.Done)
	return f, nil
}
