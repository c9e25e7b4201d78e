// Package cxdlp reads and writes Creality .cxdlp (version 3) files.
//
// The file has no offset table: header, preview, a per-layer area table,
// the layer blocks and a settings block follow each other, and a CRC32
// of everything before it closes the file. Layers are therefore read and
// written strictly in order and are never shared between indices.
package cxdlp

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Name is the registered format name.
const Name = "cxdlp"

var layerCodec = pipeline.LayerCodec{Kind: codec.Segment}

func init() {
	format.RegisterFormat(handler{})
}

type handler struct{}

func (handler) Name() string         { return Name }
func (handler) Extensions() []string { return []string{".cxdlp"} }

func (handler) Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	f, err := Decode(ctx, path, mode, cfg)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (handler) New(t *layer.Table) format.Document { return New(t) }

// File is a .cxdlp document.
type File struct {
	pipeline.Origin

	table *layer.Table

	// Tags holds the word that precedes each layer block. Encode writes
	// the layer index for layers without one.
	Tags []uint32

	settings settings
}

// New returns a File for t that has not been saved yet.
func New(t *layer.Table) *File {
	return &File{table: t}
}

// Table returns the layers and print parameters.
func (f *File) Table() *layer.Table { return f.table }

// layout records where the patchable parts of a file are.
type layout struct {
	name           string
	nameOffset     int64
	res            resolution
	preview        previewHeader
	previewData    []byte
	areaOffset     int64
	areas          []uint32
	settingsOffset int64
	settings       settings
	crcOffset      int64
	crc            uint32
}

// parse walks a whole file. layers is called when sr is positioned at
// the first layer block and must consume all of them.
func parse(sr *seqReader, layers func(l *layout) error) (*layout, error) {
	l := &layout{}
	m, err := sr.str("magic")
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, pipeline.Formatf("bad magic %q", m)
	}
	var v uint16
	if err := sr.value(&v, "version"); err != nil {
		return nil, err
	}
	if v != version {
		return nil, pipeline.Formatf("unsupported version %v", v)
	}
	l.nameOffset = sr.off + 4
	if l.name, err = sr.str("printer name"); err != nil {
		return nil, err
	}
	if err := sr.value(&l.res, "resolution"); err != nil {
		return nil, err
	}
	if l.res.ResolutionX == 0 || l.res.ResolutionY == 0 || l.res.ResolutionX > maxResolution || l.res.ResolutionY > maxResolution {
		return nil, pipeline.Formatf("resolution %vx%v", l.res.ResolutionX, l.res.ResolutionY)
	}

	if err := sr.value(&l.preview, "preview header"); err != nil {
		return nil, err
	}
	if l.previewData, err = sr.bytes(int64(l.preview.DataSize), "preview data"); err != nil {
		return nil, err
	}
	if err := sr.separator("preview"); err != nil {
		return nil, err
	}

	l.areaOffset = sr.off
	if err := sr.need(4*int64(l.res.LayerCount), "area table"); err != nil {
		return nil, err
	}
	l.areas = make([]uint32, l.res.LayerCount)
	if err := sr.value(l.areas, "area table"); err != nil {
		return nil, err
	}
	if err := sr.separator("area table"); err != nil {
		return nil, err
	}

	if err := layers(l); err != nil {
		return nil, err
	}

	l.settingsOffset = sr.off
	if err := sr.value(&l.settings, "settings"); err != nil {
		return nil, err
	}
	if m, err := sr.str("footer"); err != nil {
		return nil, err
	} else if m != magic {
		return nil, pipeline.Formatf("bad footer %q", m)
	}
	l.crcOffset = sr.off
	if err := sr.value(&l.crc, "checksum"); err != nil {
		return nil, err
	}
	return l, nil
}

// blockReader reads layer blocks: a uint32 tag, the segment payload
// (whose first word is its line count) and a line break.
type blockReader struct {
	sr     *seqReader
	width  int
	height int
	tags   []uint32
}

func (br *blockReader) block(index int, keep bool) ([]byte, error) {
	what := fmt.Sprintf("layer %v", index)
	var hdr [2]uint32
	if err := br.sr.value(&hdr, what); err != nil {
		return nil, err
	}
	br.tags[index] = hdr[0]
	lines := int64(hdr[1])
	if lines > int64(br.width)*int64(br.height) {
		return nil, &pipeline.CorruptLayerError{Index: index, Err: fmt.Errorf("%v segments in a %vx%v image: %w", lines, br.width, br.height, codec.ErrCorruptData)}
	}
	var data []byte
	if keep {
		payload, err := br.sr.bytes(lines*6, what)
		if err != nil {
			return nil, err
		}
		data = make([]byte, 4, 4+len(payload))
		order.PutUint32(data, hdr[1])
		data = append(data, payload...)
	} else if err := br.sr.skip(lines*6, what); err != nil {
		return nil, err
	}
	return data, br.sr.separator(what)
}

func (br *blockReader) ReadLayer(index int) ([]byte, error) { return br.block(index, true) }

func (br *blockReader) skipAll(n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.block(i, false); err != nil {
			return err
		}
	}
	return nil
}

func checksum(r io.ReaderAt, n int64) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, n)); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// Decode reads the .cxdlp file at path. In Metadata mode layer blocks
// are skipped.
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

	f := &File{}
	var t *layer.Table
	sr := newSeqReader(r, fi.Size())
	l, err := parse(sr, func(l *layout) error {
		tr.To(pipeline.HeaderRead)
		var err error
		t, err = layer.NewTable(int(l.res.ResolutionX), int(l.res.ResolutionY), int(l.res.LayerCount))
		if err != nil {
			return err
		}
		if l.preview.Width > 0 && l.preview.Height > 0 {
			img, err := codec.DecodePreview(l.previewData, int(l.preview.Width), int(l.preview.Height))
			if err != nil {
				return fmt.Errorf("preview: %w", err)
			}
			t.SetDecodedPreview(0, img)
		}
		f.Tags = make([]uint32, t.Len())
		tr.To(pipeline.LayersInitialized)

		br := &blockReader{sr: sr, width: t.Width(), height: t.Height(), tags: f.Tags}
		if mode != pipeline.Full {
			return br.skipAll(t.Len())
		}
		return pipeline.DecodeLayers(ctx, cfg, t, layerCodec, br)
	})
	if err != nil {
		return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	if mode == pipeline.Full {
		tr.To(pipeline.LayersPopulated)
	} else {
		tr.To(pipeline.MetadataOnly)
	}

	sum, err := checksum(r, l.crcOffset)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if sum != l.crc {
		t.ReleaseImages()
		return nil, tr.Fail(pipeline.Formatf("%v: checksum is %#08x, contents hash to %#08x", path, l.crc, sum))
	}

	t.Params = l.settings.params(l.name)
	t.ApplyParams()
	for i, area := range l.areas {
		t.Layer(i).NonZeroPixels = int(area)
	}
	t.ComputeDerived()

	f.table = t
	f.settings = l.settings
	f.Origin.Set(path)
	tr.To(pipeline.Done)
	return f, nil
}
