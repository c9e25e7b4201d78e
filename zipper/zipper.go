// Package zipper reads and writes layer stacks stored in ZIP archives.
//
// An archive holds manifest.json with the print and layer settings,
// preview.png, and one compressed layer image per entry under layers/.
// Layer entries are zstd-compressed; identical layers share an entry.
package zipper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/draw"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Name is the registered format name.
const Name = "zip"

func init() {
	format.RegisterFormat(handler{})
}

type handler struct{}

func (handler) Name() string         { return Name }
func (handler) Extensions() []string { return []string{".zip"} }

func (handler) Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (format.Document, error) {
	f, err := Decode(ctx, path, mode, cfg)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (handler) New(t *layer.Table) format.Document { return New(t) }

// File is a zipped layer stack.
type File struct {
	pipeline.Origin

	// Codec compresses layer entries. New files use codec.Nibble.
	Codec codec.Kind

	table *layer.Table
}

// New returns a File for t that has not been saved yet.
func New(t *layer.Table) *File {
	return &File{table: t, Codec: codec.Nibble}
}

// Table returns the layers and print parameters.
func (f *File) Table() *layer.Table { return f.table }

func newWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	))
	return zw
}

func registerDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor(
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
	))
}

// entryReader reads layer entries by the names the manifest gives.
type entryReader struct {
	files   map[string]*zip.File
	entries []layerEntry
	limit   uint64
}

func newEntryReader(zr *zip.Reader, m *manifest) *entryReader {
	er := &entryReader{
		files:   make(map[string]*zip.File, len(zr.File)),
		entries: m.Layers,
		limit:   8*uint64(m.Width)*uint64(m.Height) + 64,
	}
	for _, zf := range zr.File {
		er.files[zf.Name] = zf
	}
	return er
}

func (er *entryReader) file(index int) (*zip.File, error) {
	name := er.entries[index].File
	zf, ok := er.files[name]
	if !ok {
		return nil, pipeline.Formatf("layer %v: no entry %q", index, name)
	}
	return zf, nil
}

func (er *entryReader) ReadLayer(index int) ([]byte, error) {
	zf, err := er.file(index)
	if err != nil {
		return nil, err
	}
	if zf.UncompressedSize64 > er.limit {
		return nil, pipeline.Formatf("layer %v: entry %q is %v bytes", index, zf.Name, zf.UncompressedSize64)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, int64(er.limit)))
	if err != nil {
		return nil, pipeline.ReadError(zf.Name, err)
	}
	return data, nil
}

func readPreview(zf *zip.File) (*image.RGBA, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, err := png.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", previewName, err)
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

// Decode reads the archive at path. In Metadata mode layer entries are
// not opened.
func Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (*File, error) {
	tr := pipeline.NewTracer(Name, path)
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) {
			err = pipeline.Formatf("%v: %v", path, err)
		}
		return nil, tr.Fail(err)
	}
	defer zr.Close()
	registerDecompressors(&zr.Reader)

	m, _, err := readManifest(&zr.Reader)
	if err != nil {
		return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	kind, err := codec.ParseKind(m.Codec)
	if err != nil {
		return nil, tr.Fail(pipeline.Formatf("%v: %v", path, err))
	}
	tr.To(pipeline.HeaderRead)

	t, err := layer.NewTable(m.Width, m.Height, len(m.Layers))
	if err != nil {
		return nil, tr.Fail(err)
	}
	t.Params = m.params()
	er := newEntryReader(&zr.Reader, m)
	for i := range m.Layers {
		if _, err := er.file(i); err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
		}
		m.Layers[i].apply(t.Layer(i))
	}
	if zf, ok := er.files[previewName]; ok {
		img, err := readPreview(zf)
		if err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
		}
		t.SetDecodedPreview(0, img)
	}
	tr.To(pipeline.LayersInitialized)

	if mode == pipeline.Full {
		if err := pipeline.DecodeLayers(ctx, cfg, t, pipeline.LayerCodec{Kind: kind}, er); err != nil {
			return nil, tr.Fail(fmt.Errorf("%v: %w", path, err))
		}
		tr.To(pipeline.LayersPopulated)
	} else {
		tr.To(pipeline.MetadataOnly)
	}
	t.ComputeDerived()

	f := &File{table: t, Codec: kind}
	f.Origin.Set(path)
	tr.To(pipeline.Done)
	return f, nil
}
