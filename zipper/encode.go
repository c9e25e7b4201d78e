package zipper

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"
)

const previewWidth, previewHeight = 400, 300

// entryWriter stores each layer as its own archive entry. A region's
// Offset is the index of the layer whose entry holds the data.
type entryWriter struct {
	zw      *zip.Writer
	entries []layerEntry
}

func (ew *entryWriter) WriteLayer(index int, data []byte) (dedup.Region, error) {
	name := fmt.Sprintf(layerNameFmt, index)
	w, err := ew.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zstd.ZipMethodWinZip,
		Modified: time.Now(),
	})
	if err != nil {
		return dedup.Region{}, fmt.Errorf("unable to create %v: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return dedup.Region{}, err
	}
	ew.entries[index].File = name
	return dedup.Region{Offset: int64(index), Length: int64(len(data))}, nil
}

func (ew *entryWriter) ReuseLayer(index int, r dedup.Region) error {
	ew.entries[index].File = ew.entries[r.Offset].File
	return nil
}

func (f *File) manifest(t *layer.Table) *manifest {
	m := &manifest{
		Version: manifestVersion,
		Codec:   f.Codec.String(),
		Width:   t.Width(),
		Height:  t.Height(),
		Params:  params(t.Params),
		Layers:  make([]layerEntry, t.Len()),
	}
	for i, l := range t.Layers() {
		m.Layers[i] = newEntry(l)
	}
	return m
}

func writePreview(zw *zip.Writer, img *image.RGBA) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     previewName,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("unable to create %v: %w", previewName, err)
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("PNG encode: %w", err)
	}
	return nil
}

// Encode writes a new archive at path.
func (f *File) Encode(ctx context.Context, path string, cfg pipeline.Config) error {
	t := f.table
	if err := t.Validate(); err != nil {
		return err
	}
	t.ComputeDerived()
	tr := pipeline.NewTracer(Name, path)
	tgt, err := pipeline.CreateTarget(path)
	if err != nil {
		return tr.Fail(err)
	}
	defer tgt.Abort()
	zw := newWriter(tgt)

	img := t.Preview(0)
	if img == nil {
		img = preview.Thumbnail(t, previewWidth, previewHeight)
	}
	if img != nil {
		if err := writePreview(zw, img); err != nil {
			return tr.Fail(err)
		}
	}
	tr.To(pipeline.HeaderWritten)

	m := f.manifest(t)
	if err := pipeline.EncodeLayers(ctx, cfg, t, pipeline.LayerCodec{Kind: f.Codec}, &entryWriter{zw: zw, entries: m.Layers}); err != nil {
		return tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	tr.To(pipeline.LayersWritten)

	if err := writeManifest(zw, m, time.Now()); err != nil {
		return tr.Fail(err)
	}
	if err := zw.Close(); err != nil {
		return tr.Fail(fmt.Errorf("unable to close ZIP writer: %w", err))
	}
	tr.To(pipeline.FooterWritten)

	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	f.Origin.Set(path)
	t.MarkSaved()
	tr.To(pipeline.Done)
	return nil
}

// PartialSave replaces the manifest of the archive at path, copying the
// preview and every layer entry without recompressing it.
func (f *File) PartialSave(ctx context.Context, path string) error {
	t := f.table
	if err := f.Origin.Check(path); err != nil {
		return err
	}
	if t.NeedsFullEncode() {
		return pipeline.Incompatiblef("layer images or structure changed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tr := pipeline.NewTracer(Name, path)

	zr, err := zip.OpenReader(path)
	if err != nil {
		return tr.Fail(pipeline.Incompatiblef("%v: %v", path, err))
	}
	defer zr.Close()
	old, mf, err := readManifest(&zr.Reader)
	if err != nil {
		return tr.Fail(pipeline.Incompatiblef("%v: %v", path, err))
	}
	if len(old.Layers) != t.Len() || old.Width != t.Width() || old.Height != t.Height() || old.Codec != f.Codec.String() {
		return tr.Fail(pipeline.Incompatiblef("%v has %v %v layers at %vx%v, table has %v %v layers at %vx%v",
			path, len(old.Layers), old.Codec, old.Width, old.Height, t.Len(), f.Codec, t.Width(), t.Height()))
	}
	er := newEntryReader(&zr.Reader, old)
	m := f.manifest(t)
	for i := range m.Layers {
		if _, err := er.file(i); err != nil {
			return tr.Fail(pipeline.Incompatiblef("%v: %v", path, err))
		}
		m.Layers[i].File = old.Layers[i].File
	}
	tr.To(pipeline.HeaderRead)

	tgt, err := pipeline.CreateTarget(path)
	if err != nil {
		return tr.Fail(err)
	}
	defer tgt.Abort()
	zw := newWriter(tgt)
	for _, zf := range zr.File {
		if zf == mf {
			if err := writeManifest(zw, m, mf.Modified); err != nil {
				return tr.Fail(err)
			}
			continue
		}
		if err := zw.Copy(zf); err != nil {
			return tr.Fail(fmt.Errorf("copy %v: %w", zf.Name, err))
		}
	}
	if err := zw.Close(); err != nil {
		return tr.Fail(fmt.Errorf("unable to close ZIP writer: %w", err))
	}
	zr.Close()
	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.Patched)
	tr.To(pipeline.Done)
	return nil
}
