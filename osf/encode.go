package osf

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"
)

var errNoReuse = errors.New("osf layer data cannot be shared")

// inlineWriter writes each layer definition followed by its data.
type inlineWriter struct {
	w    *pipeline.OffsetWriter
	defs []layerDef
}

func (iw *inlineWriter) WriteLayer(index int, data []byte) (dedup.Region, error) {
	d := &iw.defs[index]
	d.DataSize = uint32(len(data))
	if err := iw.w.WriteStruct(d); err != nil {
		return dedup.Region{}, err
	}
	r := dedup.Region{Offset: iw.w.Offset(), Length: int64(len(data))}
	_, err := iw.w.Write(data)
	return r, err
}

func (iw *inlineWriter) ReuseLayer(index int, r dedup.Region) error {
	return fmt.Errorf("layer %v: %w", index, errNoReuse)
}

// Encode writes every layer image to path.
func (f *File) Encode(ctx context.Context, path string, cfg pipeline.Config) error {
	t := f.table
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Width() > maxResolution || t.Height() > maxResolution {
		return pipeline.Formatf("resolution %vx%v does not fit an osf header", t.Width(), t.Height())
	}
	cfg.Dedup = false
	t.ComputeDerived()
	tr := pipeline.NewTracer(Name, path)
	tgt, err := pipeline.CreateTarget(path)
	if err != nil {
		return tr.Fail(err)
	}
	defer tgt.Abort()

	img := t.Preview(0)
	if img == nil {
		img = preview.Thumbnail(t, previewWidth, previewHeight)
	} else if b := img.Bounds(); b.Dx() > 0xffff || b.Dy() > 0xffff {
		img = preview.Scale(img, previewWidth, previewHeight)
	}
	var previewData []byte
	h := f.header
	h.PreviewWidth, h.PreviewHeight = 0, 0
	if img != nil {
		previewData = codec.EncodePreview(img)
		h.PreviewWidth = uint16(img.Bounds().Dx())
		h.PreviewHeight = uint16(img.Bounds().Dy())
	}
	h.PreviewSize = uint32(len(previewData))
	h.HeaderSize = uint32(fileHeaderSize + len(previewData))
	h.Version = version
	h.ResolutionX = uint16(t.Width())
	h.ResolutionY = uint16(t.Height())
	h.LayerCount = uint32(t.Len())
	h.setParams(t.Params)

	defs := make([]layerDef, t.Len())
	for i, l := range t.Layers() {
		if i < len(f.layers) {
			defs[i].Unknown15 = f.layers[i].Unknown15
		}
		defs[i].set(l)
	}

	w := pipeline.NewOffsetWriter(tgt, order)
	if err := w.WriteStruct(&h); err != nil {
		return tr.Fail(err)
	}
	if _, err := w.Write(previewData); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.HeaderWritten)

	if err := pipeline.EncodeLayers(ctx, cfg, t, layerCodec, &inlineWriter{w: w, defs: defs}); err != nil {
		return tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	tr.To(pipeline.LayersWritten)

	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	f.header, f.layers = h, defs
	f.Origin.Set(path)
	t.MarkSaved()
	tr.To(pipeline.Done)
	return nil
}

// PartialSave rewrites the header parameters and every inline layer
// definition of the file at path, keeping the layer data in place.
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
	t.ComputeDerived()
	tr := pipeline.NewTracer(Name, path)

	var h *fileHeader
	var defs []layerDef
	err := pipeline.PatchFile(path, func(out *os.File) error {
		fi, err := out.Stat()
		if err != nil {
			return err
		}
		if h, err = readHeader(out, fi.Size()); err != nil {
			return pipeline.Incompatiblef("%v: %v", path, err)
		}
		if int(h.LayerCount) != t.Len() || int(h.ResolutionX) != t.Width() || int(h.ResolutionY) != t.Height() {
			return pipeline.Incompatiblef("%v has %v layers at %vx%v, table has %v at %vx%v",
				path, h.LayerCount, h.ResolutionX, h.ResolutionY, t.Len(), t.Width(), t.Height())
		}
		var offsets []int64
		if defs, offsets, _, err = walk(out, fi.Size(), h); err != nil {
			return pipeline.Incompatiblef("%v: %v", path, err)
		}
		tr.To(pipeline.HeaderRead)

		h.setParams(t.Params)
		if err := pipeline.PatchStruct(out, order, 0, h); err != nil {
			return err
		}
		for i, l := range t.Layers() {
			defs[i].set(l)
			if err := pipeline.PatchStruct(out, order, offsets[i], &defs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.Patched)
	f.header, f.layers = *h, defs
	tr.To(pipeline.Done)
	return nil
}
