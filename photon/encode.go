package photon

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"
)

// Encode writes every header and layer image to path. Missing previews
// are rendered from the layer images.
func (f *File) Encode(ctx context.Context, path string, cfg pipeline.Config) error {
	t := f.table
	if err := t.Validate(); err != nil {
		return err
	}
	tr := pipeline.NewTracer(Name, path)
	tgt, err := pipeline.CreateTarget(path)
	if err != nil {
		return tr.Fail(err)
	}
	defer tgt.Abort()

	var previewData [2][]byte
	var previews [2]previewHeader
	sizes := [2]image.Point{{previewWidth, previewHeight}, {thumbnailWidth, thumbnailHeight}}
	for i := range previews {
		img := t.Preview(i)
		if img == nil {
			img = preview.Thumbnail(t, sizes[i].X, sizes[i].Y)
		}
		previews[i].Unknown10 = f.previews[i].Unknown10
		if img == nil {
			continue
		}
		previewData[i] = codec.EncodePreview(img)
		previews[i].Width = uint32(img.Bounds().Dx())
		previews[i].Height = uint32(img.Bounds().Dy())
		previews[i].DataSize = uint32(len(previewData[i]))
	}

	pos := fileHeaderSize

	// Preview offsets
	previewOffset := pos
	pos += previewHeaderSize
	previews[0].DataOffset = uint32(pos)
	pos += len(previewData[0])

	// Thumbnail offsets
	thumbnailOffset := pos
	pos += previewHeaderSize
	previews[1].DataOffset = uint32(pos)
	pos += len(previewData[1])

	layerTableOffset := pos

	h := f.header
	h.Magic, h.Version = magic, version
	h.setParams(t.Params)
	h.ResolutionX = uint32(t.Width())
	h.ResolutionY = uint32(t.Height())
	h.PreviewOffset = uint32(previewOffset)
	h.ThumbnailOffset = uint32(thumbnailOffset)
	h.LayerTableOffset = uint32(layerTableOffset)
	h.LayerCount = uint32(t.Len())

	hdrs := make([]layerHeader, t.Len())
	for i, l := range t.Layers() {
		if i < len(f.layers) {
			hdrs[i].Unknown14 = f.layers[i].Unknown14
		}
		hdrs[i].set(l)
	}

	// Start forming and writing the file from here
	w := pipeline.NewOffsetWriter(tgt, order)
	if err := w.WriteStruct(&h); err != nil {
		return tr.Fail(err)
	}
	for i := range previews {
		if err := w.WriteStruct(&previews[i]); err != nil {
			return tr.Fail(err)
		}
		if _, err := w.Write(previewData[i]); err != nil {
			return tr.Fail(err)
		}
	}
	// The data offsets in this table are patched once the layers are written.
	if err := w.WriteStruct(hdrs); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.HeaderWritten)

	aw := pipeline.NewAppendWriter(w, t.Len())
	if err := pipeline.EncodeLayers(ctx, cfg, t, layerCodec, aw); err != nil {
		return tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	for i, r := range aw.Regions {
		hdrs[i].DataOffset = uint32(r.Offset)
		hdrs[i].DataSize = uint32(r.Length)
	}

	// Go back and write all the image offset data.
	if err := w.PatchStruct(int64(layerTableOffset), hdrs); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.LayersWritten)

	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	f.header, f.previews, f.layers = h, previews, hdrs
	f.Origin.Set(path)
	t.MarkSaved()
	tr.To(pipeline.Done)
	return nil
}

// PartialSave rewrites the print parameters and per-layer exposure
// settings of the file at path, keeping its layer data in place.
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

	var h fileHeader
	var hdrs []layerHeader
	err := pipeline.PatchFile(path, func(out *os.File) error {
		if err := pipeline.ReadStruct(out, order, 0, &h); err != nil {
			return err
		}
		if h.Magic != magic || h.Version != version {
			return pipeline.Incompatiblef("%v is no longer a version %v photon file", path, version)
		}
		if int(h.LayerCount) != t.Len() || int(h.ResolutionX) != t.Width() || int(h.ResolutionY) != t.Height() {
			return pipeline.Incompatiblef("%v has %v layers at %vx%v, table has %v at %vx%v",
				path, h.LayerCount, h.ResolutionX, h.ResolutionY, t.Len(), t.Width(), t.Height())
		}
		hdrs = make([]layerHeader, h.LayerCount)
		if err := pipeline.ReadStruct(out, order, int64(h.LayerTableOffset), hdrs); err != nil {
			return err
		}
		tr.To(pipeline.HeaderRead)

		h.setParams(t.Params)
		for i, l := range t.Layers() {
			hdrs[i].set(l)
		}
		if err := pipeline.PatchStruct(out, order, 0, &h); err != nil {
			return err
		}
		return pipeline.PatchStruct(out, order, int64(h.LayerTableOffset), hdrs)
	})
	if err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.Patched)
	f.header, f.layers = h, hdrs
	tr.To(pipeline.Done)
	return nil
}
