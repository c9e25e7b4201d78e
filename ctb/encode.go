package ctb

import (
	"context"
	"fmt"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"
)

// Encode writes every header and layer image to path.
//
// The file is laid out as header, preview, print parameters, layer
// table, layer data and finally the machine name.
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

	img := t.Preview(0)
	if img == nil {
		img = preview.Thumbnail(t, previewWidth, previewHeight)
	}
	var previewData []byte
	ph := previewHeader{Unknown10: f.preview.Unknown10}
	if img != nil {
		previewData = codec.EncodePreview(img)
		ph.Width = uint32(img.Bounds().Dx())
		ph.Height = uint32(img.Bounds().Dy())
		ph.DataSize = uint32(len(previewData))
	}

	pos := fileHeaderSize
	previewOffset := pos
	pos += previewHeaderSize
	ph.DataOffset = uint32(pos)
	pos += len(previewData)
	paramsOffset := pos
	pos += printParamsSize
	layerTableOffset := pos

	h := f.header
	h.Magic, h.Version = magic, version
	h.setParams(t)
	h.ResolutionX = uint32(t.Width())
	h.ResolutionY = uint32(t.Height())
	h.PreviewOffset = uint32(previewOffset)
	h.ParamsOffset = uint32(paramsOffset)
	h.ParamsSize = uint32(printParamsSize)
	h.LayerTableOffset = uint32(layerTableOffset)
	h.LayerCount = uint32(t.Len())
	h.EncryptionSeed = f.Seed
	h.MachineNameSize = uint32(len(t.Params.MachineName))

	pp := f.params
	pp.set(t.Params)

	defs := make([]layerDef, t.Len())
	for i, l := range t.Layers() {
		if i < len(f.layers) {
			defs[i].Unknown22 = f.layers[i].Unknown22
			defs[i].Unknown24 = f.layers[i].Unknown24
		}
		defs[i].set(l)
	}

	w := pipeline.NewOffsetWriter(tgt, order)
	// MachineNameOffset is patched once the layer data size is known.
	for _, v := range []interface{}{&h, &ph, previewData, &pp, defs} {
		if err := w.WriteStruct(v); err != nil {
			return tr.Fail(err)
		}
	}
	tr.To(pipeline.HeaderWritten)

	aw := pipeline.NewAppendWriter(w, t.Len())
	if err := pipeline.EncodeLayers(ctx, cfg, t, f.layerCodec(), aw); err != nil {
		return tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	for i, r := range aw.Regions {
		defs[i].DataOffset = uint32(r.Offset)
		defs[i].DataSize = uint32(r.Length)
	}
	if err := w.PatchStruct(int64(layerTableOffset), defs); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.LayersWritten)

	h.MachineNameOffset = uint32(w.Offset())
	if _, err := w.Write([]byte(t.Params.MachineName)); err != nil {
		return tr.Fail(err)
	}
	if err := w.PatchStruct(0, &h); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.FooterWritten)

	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	f.header, f.preview, f.params, f.layers = h, ph, pp, defs
	f.Origin.Set(path)
	t.MarkSaved()
	tr.To(pipeline.Done)
	return nil
}

// PartialSave rewrites the print parameters, machine name and per-layer
// settings of the file at path, keeping its layer data in place. It is
// not possible if the machine name changed length.
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

	var h fileHeader
	var pp printParams
	var defs []layerDef
	err := pipeline.PatchFile(path, func(out *os.File) error {
		if err := pipeline.ReadStruct(out, order, 0, &h); err != nil {
			return err
		}
		if h.Magic != magic || h.Version != version {
			return pipeline.Incompatiblef("%v is no longer a version %v ctb file", path, version)
		}
		if int(h.LayerCount) != t.Len() || int(h.ResolutionX) != t.Width() || int(h.ResolutionY) != t.Height() {
			return pipeline.Incompatiblef("%v has %v layers at %vx%v, table has %v at %vx%v",
				path, h.LayerCount, h.ResolutionX, h.ResolutionY, t.Len(), t.Width(), t.Height())
		}
		if int(h.MachineNameSize) != len(t.Params.MachineName) {
			return pipeline.Incompatiblef("machine name changed from %v to %v bytes", h.MachineNameSize, len(t.Params.MachineName))
		}
		if err := pipeline.ReadStruct(out, order, int64(h.ParamsOffset), &pp); err != nil {
			return err
		}
		defs = make([]layerDef, h.LayerCount)
		if err := pipeline.ReadStruct(out, order, int64(h.LayerTableOffset), defs); err != nil {
			return err
		}
		tr.To(pipeline.HeaderRead)

		h.setParams(t)
		pp.set(t.Params)
		for i, l := range t.Layers() {
			defs[i].set(l)
		}
		if err := pipeline.PatchStruct(out, order, 0, &h); err != nil {
			return err
		}
		if err := pipeline.PatchStruct(out, order, int64(h.ParamsOffset), &pp); err != nil {
			return err
		}
		if err := pipeline.PatchStruct(out, order, int64(h.LayerTableOffset), defs); err != nil {
			return err
		}
		_, err := out.WriteAt([]byte(t.Params.MachineName), int64(h.MachineNameOffset))
		return err
	})
	if err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.Patched)
	f.header, f.params, f.layers = h, pp, defs
	tr.To(pipeline.Done)
	return nil
}
