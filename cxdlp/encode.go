package cxdlp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/pipeline"
	"github.com/gmlewis/msla/preview"
)

var errNoReuse = errors.New("cxdlp layer blocks cannot be shared")

// countWriter tracks the offset of a sequential writer.
type countWriter struct {
	w   io.Writer
	off int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.off += int64(n)
	return n, err
}

func (c *countWriter) put(vs ...interface{}) error {
	for _, v := range vs {
		if err := binary.Write(c, order, v); err != nil {
			return err
		}
	}
	return nil
}

// blockWriter appends layer blocks.
type blockWriter struct {
	w    *countWriter
	tags []uint32
}

func (bw *blockWriter) WriteLayer(index int, data []byte) (dedup.Region, error) {
	if err := bw.w.put(bw.tags[index]); err != nil {
		return dedup.Region{}, err
	}
	r := dedup.Region{Offset: bw.w.off, Length: int64(len(data))}
	if _, err := bw.w.Write(data); err != nil {
		return dedup.Region{}, err
	}
	return r, bw.w.put(crlf)
}

func (bw *blockWriter) ReuseLayer(index int, r dedup.Region) error {
	return fmt.Errorf("layer %v: %w", index, errNoReuse)
}

// Encode writes every layer image to path. Layers are always stored
// individually.
func (f *File) Encode(ctx context.Context, path string, cfg pipeline.Config) error {
	t := f.table
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Len() > 0xffff || t.Width() > maxResolution || t.Height() > maxResolution {
		return pipeline.Formatf("%v layers at %vx%v do not fit a cxdlp header", t.Len(), t.Width(), t.Height())
	}
	if len(t.Params.MachineName) > maxString {
		return pipeline.Formatf("printer name is %v bytes", len(t.Params.MachineName))
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
		img = preview.Thumbnail(t, previewSize, previewSize)
	} else if b := img.Bounds(); b.Dx() > previewSize || b.Dy() > previewSize {
		img = preview.Scale(img, previewSize, previewSize)
	}
	var previewData []byte
	var ph previewHeader
	if img != nil {
		previewData = codec.EncodePreview(img)
		ph = previewHeader{Width: uint16(img.Bounds().Dx()), Height: uint16(img.Bounds().Dy()), DataSize: uint32(len(previewData))}
	}

	tags := make([]uint32, t.Len())
	areas := make([]uint32, t.Len())
	for i, l := range t.Layers() {
		tags[i] = uint32(i)
		if i < len(f.Tags) {
			tags[i] = f.Tags[i]
		}
		areas[i] = uint32(l.NonZeroPixels)
	}
	s := f.settings
	s.set(t.Params)

	bw := bufio.NewWriterSize(tgt, 1<<16)
	crc := crc32.NewIEEE()
	w := &countWriter{w: io.MultiWriter(bw, crc)}

	if err := writeHeader(w, t.Params.MachineName, t.Width(), t.Height(), t.Len(), ph, previewData, areas); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.HeaderWritten)

	if err := pipeline.EncodeLayers(ctx, cfg, t, layerCodec, &blockWriter{w: w, tags: tags}); err != nil {
		return tr.Fail(fmt.Errorf("%v: %w", path, err))
	}
	tr.To(pipeline.LayersWritten)

	if err := writeFooter(w, crc, &s); err != nil {
		return tr.Fail(err)
	}
	if err := bw.Flush(); err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.FooterWritten)

	if err := tgt.Commit(); err != nil {
		return tr.Fail(err)
	}
	f.Tags, f.settings = tags, s
	f.Origin.Set(path)
	t.MarkSaved()
	tr.To(pipeline.Done)
	return nil
}

func writeHeader(w *countWriter, name string, width, height, count int, ph previewHeader, previewData []byte, areas []uint32) error {
	if err := putStr(w, magic); err != nil {
		return err
	}
	if err := w.put(uint16(version)); err != nil {
		return err
	}
	if err := putStr(w, name); err != nil {
		return err
	}
	res := resolution{LayerCount: uint16(count), ResolutionX: uint16(width), ResolutionY: uint16(height)}
	return w.put(&res, &ph, previewData, crlf, areas, crlf)
}

// writeFooter writes the settings and closing magic, then the checksum
// of everything written through crc so far.
func writeFooter(w *countWriter, crc hash.Hash32, s *settings) error {
	if err := w.put(s); err != nil {
		return err
	}
	if err := putStr(w, magic); err != nil {
		return err
	}
	return w.put(crc.Sum32())
}

// PartialSave rewrites the settings, printer name and area table of the
// file at path and refreshes its checksum. The layer blocks are left in
// place, so the printer name must keep its length.
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

	var s settings
	err := pipeline.PatchFile(path, func(out *os.File) error {
		fi, err := out.Stat()
		if err != nil {
			return err
		}
		sr := newSeqReader(out, fi.Size())
		l, err := parse(sr, func(l *layout) error {
			if int(l.res.LayerCount) != t.Len() || int(l.res.ResolutionX) != t.Width() || int(l.res.ResolutionY) != t.Height() {
				return pipeline.Incompatiblef("%v has %v layers at %vx%v, table has %v at %vx%v",
					path, l.res.LayerCount, l.res.ResolutionX, l.res.ResolutionY, t.Len(), t.Width(), t.Height())
			}
			br := &blockReader{sr: sr, width: t.Width(), height: t.Height(), tags: make([]uint32, t.Len())}
			return br.skipAll(t.Len())
		})
		if err != nil {
			var pe *pipeline.CorruptLayerError
			if errors.As(err, &pe) {
				return pipeline.Incompatiblef("%v: %v", path, err)
			}
			return err
		}
		if len(l.name) != len(t.Params.MachineName) {
			return pipeline.Incompatiblef("printer name changed from %v to %v bytes", len(l.name), len(t.Params.MachineName))
		}
		tr.To(pipeline.HeaderRead)

		s = l.settings
		s.set(t.Params)
		areas := make([]uint32, t.Len())
		for i, ly := range t.Layers() {
			areas[i] = uint32(ly.NonZeroPixels)
		}
		if _, err := out.WriteAt([]byte(t.Params.MachineName), l.nameOffset); err != nil {
			return err
		}
		if err := pipeline.PatchStruct(out, order, l.areaOffset, areas); err != nil {
			return err
		}
		if err := pipeline.PatchStruct(out, order, l.settingsOffset, &s); err != nil {
			return err
		}
		sum, err := checksum(out, l.crcOffset)
		if err != nil {
			return err
		}
		return pipeline.PatchStruct(out, order, l.crcOffset, sum)
	})
	if err != nil {
		return tr.Fail(err)
	}
	tr.To(pipeline.Patched)
	f.settings = s
	tr.To(pipeline.Done)
	return nil
}
