package photon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

const testW, testH = 24, 16

// testTable returns n layers drawing a growing square. Layers at or
// above dupFrom repeat the image of layer dupFrom-1.
func testTable(t *testing.T, n, dupFrom int) (*layer.Table, []*bitmap.Buffer) {
	t.Helper()
	tbl, err := layer.NewTable(testW, testH, n)
	if err != nil {
		t.Fatal(err)
	}
	tbl.Params.BottomLayers = 2
	tbl.ApplyParams()
	imgs := make([]*bitmap.Buffer, n)
	for i := 0; i < n; i++ {
		side := min(i, dupFrom-1) + 1
		b, _ := bitmap.New(testW, testH)
		for y := 2; y < 2+side && y < testH; y++ {
			for x := 3; x < 3+side && x < testW; x++ {
				b.Set(x, y, 0xff)
			}
		}
		imgs[i] = b
		tbl.Layer(i).SetImage(b.Clone())
	}
	return tbl, imgs
}

func encodeTest(t *testing.T, n, dupFrom int) (string, *File, []*bitmap.Buffer) {
	t.Helper()
	tbl, imgs := testTable(t, n, dupFrom)
	path := filepath.Join(t.TempDir(), "test.cbddlp")
	f := New(tbl)
	if err := f.Encode(context.Background(), path, pipeline.Config{Workers: 2, BatchSize: 3, Dedup: true}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return path, f, imgs
}

func TestRoundTrip(t *testing.T) {
	path, _, imgs := encodeTest(t, 7, 7)

	got, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tbl := got.Table()
	if tbl.Width() != testW || tbl.Height() != testH || tbl.Len() != 7 {
		t.Fatalf("table is %vx%v with %v layers", tbl.Width(), tbl.Height(), tbl.Len())
	}
	want := layer.DefaultParams()
	want.BottomLayers = 2
	for i, l := range tbl.Layers() {
		if !l.Image().Equal(imgs[i]) {
			t.Errorf("layer %v image differs", i)
		}
		wantExposure := want.ExposureTime
		if i < 2 {
			wantExposure = want.BottomExposureTime
		}
		if l.ExposureTime != wantExposure {
			t.Errorf("layer %v exposure = %v, want %v", i, l.ExposureTime, wantExposure)
		}
		if l.PositionZ != want.LayerHeight*float32(i+1) {
			t.Errorf("layer %v z = %v", i, l.PositionZ)
		}
	}
	if tbl.Params.BottomLayers != 2 || tbl.Params.ExposureTime != want.ExposureTime {
		t.Errorf("params = %+v", tbl.Params)
	}
	if p := tbl.Preview(0); p == nil || p.Bounds().Dx() != previewWidth {
		t.Errorf("preview not rendered: %v", p)
	}
	if p := tbl.Preview(1); p == nil || p.Bounds().Dx() != thumbnailWidth {
		t.Errorf("thumbnail not rendered: %v", p)
	}
	if tbl.NeedsFullEncode() {
		t.Error("decoded table needs a full encode")
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"a.photon", "b.CBDDLP"} {
		h, err := format.ForPath(name)
		if err != nil {
			t.Fatalf("ForPath(%q): %v", name, err)
		}
		if h.Name() != Name {
			t.Errorf("ForPath(%q) = %v", name, h.Name())
		}
	}
}

func TestMetadataMode(t *testing.T) {
	path, _, _ := encodeTest(t, 5, 5)
	got, err := Decode(context.Background(), path, pipeline.Metadata, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i, l := range got.Table().Layers() {
		if l.HasImage() {
			t.Errorf("layer %v decoded in metadata mode", i)
		}
	}
	if want := got.Table().Layer(4).PositionZ; got.Table().PrintHeight != want {
		t.Errorf("PrintHeight = %v, want %v", got.Table().PrintHeight, want)
	}
}

func TestDedupSharesData(t *testing.T) {
	path, f, imgs := encodeTest(t, 8, 3)
	for i := 3; i < 8; i++ {
		if f.layers[i].DataOffset != f.layers[2].DataOffset || f.layers[i].DataSize != f.layers[2].DataSize {
			t.Errorf("layer %v at %v+%v, want layer 2's %v+%v", i,
				f.layers[i].DataOffset, f.layers[i].DataSize, f.layers[2].DataOffset, f.layers[2].DataSize)
		}
	}
	if f.layers[1].DataOffset == f.layers[2].DataOffset {
		t.Error("distinct layers share data")
	}

	got, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i, l := range got.Table().Layers() {
		if !l.Image().Equal(imgs[i]) {
			t.Errorf("layer %v image differs", i)
		}
	}
}

func TestPartialSave(t *testing.T) {
	path, _, imgs := encodeTest(t, 6, 6)
	doc, err := format.Decode(context.Background(), path, pipeline.Metadata, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tbl := doc.Table()
	tbl.Params.ExposureTime = 3.5
	for _, l := range tbl.Layers()[2:] {
		l.ExposureTime = 3.5
	}
	tbl.Layer(4).LightOffDelay = 2

	before, _ := os.ReadFile(path)
	if err := format.Save(context.Background(), doc, path, pipeline.DefaultConfig()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := os.ReadFile(path)
	if len(first) != len(before) {
		t.Fatalf("partial save changed the file size from %v to %v", len(before), len(first))
	}
	if err := doc.PartialSave(context.Background(), path); err != nil {
		t.Fatalf("second PartialSave: %v", err)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("partial save is not idempotent")
	}

	got, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i, l := range got.Table().Layers() {
		if !l.Image().Equal(imgs[i]) {
			t.Errorf("layer %v image changed by partial save", i)
		}
	}
	if got.Table().Params.ExposureTime != 3.5 || got.Table().Layer(3).ExposureTime != 3.5 {
		t.Error("exposure not saved")
	}
	if got.Table().Layer(4).LightOffDelay != 2 {
		t.Error("light-off delay not saved")
	}
}

func TestPartialSaveIncompatible(t *testing.T) {
	path, f, _ := encodeTest(t, 4, 4)

	other := filepath.Join(filepath.Dir(path), "other.photon")
	data, _ := os.ReadFile(path)
	os.WriteFile(other, data, 0o644)
	if err := f.PartialSave(context.Background(), other); !errors.Is(err, pipeline.ErrPartialSaveIncompatible) {
		t.Errorf("PartialSave to another file = %v, want ErrPartialSaveIncompatible", err)
	}

	f.Table().Resize(5)
	if err := f.PartialSave(context.Background(), path); !errors.Is(err, pipeline.ErrPartialSaveIncompatible) {
		t.Errorf("PartialSave after Resize = %v, want ErrPartialSaveIncompatible", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	path, _, _ := encodeTest(t, 4, 4)
	good, _ := os.ReadFile(path)

	badMagic := append([]byte(nil), good...)
	badMagic[0] ^= 0xff
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "bad magic", data: badMagic, want: pipeline.ErrFormat},
		{name: "bad version", data: badVersion, want: pipeline.ErrFormat},
		{name: "empty", data: nil, want: pipeline.ErrTruncated},
		{name: "cut in header", data: good[:50], want: pipeline.ErrTruncated},
		{name: "cut in preview", data: good[:fileHeaderSize+previewHeaderSize+10], want: pipeline.ErrTruncated},
		{name: "cut in layer data", data: good[:len(good)-1], want: pipeline.ErrTruncated},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "bad.photon")
			os.WriteFile(p, tt.data, 0o644)
			_, err := Decode(context.Background(), p, pipeline.Full, pipeline.DefaultConfig())
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeCorruptLayer(t *testing.T) {
	path, f, _ := encodeTest(t, 4, 4)
	data, _ := os.ReadFile(path)
	// A zero byte is a zero-length run.
	data[f.layers[2].DataOffset] = 0
	os.WriteFile(path, data, 0o644)

	_, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	var cle *pipeline.CorruptLayerError
	if !errors.As(err, &cle) || cle.Index != 2 {
		t.Errorf("Decode err = %v, want CorruptLayerError for layer 2", err)
	}
}
