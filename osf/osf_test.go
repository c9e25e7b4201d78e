package osf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/codec"
	"github.com/gmlewis/msla/format"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

const testW, testH = 21, 9

func testTable(t testing.TB, n int) (*layer.Table, []*bitmap.Buffer) {
	t.Helper()
	tbl, err := layer.NewTable(testW, testH, n)
	if err != nil {
		t.Fatal(err)
	}
	tbl.Params.MachineName = "Mars 3"
	tbl.Params.BottomLayers = 1
	tbl.Params.AntiAliasing = 8
	tbl.ApplyParams()
	imgs := make([]*bitmap.Buffer, n)
	for i := 0; i < n; i++ {
		b, _ := bitmap.New(testW, testH)
		b.FillRun(testW*2+i, 3*testW, 0xff)
		b.FillRun(testW*6, 5, byte(0x10*i+3))
		imgs[i] = codec.VarLen.QuantizeBuffer(b)
		tbl.Layer(i).SetImage(b)
	}
	return tbl, imgs
}

func encodeTest(t testing.TB, n int) (string, *File, []*bitmap.Buffer) {
	t.Helper()
	tbl, imgs := testTable(t, n)
	path := filepath.Join(t.TempDir(), "test.osf")
	f := New(tbl)
	if err := f.Encode(context.Background(), path, pipeline.Config{Workers: 3, BatchSize: 2, Dedup: true}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return path, f, imgs
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-3 }

func TestRoundTrip(t *testing.T) {
	path, _, imgs := encodeTest(t, 6)
	got, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tbl := got.Table()
	if tbl.Len() != 6 || tbl.Width() != testW || tbl.Height() != testH {
		t.Fatalf("table is %v layers at %vx%v", tbl.Len(), tbl.Width(), tbl.Height())
	}
	p := tbl.Params
	if p.MachineName != "Mars 3" || p.AntiAliasing != 8 || !near(p.LayerHeight, 0.05) || !near(p.BottomExposureTime, 50) {
		t.Errorf("params = %+v", p)
	}
	for i, l := range tbl.Layers() {
		if !l.Image().Equal(imgs[i]) {
			t.Errorf("layer %v image differs", i)
		}
		if want := 0.05 * float32(i+1); !near(l.PositionZ, want) {
			t.Errorf("layer %v at z=%v, want %v", i, l.PositionZ, want)
		}
	}
	if tbl.Layer(0).ExposureTime != 50 || tbl.Layer(1).ExposureTime != 6 {
		t.Errorf("exposures = %v, %v", tbl.Layer(0).ExposureTime, tbl.Layer(1).ExposureTime)
	}
	if tbl.Preview(0) == nil {
		t.Error("no preview")
	}
}

func TestDefinitionsPrecedeData(t *testing.T) {
	path, f, _ := encodeTest(t, 3)
	data, _ := os.ReadFile(path)
	_, offsets, regions, err := walk(bytes.NewReader(data), int64(len(data)), &f.header)
	if err != nil {
		t.Fatal(err)
	}
	for i := range offsets {
		if regions[i].Offset != offsets[i]+int64(layerDefSize) {
			t.Errorf("layer %v data at %v, definition at %v", i, regions[i].Offset, offsets[i])
		}
	}
	if end := regions[2].Offset + regions[2].Length; end != int64(len(data)) {
		t.Errorf("last layer ends at %v, file is %v bytes", end, len(data))
	}
}

func TestPartialSave(t *testing.T) {
	path, _, imgs := encodeTest(t, 4)
	doc, err := format.Decode(context.Background(), path, pipeline.Metadata, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tbl := doc.Table()
	tbl.Params.MachineName = "Mars 4 Ultra"
	tbl.Params.ExposureTime = 2.5
	tbl.Layer(3).ExposureTime = 2.5
	tbl.Layer(3).LightPWM = 200

	if err := format.Save(context.Background(), doc, path, pipeline.DefaultConfig()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := os.ReadFile(path)
	if err := doc.PartialSave(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("partial save is not idempotent")
	}

	got, err := Decode(context.Background(), path, pipeline.Full, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	gt := got.Table()
	if gt.Params.MachineName != "Mars 4 Ultra" || !near(gt.Params.ExposureTime, 2.5) {
		t.Errorf("params = %+v", gt.Params)
	}
	if l := gt.Layer(3); !near(l.ExposureTime, 2.5) || l.LightPWM != 200 {
		t.Errorf("layer 3 = %v/%v", l.ExposureTime, l.LightPWM)
	}
	for i, l := range gt.Layers() {
		if !l.Image().Equal(imgs[i]) {
			t.Errorf("layer %v image changed", i)
		}
	}
}

func TestPartialSaveForeignFile(t *testing.T) {
	path, _, _ := encodeTest(t, 2)
	other, _, _ := encodeTest(t, 2)
	f, err := Decode(context.Background(), path, pipeline.Metadata, pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.PartialSave(context.Background(), other); !errors.Is(err, pipeline.ErrPartialSaveIncompatible) {
		t.Errorf("PartialSave = %v, want ErrPartialSaveIncompatible", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	path, f, _ := encodeTest(t, 3)
	good, _ := os.ReadFile(path)
	clone := func() []byte { return append([]byte(nil), good...) }

	badVersion := clone()
	order.PutUint16(badVersion[4:], 9)
	tinyHeader := clone()
	order.PutUint32(tinyHeader, 10)
	hugeLayer := clone()
	order.PutUint32(hugeLayer[int(f.header.HeaderSize)+layerDefSize-4:], 1<<30)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "bad version", data: badVersion, want: pipeline.ErrFormat},
		{name: "header size too small", data: tinyHeader, want: pipeline.ErrFormat},
		{name: "cut in header", data: good[:fileHeaderSize-1], want: pipeline.ErrTruncated},
		{name: "layer data past end", data: hugeLayer, want: pipeline.ErrTruncated},
		{name: "cut in last layer", data: good[:len(good)-1], want: pipeline.ErrTruncated},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "bad.osf")
			os.WriteFile(p, tt.data, 0o644)
			_, err := Decode(context.Background(), p, pipeline.Metadata, pipeline.DefaultConfig())
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode err = %v, want %v", err, tt.want)
			}
		})
	}
}

func FuzzDecode(f *testing.F) {
	path, _, _ := encodeTest(f, 3)
	seed, err := os.ReadFile(path)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add(seed[:min(len(seed), 64)])

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.osf")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		_, _ = Decode(context.Background(), path, pipeline.Full, pipeline.Config{Workers: 2})
	})
}
