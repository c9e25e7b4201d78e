package codec

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/gmlewis/msla/bitmap"
)

// testImage returns a width x height buffer with a blank margin, a solid
// block, anti-aliased edges and some noise, so every codec sees long runs,
// short runs and single pixels.
func testImage(t *testing.T, width, height int, seed int64) *bitmap.Buffer {
	t.Helper()
	b, err := bitmap.New(width, height)
	if err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewSource(seed))
	for y := height / 4; y < 3*height/4; y++ {
		for x := width / 4; x < 3*width/4; x++ {
			b.Set(x, y, 0xff)
		}
		b.Set(width/4-1, y, 0x80)
		b.Set(3*width/4, y, 0x3c)
	}
	for i := 0; i < width*height/50; i++ {
		b.Set(r.Intn(width), r.Intn(height), byte(r.Intn(256)))
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	sizes := []struct{ width, height int }{
		{1, 1},
		{4, 4},
		{10, 10},
		{33, 7},
		{200, 120}, // blank margins longer than every run limit
	}

	for _, k := range Kinds {
		for i, sz := range sizes {
			t.Run(fmt.Sprintf("%v #%v: %vx%v", k, i, sz.width, sz.height), func(t *testing.T) {
				src := k.QuantizeBuffer(testImage(t, sz.width, sz.height, int64(i)))
				data, err := k.Encode(src)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				got, err := k.Decode(data, sz.width, sz.height)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if !got.Equal(src) {
					t.Errorf("round trip mismatch")
				}
			})
		}
	}
}

func TestRoundTripUnquantized(t *testing.T) {
	for _, k := range Kinds {
		t.Run(k.String(), func(t *testing.T) {
			src := testImage(t, 64, 48, 42)
			data, err := k.Encode(src)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := k.Decode(data, 64, 48)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if want := k.QuantizeBuffer(src); !got.Equal(want) {
				t.Errorf("decoded image is not the quantized source")
			}
		})
	}
}

func TestQuantizeIsIdempotent(t *testing.T) {
	for _, k := range Kinds {
		for v := 0; v < 256; v++ {
			q := k.Quantize(byte(v))
			if k.Quantize(q) != q {
				t.Errorf("%v: Quantize(Quantize(%#x)) = %#x, want %#x", k, v, k.Quantize(q), q)
			}
		}
		if k.Quantize(0) != 0 || k.Quantize(0xff) != 0xff {
			t.Errorf("%v: black/white not preserved: %#x %#x", k, k.Quantize(0), k.Quantize(0xff))
		}
	}
}

func TestNibbleBlankImage(t *testing.T) {
	b, _ := bitmap.New(10, 10)
	data, err := Nibble.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	// One escape-coded black run of 100: class 0, count 0x064.
	if want := []byte{0x00, 0x64}; string(data) != string(want) {
		t.Fatalf("Encode = %#v, want %#v", data, want)
	}
	got, err := Nibble.Decode(data, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.NonZero() != 0 {
		t.Errorf("decoded %v non-zero pixels, want 0", got.NonZero())
	}
}

func TestNibbleShortAndLongRuns(t *testing.T) {
	pix := make([]byte, 40)
	for i := 0; i < 20; i++ {
		pix[i] = 0x77
	}
	for i := 20; i < 40; i++ {
		pix[i] = 0xff
	}
	b, _ := bitmap.FromPix(8, 5, pix)
	data, _ := Nibble.Encode(b)
	// Gray classes cap at 15 per byte; white escapes to a 12-bit count.
	want := []byte{0x7f, 0x75, 0xf0, 0x14}
	if string(data) != string(want) {
		t.Errorf("Encode = %#v, want %#v", data, want)
	}
}

func TestNibbleOverrun(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "final run clamped", data: []byte{0xf0, 0x20}},
		{name: "overrun mid-stream", data: []byte{0xf0, 0x20, 0x01}, wantErr: true},
		{name: "short gray final run clamped", data: []byte{0x00, 0x03, 0x5f}},
		{name: "missing escape byte", data: []byte{0x00}, wantErr: true},
		{name: "zero count", data: []byte{0x00, 0x00, 0xf0, 0x10}, wantErr: true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			b, err := Nibble.Decode(tt.data, 4, 4)
			if tt.wantErr {
				if !errors.Is(err, ErrCorruptData) {
					t.Fatalf("err = %v, want ErrCorruptData", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if v, _ := b.At(3, 3); v == 0 {
				t.Errorf("last pixel not filled by clamped run")
			}
		})
	}
}

func TestGray7Checkerboard(t *testing.T) {
	b, _ := bitmap.New(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if (x+y)%2 == 1 {
				b.Set(x, y, 0xff)
			}
		}
	}
	data, err := Gray7.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 16 {
		t.Fatalf("len = %v, want 16", len(data))
	}
	for i, c := range data {
		if c&gray7Literal == 0 {
			t.Errorf("byte %v = %#x is not a literal", i, c)
		}
	}
	got, err := Gray7.Decode(data, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(b) {
		t.Error("checkerboard did not round-trip")
	}
}

func TestGray7Stream(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{
			name: "literal and repeat",
			data: []byte{0x80 | 0x40, 0x02, 0xff},
			want: []byte{0x80, 0x80, 0x80, 0xff},
		},
		{
			name: "near white snaps",
			data: []byte{0x80 | 0x7e, 0x80 | 0x7d, 0x80, 0x80 | 0x01},
			want: []byte{0xff, 0xfb, 0x00, 0x03},
		},
		{name: "repeat first", data: []byte{0x03, 0x80}, wantErr: true},
		{name: "zero repeat", data: []byte{0x80, 0x00, 0x02}, wantErr: true},
		{name: "too long", data: []byte{0x80, 0x04}, wantErr: true},
		{name: "too short", data: []byte{0x80, 0x01}, wantErr: true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			b, err := Gray7.Decode(tt.data, 2, 2)
			if tt.wantErr {
				if !errors.Is(err, ErrCorruptData) {
					t.Fatalf("err = %v, want ErrCorruptData", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := b.Pix(); string(got) != string(tt.want) {
				t.Errorf("Pix = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSegmentPacking(t *testing.T) {
	s := segment{StartY: 0x1abc, EndY: 0x1fff, X: 0x2a5a, Gray: 0x7f}
	var buf [segmentSize]byte
	s.pack(buf[:])
	if got := unpackSegment(buf[:]); got != s {
		t.Errorf("unpack(pack(%+v)) = %+v", s, got)
	}

	b, _ := bitmap.New(3, 4)
	b.Set(1, 1, 9)
	b.Set(1, 2, 9)
	b.Set(2, 3, 4)
	data, err := Segment.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0, 0, 0, 2,
		// startY=1 endY=2 x=1: 1<<27 | 2<<14 | 1
		0x00, 0x08, 0x00, 0x80, 0x01, 9,
		// startY=3 endY=3 x=2: 3<<27 | 3<<14 | 2
		0x00, 0x18, 0x00, 0xc0, 0x02, 4,
	}
	if string(data) != string(want) {
		t.Errorf("Encode = %#v, want %#v", data, want)
	}
}

func TestSegmentRejectsBadLines(t *testing.T) {
	line := func(s segment) []byte {
		buf := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0}
		s.pack(buf[4:])
		return buf
	}
	tests := []struct {
		name string
		data []byte
	}{
		{name: "no count", data: []byte{0, 0}},
		{name: "missing lines", data: []byte{0, 0, 0, 2, 0, 0, 0, 0, 0, 1}},
		{name: "reversed", data: line(segment{StartY: 3, EndY: 1, Gray: 1})},
		{name: "below", data: line(segment{StartY: 0, EndY: 4, Gray: 1})},
		{name: "right", data: line(segment{X: 4, Gray: 1})},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			if _, err := Segment.Decode(tt.data, 4, 4); !errors.Is(err, ErrCorruptData) {
				t.Errorf("err = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestSegmentTooLarge(t *testing.T) {
	b, _ := bitmap.New(1, segmentMaxY+2)
	if _, err := Segment.Encode(b); err == nil {
		t.Error("expected an error for an 8193 pixel tall image")
	}
}

func TestVarLenLengths(t *testing.T) {
	for _, n := range []int{1, 0x7f, 0x80, 0x3fff, 0x4000, 0x1fffff, 0x200000, varLenMaxRun} {
		buf := putVarLen(nil, n)
		got, size := getVarLen(buf)
		if got != n || size != len(buf) {
			t.Errorf("getVarLen(putVarLen(%#x)) = %#x, %v; want %#x, %v", n, got, size, n, len(buf))
		}
	}
	if _, size := getVarLen([]byte{0xf0, 0, 0, 0, 0}); size != 0 {
		t.Errorf("prefix 1111 accepted")
	}
	if _, size := getVarLen([]byte{0xc0, 0}); size != 0 {
		t.Errorf("truncated 3-byte length accepted")
	}
}

func TestVarLenStream(t *testing.T) {
	b, _ := bitmap.New(300, 1)
	for x := 100; x < 300; x++ {
		b.Set(x, 0, 0xff)
	}
	data, _ := VarLen.Encode(b)
	want := []byte{0x01, 100, 0xff, 0x80, 200}
	if string(data) != string(want) {
		t.Errorf("Encode = %#v, want %#v", data, want)
	}
}

func TestTruncatedStreams(t *testing.T) {
	for _, k := range Kinds {
		t.Run(k.String(), func(t *testing.T) {
			src := testImage(t, 40, 30, 7)
			data, err := k.Encode(src)
			if err != nil {
				t.Fatal(err)
			}
			for n := 0; n < len(data); n++ {
				_, err := k.Decode(data[:n], 40, 30)
				if !errors.Is(err, ErrCorruptData) {
					t.Fatalf("Decode(data[:%v]) err = %v, want ErrCorruptData", n, err)
				}
				var cde *CorruptDataError
				if !errors.As(err, &cde) || cde.Codec != k {
					t.Fatalf("Decode(data[:%v]) err = %#v, want *CorruptDataError for %v", n, err, k)
				}
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("jpeg"); err == nil {
		t.Error("ParseKind(jpeg) succeeded")
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(byte(0), []byte{0x00, 0x64})
	f.Add(byte(2), []byte{0x80, 0x7f, 0x7f})
	f.Add(byte(3), []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0xff})
	f.Add(byte(4), []byte{0xff, 0xe0, 0, 0, 0x10})
	f.Add(byte(1), []byte{})

	f.Fuzz(func(t *testing.T, kind byte, data []byte) {
		k := Kinds[int(kind)%len(Kinds)]
		// Decoders must fail cleanly, never panic.
		_, _ = k.Decode(data, 16, 10)
	})
}
