package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
)

func TestPreviewRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{R: uint8(x * 2), G: uint8(y * 4), B: 0x80, A: 0xff}
			if y > 40 {
				c = color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}
			}
			img.SetRGBA(x, y, QuantizePreview(c))
		}
	}

	data := EncodePreview(img)
	got, err := DecodePreview(data, 100, 60)
	if err != nil {
		t.Fatalf("DecodePreview: %v", err)
	}
	for y := 0; y < 60; y++ {
		for x := 0; x < 100; x++ {
			if g, w := got.RGBAAt(x, y), img.RGBAAt(x, y); g != w {
				t.Fatalf("(%v,%v) = %v, want %v", x, y, g, w)
			}
		}
	}
}

func TestPreviewLongRunIsSplit(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	data := EncodePreview(img)
	// 5000 pixels: 0x1000 + 904, two fill records of two words each.
	if len(data) != 8 {
		t.Fatalf("len = %v, want 8", len(data))
	}
	if rep := binary.LittleEndian.Uint16(data[2:]); rep != previewRepeat|0x0fff {
		t.Errorf("first repeat word = %#x, want %#x", rep, previewRepeat|0x0fff)
	}
	if rep := binary.LittleEndian.Uint16(data[6:]); rep != previewRepeat|(904-1) {
		t.Errorf("second repeat word = %#x, want %#x", rep, previewRepeat|(904-1))
	}
	if _, err := DecodePreview(data, 100, 50); err != nil {
		t.Errorf("DecodePreview: %v", err)
	}
}

func TestPreviewCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "odd length", data: []byte{0x00}},
		{name: "missing repeat word", data: []byte{0x20, 0x00}},
		{name: "bad repeat marker", data: []byte{0x20, 0x00, 0x03, 0x00}},
		{name: "overrun", data: []byte{0x20, 0x00, 0xff, 0x3f}},
		{name: "short", data: []byte{0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePreview(tt.data, 2, 2); !errors.Is(err, ErrCorruptData) {
				t.Errorf("err = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestPreviewSizeExceedsData(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		width, height int
	}{
		{name: "empty data", width: 1, height: 1},
		{name: "one word, huge image", data: []byte{0x20, 0x00, 0xff, 0x3f}, width: 16384, height: 16384},
		{name: "wide", data: []byte{0x00, 0x00}, width: 65535, height: 1},
		{name: "overflowing size", data: []byte{0x00, 0x00}, width: int(^uint(0) >> 2), height: int(^uint(0) >> 2)},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.name), func(t *testing.T) {
			if _, err := DecodePreview(tt.data, tt.width, tt.height); !errors.Is(err, ErrCorruptData) {
				t.Errorf("err = %v, want ErrCorruptData", err)
			}
		})
	}
}

func FuzzDecodePreview(f *testing.F) {
	f.Add([]byte{0xff, 0xff, 0xff, 0x3f})
	f.Add([]byte{0x20, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodePreview(data, 8, 6)
	})
}
