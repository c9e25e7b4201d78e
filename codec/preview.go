package codec

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
)

const (
	previewFillFlag  = 0x20
	previewRepeat    = 0x3000
	previewRunLimit  = 0x1000
	previewMinRepeat = 2
)

func changeRange(fromMin, fromMax, toMin, toMax, number uint32) uint32 {
	return uint32(math.Round(float64(number-fromMin)*float64(toMax-toMin)/float64(fromMax-fromMin) + float64(toMin)))
}

// combineRGB5515 packs a color into the preview word layout
// r(5) fill(1) g(5) b(5), lowest bits first.
func combineRGB5515(c color.RGBA, isFill bool) uint16 {
	rBits := uint16(changeRange(0, 255, 0, 31, uint32(c.R)))
	gBits := uint16(changeRange(0, 255, 0, 31, uint32(c.G)))
	bBits := uint16(changeRange(0, 255, 0, 31, uint32(c.B)))

	var x uint16
	x |= (rBits & 0x1f) << 0
	if isFill {
		x |= previewFillFlag
	}
	x |= (gBits & 0x1f) << 6
	x |= (bBits & 0x1f) << 11
	return x
}

func expand5(v uint16) uint8 {
	v &= 0x1f
	return uint8(v<<3 | v>>2)
}

func splitRGB5515(x uint16) color.RGBA {
	return color.RGBA{R: expand5(x), G: expand5(x >> 6), B: expand5(x >> 11), A: 0xff}
}

// QuantizePreview returns the color c has after an EncodePreview/DecodePreview round trip.
func QuantizePreview(c color.RGBA) color.RGBA {
	return splitRGB5515(combineRGB5515(c, false))
}

// EncodePreview compresses a thumbnail with the 15-bit color RLE used by
// photon-family previews. Alpha is ignored.
func EncodePreview(img *image.RGBA) []byte {
	r := img.Bounds()
	pixelAt := func(i int) uint16 {
		c := img.RGBAAt(r.Min.X+i%r.Dx(), r.Min.Y+i/r.Dx())
		return combineRGB5515(c, false)
	}

	var output []byte
	put := func(v uint16) {
		output = binary.LittleEndian.AppendUint16(output, v)
	}

	total := r.Dx() * r.Dy()
	for i := 0; i < total; {
		v := pixelAt(i)
		count := 1
		for i+count < total && count < previewRunLimit && pixelAt(i+count) == v {
			count++
		}
		if count < previewMinRepeat {
			put(v)
		} else {
			put(v | previewFillFlag)
			put(previewRepeat | uint16(count-1))
		}
		i += count
	}
	return output
}

// DecodePreview is the inverse of EncodePreview.
func DecodePreview(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("preview: invalid size %vx%v", width, height)
	}
	// No record covers more than previewRunLimit pixels in 2 bytes.
	if most := (len(data) / 2) * previewRunLimit; width > most || height > most/width {
		return nil, corrupt(previewKind, 0, width, most/height, "data too short for image size")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	total := width * height
	n := 0
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return nil, &CorruptDataError{Codec: previewKind, Offset: i, Want: 2, Have: len(data) - i, Reason: "truncated color word"}
		}
		v := binary.LittleEndian.Uint16(data[i:])
		start := i
		i += 2
		count := 1
		if v&previewFillFlag != 0 {
			if i+2 > len(data) {
				return nil, &CorruptDataError{Codec: previewKind, Offset: i, Want: 2, Have: len(data) - i, Reason: "truncated repeat word"}
			}
			rep := binary.LittleEndian.Uint16(data[i:])
			if rep&0xf000 != previewRepeat {
				return nil, &CorruptDataError{Codec: previewKind, Offset: i, Want: previewRepeat, Have: int(rep & 0xf000), Reason: "bad repeat marker"}
			}
			i += 2
			count = int(rep&0x0fff) + 1
		}
		if n+count > total {
			return nil, &CorruptDataError{Codec: previewKind, Offset: start, Want: count, Have: total - n, Reason: "run overruns image"}
		}
		c := splitRGB5515(v)
		for ; count > 0; count-- {
			img.SetRGBA(n%width, n/width, c)
			n++
		}
	}
	if n != total {
		return nil, &CorruptDataError{Codec: previewKind, Offset: len(data), Want: total, Have: n, Reason: "image ended short"}
	}
	return img, nil
}
