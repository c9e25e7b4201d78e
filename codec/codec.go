// Package codec implements the vendor layer-image compression schemes
// used by resin printer files.
//
// Each scheme is a Kind. Kinds are stateless: Encode and Decode are pure
// functions of their inputs, so a single Kind may be used concurrently
// from any number of goroutines.
package codec

import (
	"errors"
	"fmt"

	"github.com/gmlewis/msla/bitmap"
)

// Kind identifies one layer-image compression scheme.
type Kind int

const (
	// Photon is the 1-bit run-length scheme of .photon/.cbddlp files,
	// scanned column by column.
	Photon Kind = iota
	// Nibble is a 4-bit color class with a 4-bit count, where the
	// black and white classes escape to a 12-bit count.
	Nibble
	// Gray7 is a 7-bit grayscale scheme with MSB-tagged literals and
	// repeat-previous bytes.
	Gray7
	// Segment encodes vertical line segments packed into 5 bytes plus
	// a gray value.
	Segment
	// VarLen is a grayscale run scheme with 1-4 byte variable-length
	// run counts.
	VarLen
)

// previewKind tags errors from the thumbnail codec, which works on color
// images rather than layer bitmaps.
const previewKind Kind = -1

// Kinds lists every supported layer scheme.
var Kinds = []Kind{Photon, Nibble, Gray7, Segment, VarLen}

func (k Kind) String() string {
	switch k {
	case Photon:
		return "photon"
	case Nibble:
		return "nibble"
	case Gray7:
		return "gray7"
	case Segment:
		return "segment"
	case VarLen:
		return "varlen"
	case previewKind:
		return "preview"
	}
	return fmt.Sprintf("codec.Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// Encode compresses b.
func (k Kind) Encode(b *bitmap.Buffer) ([]byte, error) {
	switch k {
	case Photon:
		return encodePhoton(b), nil
	case Nibble:
		return encodeNibble(b), nil
	case Gray7:
		return encodeGray7(b), nil
	case Segment:
		return encodeSegment(b)
	case VarLen:
		return encodeVarLen(b), nil
	}
	return nil, fmt.Errorf("encode: unsupported codec %v", k)
}

// Decode decompresses data into a new width x height buffer.
func (k Kind) Decode(data []byte, width, height int) (*bitmap.Buffer, error) {
	b, err := bitmap.New(width, height)
	if err != nil {
		return nil, err
	}
	switch k {
	case Photon:
		err = decodePhoton(data, b)
	case Nibble:
		err = decodeNibble(data, b)
	case Gray7:
		err = decodeGray7(data, b)
	case Segment:
		err = decodeSegment(data, b)
	case VarLen:
		err = decodeVarLen(data, b)
	default:
		return nil, fmt.Errorf("decode: unsupported codec %v", k)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Quantize returns the value pixel v has after an Encode/Decode round trip.
func (k Kind) Quantize(v byte) byte {
	switch k {
	case Photon:
		if v == 0 {
			return 0
		}
		return 0xff
	case Nibble:
		return (v >> 4) * 0x11
	case Gray7:
		return gray7Value(v >> 1)
	case VarLen:
		return varLenValue(v)
	}
	return v
}

// QuantizeBuffer returns a copy of b with every pixel passed through Quantize.
func (k Kind) QuantizeBuffer(b *bitmap.Buffer) *bitmap.Buffer {
	q := b.Clone()
	pix := q.Pix()
	for i, v := range pix {
		pix[i] = k.Quantize(v)
	}
	return q
}

// ErrCorruptData is matched by every *CorruptDataError.
var ErrCorruptData = errors.New("corrupt data")

// CorruptDataError describes where a compressed stream stopped making sense.
type CorruptDataError struct {
	Codec  Kind
	Offset int    // byte offset into the compressed input
	Want   int    // bytes or pixels required to continue
	Have   int    // bytes or pixels available
	Reason string // short description
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("%v: corrupt data at offset %v: %v (want %v, have %v)", e.Codec, e.Offset, e.Reason, e.Want, e.Have)
}

// Is reports whether target is ErrCorruptData.
func (e *CorruptDataError) Is(target error) bool { return target == ErrCorruptData }

func corrupt(k Kind, offset, want, have int, reason string) error {
	return &CorruptDataError{Codec: k, Offset: offset, Want: want, Have: have, Reason: reason}
}
