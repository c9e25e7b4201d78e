// Package bitmap provides the owned grayscale pixel buffer that every
// layer codec reads from and writes into.
//
// A Buffer is one byte per pixel (0 is background, 255 is fully cured,
// anything in between is an anti-aliased edge). Its dimensions never change
// after creation and its storage is never shared with another Buffer.
package bitmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

var (
	// ErrInvalidSize is returned when a buffer is requested with a
	// non-positive dimension.
	ErrInvalidSize = errors.New("bitmap: invalid size")
	// ErrOutOfRange is returned for coordinates outside the buffer.
	ErrOutOfRange = errors.New("bitmap: coordinate out of range")
	// ErrOverrun is returned when a run would write past the last pixel.
	ErrOverrun = errors.New("bitmap: run overruns buffer")
)

// maxPixels bounds a single buffer.
const maxPixels = 1 << 30

// Buffer is a width x height grayscale image stored row-major.
type Buffer struct {
	width  int
	height int
	pix    []byte
}

// New returns a zero-filled buffer. It fails with ErrInvalidSize when a
// dimension is not positive or the buffer would exceed 1<<30 pixels.
func New(width, height int) (*Buffer, error) {
	if width <= 0 || height <= 0 || width > maxPixels/height {
		return nil, fmt.Errorf("%w: %vx%v", ErrInvalidSize, width, height)
	}
	return &Buffer{width: width, height: height, pix: make([]byte, width*height)}, nil
}

// NewFilled returns a buffer with every pixel set to fill.
func NewFilled(width, height int, fill byte) (*Buffer, error) {
	b, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if fill != 0 {
		for i := range b.pix {
			b.pix[i] = fill
		}
	}
	return b, nil
}

// FromPix copies pix (row-major, len == width*height) into a new buffer.
func FromPix(width, height int, pix []byte) (*Buffer, error) {
	b, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if len(pix) != len(b.pix) {
		return nil, fmt.Errorf("%w: got %v bytes for %vx%v", ErrInvalidSize, len(pix), width, height)
	}
	copy(b.pix, pix)
	return b, nil
}

// FromImage converts img to grayscale. The image origin is mapped to (0,0).
func FromImage(img image.Image) (*Buffer, error) {
	r := img.Bounds()
	b, err := New(r.Dx(), r.Dy())
	if err != nil {
		return nil, err
	}
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < b.height; y++ {
			off := g.PixOffset(r.Min.X, r.Min.Y+y)
			copy(b.Row(y), g.Pix[off:off+b.width])
		}
		return b, nil
	}
	for y := 0; y < b.height; y++ {
		row := b.Row(y)
		for x := range row {
			row[x] = color.GrayModel.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.Gray).Y
		}
	}
	return b, nil
}

// Width returns the number of columns.
func (b *Buffer) Width() int { return b.width }

// Height returns the number of rows.
func (b *Buffer) Height() int { return b.height }

// Len returns width*height.
func (b *Buffer) Len() int { return len(b.pix) }

// Pix returns the row-major pixel storage owned by b. Callers may write
// into it but must not retain it beyond the buffer's lifetime.
func (b *Buffer) Pix() []byte { return b.pix }

// At returns the pixel at (x,y).
func (b *Buffer) At(x, y int) (byte, error) {
	if !b.in(x, y) {
		return 0, fmt.Errorf("%w: (%v,%v) in %vx%v", ErrOutOfRange, x, y, b.width, b.height)
	}
	return b.pix[y*b.width+x], nil
}

// Set writes the pixel at (x,y).
func (b *Buffer) Set(x, y int, v byte) error {
	if !b.in(x, y) {
		return fmt.Errorf("%w: (%v,%v) in %vx%v", ErrOutOfRange, x, y, b.width, b.height)
	}
	b.pix[y*b.width+x] = v
	return nil
}

func (b *Buffer) in(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

// FillRun writes count copies of v starting at the row-major linear index start.
func (b *Buffer) FillRun(start, count int, v byte) error {
	if start < 0 || count < 0 || start+count > len(b.pix) {
		return fmt.Errorf("%w: %v+%v > %v", ErrOverrun, start, count, len(b.pix))
	}
	run := b.pix[start : start+count]
	if v == 0 {
		clear(run)
		return nil
	}
	for i := range run {
		run[i] = v
	}
	return nil
}

// FillColumnRun is FillRun for a column-major linear index, where
// index i addresses x = i / height, y = i % height.
func (b *Buffer) FillColumnRun(start, count int, v byte) error {
	if start < 0 || count < 0 || start+count > len(b.pix) {
		return fmt.Errorf("%w: %v+%v > %v", ErrOverrun, start, count, len(b.pix))
	}
	x, y := start/b.height, start%b.height
	for count > 0 {
		n := b.height - y
		if n > count {
			n = count
		}
		for i := 0; i < n; i++ {
			b.pix[(y+i)*b.width+x] = v
		}
		count -= n
		x, y = x+1, 0
	}
	return nil
}

// Row returns a view of row y. It panics if y is out of range.
func (b *Buffer) Row(y int) []byte {
	return b.pix[y*b.width : (y+1)*b.width]
}

// ColumnScan calls fn for every pixel of column x from top to bottom,
// stopping early if fn returns false.
func (b *Buffer) ColumnScan(x int, fn func(y int, v byte) bool) error {
	if x < 0 || x >= b.width {
		return fmt.Errorf("%w: column %v of %v", ErrOutOfRange, x, b.width)
	}
	for y, i := 0, x; y < b.height; y, i = y+1, i+b.width {
		if !fn(y, b.pix[i]) {
			break
		}
	}
	return nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]byte, len(b.pix))
	copy(pix, b.pix)
	return &Buffer{width: b.width, height: b.height, pix: pix}
}

// Equal reports whether o has the same dimensions and pixels.
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.width != o.width || b.height != o.height {
		return false
	}
	for i, v := range b.pix {
		if o.pix[i] != v {
			return false
		}
	}
	return true
}

// BoundingRect returns the smallest rectangle containing every non-zero
// pixel, or the empty rectangle for a blank buffer.
func (b *Buffer) BoundingRect() image.Rectangle {
	minX, minY, maxX, maxY := b.width, b.height, -1, -1
	for y := 0; y < b.height; y++ {
		row := b.Row(y)
		first := -1
		for x, v := range row {
			if v != 0 {
				first = x
				break
			}
		}
		if first < 0 {
			continue
		}
		last := first
		for x := len(row) - 1; x > first; x-- {
			if row[x] != 0 {
				last = x
				break
			}
		}
		if y < minY {
			minY = y
		}
		maxY = y
		if first < minX {
			minX = first
		}
		if last > maxX {
			maxX = last
		}
	}
	if maxY < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// NonZero returns the number of pixels that are not background.
func (b *Buffer) NonZero() int {
	var n int
	for _, v := range b.pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Gray returns a copy of b as an *image.Gray.
func (b *Buffer) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.pix)
	return img
}
