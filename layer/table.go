package layer

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid layer table")

// Table is the ordered set of layers of one print plus its global state.
//
// The number of layers and the resolution are fixed for the duration of
// a decode or encode; changing either (or the previews) afterwards means
// the next save has to be a full encode.
type Table struct {
	Params Params

	width  int
	height int
	layers []*Layer

	previews []*image.RGBA

	// Derived by ComputeDerived.
	BoundingRect image.Rectangle
	PrintHeight  float32
	TotalPixels  int

	structureChanged bool
}

// NewTable returns a table of count empty layers at the given resolution.
func NewTable(width, height, count int) (*Table, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: resolution %vx%v", ErrInvalid, width, height)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %v layers", ErrInvalid, count)
	}
	t := &Table{Params: DefaultParams(), width: width, height: height}
	t.setLen(count)
	return t, nil
}

func (t *Table) setLen(n int) {
	if n < len(t.layers) {
		t.layers = t.layers[:n]
		return
	}
	for i := len(t.layers); i < n; i++ {
		t.layers = append(t.layers, &Layer{Index: i})
	}
}

// Width returns the horizontal resolution in pixels.
func (t *Table) Width() int { return t.width }

// Height returns the vertical resolution in pixels.
func (t *Table) Height() int { return t.height }

// Len returns the number of layers.
func (t *Table) Len() int { return len(t.layers) }

// Layer returns layer i.
func (t *Table) Layer(i int) *Layer { return t.layers[i] }

// Layers returns the records in index order.
func (t *Table) Layers() []*Layer { return t.layers }

// Resize grows or shrinks the table. New layers get Params defaults.
func (t *Table) Resize(n int) {
	if n == len(t.layers) {
		return
	}
	old := len(t.layers)
	t.setLen(n)
	for _, l := range t.layers[min(old, n):] {
		t.Params.Apply(l)
	}
	t.structureChanged = true
}

// SetResolution changes the pixel size, dropping any attached images.
func (t *Table) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: resolution %vx%v", ErrInvalid, width, height)
	}
	if width == t.width && height == t.height {
		return nil
	}
	t.width, t.height = width, height
	t.ReleaseImages()
	t.structureChanged = true
	return nil
}

// Previews returns the thumbnails, largest first.
func (t *Table) Previews() []*image.RGBA { return t.previews }

// Preview returns thumbnail i, or nil.
func (t *Table) Preview(i int) *image.RGBA {
	if i < 0 || i >= len(t.previews) {
		return nil
	}
	return t.previews[i]
}

// SetPreview replaces thumbnail i, growing the list as needed.
func (t *Table) SetPreview(i int, img *image.RGBA) {
	t.setPreview(i, img)
	t.structureChanged = true
}

// SetDecodedPreview attaches a thumbnail read from a file.
func (t *Table) SetDecodedPreview(i int, img *image.RGBA) {
	t.setPreview(i, img)
}

func (t *Table) setPreview(i int, img *image.RGBA) {
	for len(t.previews) <= i {
		t.previews = append(t.previews, nil)
	}
	t.previews[i] = img
}

// ApplyParams writes Params defaults into every layer.
func (t *Table) ApplyParams() {
	for _, l := range t.layers {
		t.Params.Apply(l)
	}
}

// NeedsFullEncode reports whether anything other than scalar metadata
// changed since the table was loaded or last saved.
func (t *Table) NeedsFullEncode() bool {
	if t.structureChanged {
		return true
	}
	for _, l := range t.layers {
		if l.imageChanged {
			return true
		}
	}
	return false
}

// MarkSaved records that the table matches what is on disk.
func (t *Table) MarkSaved() {
	t.structureChanged = false
	for _, l := range t.layers {
		l.imageChanged = false
	}
}

// ReleaseImages drops every attached bitmap.
func (t *Table) ReleaseImages() {
	for _, l := range t.layers {
		l.ReleaseImage()
	}
}

// Validate checks the table invariants: contiguous indices, non-decreasing
// Z positions and images matching the table resolution.
func (t *Table) Validate() error {
	var lastZ float32
	for i, l := range t.layers {
		if l.Index != i {
			return fmt.Errorf("%w: layer at position %v has index %v", ErrInvalid, i, l.Index)
		}
		if l.PositionZ < lastZ {
			return fmt.Errorf("%w: layer %v at z=%v is below layer %v at z=%v", ErrInvalid, i, l.PositionZ, i-1, lastZ)
		}
		lastZ = l.PositionZ
		if img := l.Image(); img != nil && (img.Width() != t.width || img.Height() != t.height) {
			return fmt.Errorf("%w: layer %v image is %vx%v, table is %vx%v", ErrInvalid, i, img.Width(), img.Height(), t.width, t.height)
		}
	}
	return nil
}

// ComputeDerived refreshes BoundingRect, PrintHeight and TotalPixels from
// the layer records.
func (t *Table) ComputeDerived() {
	t.BoundingRect = image.Rectangle{}
	t.PrintHeight = 0
	t.TotalPixels = 0
	for _, l := range t.layers {
		t.BoundingRect = t.BoundingRect.Union(l.BoundingRect)
		t.TotalPixels += l.NonZeroPixels
		if l.PositionZ > t.PrintHeight {
			t.PrintHeight = l.PositionZ
		}
	}
}
