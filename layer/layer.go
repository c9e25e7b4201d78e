// Package layer holds the in-memory model shared by every printer format:
// per-layer exposure/motion records, the global print parameters, and the
// ordered table that the encode/decode pipeline fills and drains.
package layer

import (
	"image"

	"github.com/gmlewis/msla/bitmap"
)

// Layer is one exposure of the build plate.
//
// Its image is optional: metadata-only decodes leave it empty, and the
// pipeline releases it after encoding to bound memory on large prints.
type Layer struct {
	Index int

	PositionZ     float32 // mm from the build plate
	ExposureTime  float32 // seconds
	LightOffDelay float32 // seconds
	LiftHeight    float32 // mm
	LiftSpeed     float32 // mm/min
	RetractSpeed  float32 // mm/min
	LightPWM      uint8

	BoundingRect  image.Rectangle // non-background content, in pixels
	NonZeroPixels int

	image        *bitmap.Buffer
	imageChanged bool
}

// Image returns the layer bitmap, or nil if it has not been decoded or
// has been released.
func (l *Layer) Image() *bitmap.Buffer { return l.image }

// HasImage reports whether a bitmap is attached.
func (l *Layer) HasImage() bool { return l.image != nil }

// SetImage replaces the layer bitmap. The layer takes ownership of b.
// Any later save must re-encode this layer.
func (l *Layer) SetImage(b *bitmap.Buffer) {
	l.attach(b)
	l.imageChanged = true
}

// SetDecodedImage attaches a bitmap that was just read from a file, so it
// does not count as a modification.
func (l *Layer) SetDecodedImage(b *bitmap.Buffer) {
	l.attach(b)
}

func (l *Layer) attach(b *bitmap.Buffer) {
	l.image = b
	if b == nil {
		return
	}
	l.BoundingRect = b.BoundingRect()
	l.NonZeroPixels = b.NonZero()
}

// ReleaseImage drops the bitmap. BoundingRect and NonZeroPixels are kept.
func (l *Layer) ReleaseImage() { l.image = nil }

// ImageChanged reports whether SetImage was called since the table was
// last saved or loaded.
func (l *Layer) ImageChanged() bool { return l.imageChanged }

// IsBottom reports whether the layer is one of the first n adhesion layers.
func (l *Layer) IsBottom(bottomLayers int) bool { return l.Index < bottomLayers }
