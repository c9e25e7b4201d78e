// Package pipeline drives the per-layer decode, encode and partial-save
// work shared by every printer format.
//
// A format reads and writes its own headers. For the layer payloads it
// hands the pipeline a LayerReader or LayerWriter that owns the file
// handle; the pipeline calls it sequentially in index order while codec
// work runs on a bounded pool of goroutines in between.
package pipeline

import (
	"github.com/gmlewis/msla/batch"
	"github.com/gmlewis/msla/bitmap"
	"github.com/gmlewis/msla/cipher"
	"github.com/gmlewis/msla/codec"
)

// Mode selects how much of a file Decode reads.
type Mode int

const (
	// Full decodes every layer image.
	Full Mode = iota
	// Metadata reads headers and layer records but no images.
	Metadata
)

func (m Mode) String() string {
	if m == Metadata {
		return "metadata"
	}
	return "full"
}

// Config tunes one decode or encode.
type Config struct {
	Workers    int               // concurrent codec calls; <= 0 means GOMAXPROCS
	BatchSize  int               // layers per batch; <= 0 means 4 * Workers
	Controller *batch.Controller // optional pause, cancel and progress sink
	Dedup      bool              // share storage between identical layers where the format allows
	KeepImages bool              // keep bitmaps attached after encoding
}

// DefaultConfig enables dedup and releases images once written.
func DefaultConfig() Config {
	return Config{Dedup: true}
}

func (c Config) scheduler() *batch.Scheduler {
	return &batch.Scheduler{Workers: c.Workers, BatchSize: c.BatchSize, Controller: c.Controller}
}

// LayerCodec is the codec plus optional cipher a format stores its
// layers with.
type LayerCodec struct {
	Kind codec.Kind
	Seed uint32 // cipher seed; 0 disables the cipher
}

// Encode compresses b and then enciphers it for layer index.
func (lc LayerCodec) Encode(index int, b *bitmap.Buffer) ([]byte, error) {
	data, err := lc.Kind.Encode(b)
	if err != nil {
		return nil, err
	}
	cipher.Transform(lc.Seed, uint32(index), data)
	return data, nil
}

// Decode deciphers data for layer index and then decompresses it.
// data is not modified.
func (lc LayerCodec) Decode(index int, data []byte, width, height int) (*bitmap.Buffer, error) {
	if lc.Seed != 0 {
		data = cipher.Apply(lc.Seed, uint32(index), data)
	}
	return lc.Kind.Decode(data, width, height)
}
