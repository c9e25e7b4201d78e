package photon

import (
	"encoding/binary"

	"github.com/gmlewis/msla/layer"
)

// The layout follows github.com/Andoryuuta/photon
// LICENSE: Apache-2.0
// https://github.com/Andoryuuta/photon/blob/master/LICENSE

const (
	magic   = 0x12fd0019
	version = 1

	// Default values from ChiTuBox
	previewWidth    = 0x190
	previewHeight   = 0x12c
	thumbnailWidth  = 0xc8
	thumbnailHeight = 0x7d

	maxResolution = 1 << 14
)

var order = binary.LittleEndian

type fileHeader struct {
	Magic              uint32 // Always 0x12FD0019
	Version            uint32 // Always 0x01
	BedSizeX           float32
	BedSizeY           float32
	BedSizeZ           float32
	Unknown14          [3]uint32
	LayerHeight        float32
	ExposureTime       float32
	BottomExposureTime float32
	LightOffDelay      float32
	BottomLayers       uint32
	ResolutionY        uint32
	ResolutionX        uint32
	PreviewOffset      uint32
	LayerTableOffset   uint32
	LayerCount         uint32
	ThumbnailOffset    uint32
	Unknown4C          uint32
	ProjectionType     uint32
	Unknown54          [6]uint32
}

type previewHeader struct {
	Width      uint32
	Height     uint32
	DataOffset uint32
	DataSize   uint32
	Unknown10  [4]uint32 // Unused, always 0
}

type layerHeader struct {
	PositionZ     float32
	ExposureTime  float32
	LightOffDelay float32 // This is normally set to the file headers OffTime in all layers.

	// Most significant bit is seek type
	// switch(DataOffset>>31)
	//		case 0: from start of file (Only seen this one actually being used.)
	//		case 1: relative (probably...)
	DataOffset uint32
	DataSize   uint32
	Unknown14  [4]uint32 // Unused, always 0
}

var (
	fileHeaderSize    = binary.Size(fileHeader{})
	previewHeaderSize = binary.Size(previewHeader{})
	layerHeaderSize   = binary.Size(layerHeader{})
)

func (h *fileHeader) params() layer.Params {
	p := layer.DefaultParams()
	p.BedSizeX = h.BedSizeX
	p.BedSizeY = h.BedSizeY
	p.BedSizeZ = h.BedSizeZ
	p.LayerHeight = h.LayerHeight
	p.ExposureTime = h.ExposureTime
	p.BottomExposureTime = h.BottomExposureTime
	p.LightOffDelay = h.LightOffDelay
	p.BottomLightOffDelay = h.LightOffDelay
	p.BottomLayers = int(h.BottomLayers)
	return p
}

func (h *fileHeader) setParams(p layer.Params) {
	h.BedSizeX = p.BedSizeX
	h.BedSizeY = p.BedSizeY
	h.BedSizeZ = p.BedSizeZ
	h.LayerHeight = p.LayerHeight
	h.ExposureTime = p.ExposureTime
	h.BottomExposureTime = p.BottomExposureTime
	h.LightOffDelay = p.LightOffDelay
	h.BottomLayers = uint32(max(p.BottomLayers, 0))
}

func (lh *layerHeader) apply(l *layer.Layer) {
	l.PositionZ = lh.PositionZ
	l.ExposureTime = lh.ExposureTime
	l.LightOffDelay = lh.LightOffDelay
}

// set copies the layer scalars, leaving the data location alone.
func (lh *layerHeader) set(l *layer.Layer) {
	lh.PositionZ = l.PositionZ
	lh.ExposureTime = l.ExposureTime
	lh.LightOffDelay = l.LightOffDelay
}
