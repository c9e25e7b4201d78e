package osf

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/gmlewis/msla/layer"
)

const (
	version = 4

	previewWidth  = 0xf0
	previewHeight = 0xa0

	maxResolution  = 1 << 14
	machineNameLen = 32
)

var order = binary.BigEndian

// Lengths are in micrometers and times in milliseconds.
type fileHeader struct {
	HeaderSize       uint32 // offset of the first layer definition
	Version          uint16
	ResolutionX      uint16
	ResolutionY      uint16
	LayerCount       uint32
	LayerHeight      uint16
	BottomLayers     uint16
	AntiAliasing     uint8
	BottomLightPWM   uint8
	LightPWM         uint8
	Unknown13        uint8
	BedSizeX         uint32
	BedSizeY         uint32
	BedSizeZ         uint32
	BottomExposure   uint32
	Exposure         uint32
	BottomLightOff   uint32
	LightOff         uint32
	BottomLiftHeight uint32
	LiftHeight       uint32
	BottomLiftSpeed  uint16 // mm/min
	LiftSpeed        uint16 // mm/min
	RetractSpeed     uint16 // mm/min
	PreviewWidth     uint16
	PreviewHeight    uint16
	PreviewSize      uint32
	MachineName      [machineNameLen]byte
}

type layerDef struct {
	PositionZ    uint32
	Exposure     uint32
	LightOff     uint32
	LiftHeight   uint32
	LiftSpeed    uint16
	RetractSpeed uint16
	LightPWM     uint8
	Unknown15    [3]uint8
	DataSize     uint32
}

var (
	fileHeaderSize = binary.Size(fileHeader{})
	layerDefSize   = binary.Size(layerDef{})
)

func micro(v float32) uint32 { return uint32(max(math.Round(float64(v)*1000), 0)) }

func milli(v uint32) float32 { return float32(v) / 1000 }

func speed(v float32) uint16 { return uint16(min(max(math.Round(float64(v)), 0), math.MaxUint16)) }

func (h *fileHeader) params() layer.Params {
	return layer.Params{
		MachineName:         string(bytes.TrimRight(h.MachineName[:], "\x00")),
		BedSizeX:            milli(h.BedSizeX),
		BedSizeY:            milli(h.BedSizeY),
		BedSizeZ:            milli(h.BedSizeZ),
		LayerHeight:         milli(uint32(h.LayerHeight)),
		BottomLayers:        int(h.BottomLayers),
		BottomExposureTime:  milli(h.BottomExposure),
		ExposureTime:        milli(h.Exposure),
		BottomLightOffDelay: milli(h.BottomLightOff),
		LightOffDelay:       milli(h.LightOff),
		BottomLiftHeight:    milli(h.BottomLiftHeight),
		BottomLiftSpeed:     float32(h.BottomLiftSpeed),
		LiftHeight:          milli(h.LiftHeight),
		LiftSpeed:           float32(h.LiftSpeed),
		RetractSpeed:        float32(h.RetractSpeed),
		BottomLightPWM:      h.BottomLightPWM,
		LightPWM:            h.LightPWM,
		AntiAliasing:        int(max(h.AntiAliasing, 1)),
	}
}

func (h *fileHeader) setParams(p layer.Params) {
	h.MachineName = [machineNameLen]byte{}
	copy(h.MachineName[:], p.MachineName)
	h.BedSizeX = micro(p.BedSizeX)
	h.BedSizeY = micro(p.BedSizeY)
	h.BedSizeZ = micro(p.BedSizeZ)
	h.LayerHeight = uint16(min(micro(p.LayerHeight), math.MaxUint16))
	h.BottomLayers = uint16(min(max(p.BottomLayers, 0), math.MaxUint16))
	h.AntiAliasing = uint8(min(max(p.AntiAliasing, 1), math.MaxUint8))
	h.BottomExposure = micro(p.BottomExposureTime)
	h.Exposure = micro(p.ExposureTime)
	h.BottomLightOff = micro(p.BottomLightOffDelay)
	h.LightOff = micro(p.LightOffDelay)
	h.BottomLiftHeight = micro(p.BottomLiftHeight)
	h.LiftHeight = micro(p.LiftHeight)
	h.BottomLiftSpeed = speed(p.BottomLiftSpeed)
	h.LiftSpeed = speed(p.LiftSpeed)
	h.RetractSpeed = speed(p.RetractSpeed)
	h.BottomLightPWM = p.BottomLightPWM
	h.LightPWM = p.LightPWM
}

func (d *layerDef) apply(l *layer.Layer) {
	l.PositionZ = milli(d.PositionZ)
	l.ExposureTime = milli(d.Exposure)
	l.LightOffDelay = milli(d.LightOff)
	l.LiftHeight = milli(d.LiftHeight)
	l.LiftSpeed = float32(d.LiftSpeed)
	l.RetractSpeed = float32(d.RetractSpeed)
	l.LightPWM = d.LightPWM
}

func (d *layerDef) set(l *layer.Layer) {
	d.PositionZ = micro(l.PositionZ)
	d.Exposure = micro(l.ExposureTime)
	d.LightOff = micro(l.LightOffDelay)
	d.LiftHeight = micro(l.LiftHeight)
	d.LiftSpeed = speed(l.LiftSpeed)
	d.RetractSpeed = speed(l.RetractSpeed)
	d.LightPWM = l.LightPWM
}
