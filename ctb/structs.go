package ctb

import (
	"encoding/binary"

	"github.com/gmlewis/msla/layer"
)

const (
	magic   = 0x12fd0086
	version = 3

	previewWidth  = 0x190
	previewHeight = 0x12c

	maxResolution  = 1 << 14
	maxMachineName = 1 << 10
)

var order = binary.LittleEndian

type fileHeader struct {
	Magic              uint32 // Always 0x12FD0086
	Version            uint32
	BedSizeX           float32
	BedSizeY           float32
	BedSizeZ           float32
	Unknown14          [2]uint32
	PrintHeight        float32
	LayerHeight        float32
	ExposureTime       float32
	BottomExposureTime float32
	LightOffDelay      float32
	BottomLayers       uint32
	ResolutionX        uint32
	ResolutionY        uint32
	PreviewOffset      uint32
	LayerTableOffset   uint32
	LayerCount         uint32
	ParamsOffset       uint32
	ParamsSize         uint32
	AntiAliasing       uint32
	LightPWM           uint16
	BottomLightPWM     uint16
	EncryptionSeed     uint32
	MachineNameOffset  uint32
	MachineNameSize    uint32
	ProjectionType     uint32
	Unknown6C          [3]uint32
}

type previewHeader struct {
	Width      uint32
	Height     uint32
	DataOffset uint32
	DataSize   uint32
	Unknown10  [4]uint32
}

type printParams struct {
	BottomLiftHeight    float32
	BottomLiftSpeed     float32
	LiftHeight          float32
	LiftSpeed           float32
	RetractSpeed        float32
	BottomLightOffDelay float32
	Unknown18           [4]uint32
}

type layerDef struct {
	PositionZ     float32
	ExposureTime  float32
	LightOffDelay float32
	DataOffset    uint32
	DataSize      uint32
	LiftHeight    float32
	LiftSpeed     float32
	RetractSpeed  float32
	LightPWM      uint16
	Unknown22     uint16
	Unknown24     [2]uint32
}

var (
	fileHeaderSize    = binary.Size(fileHeader{})
	previewHeaderSize = binary.Size(previewHeader{})
	printParamsSize   = binary.Size(printParams{})
	layerDefSize      = binary.Size(layerDef{})
)

func (h *fileHeader) params(pp *printParams, name string) layer.Params {
	p := layer.DefaultParams()
	p.MachineName = name
	p.BedSizeX = h.BedSizeX
	p.BedSizeY = h.BedSizeY
	p.BedSizeZ = h.BedSizeZ
	p.LayerHeight = h.LayerHeight
	p.ExposureTime = h.ExposureTime
	p.BottomExposureTime = h.BottomExposureTime
	p.LightOffDelay = h.LightOffDelay
	p.BottomLayers = int(h.BottomLayers)
	p.AntiAliasing = int(h.AntiAliasing)
	p.LightPWM = uint8(min(h.LightPWM, 0xff))
	p.BottomLightPWM = uint8(min(h.BottomLightPWM, 0xff))
	p.BottomLiftHeight = pp.BottomLiftHeight
	p.BottomLiftSpeed = pp.BottomLiftSpeed
	p.LiftHeight = pp.LiftHeight
	p.LiftSpeed = pp.LiftSpeed
	p.RetractSpeed = pp.RetractSpeed
	p.BottomLightOffDelay = pp.BottomLightOffDelay
	return p
}

func (h *fileHeader) setParams(t *layer.Table) {
	p := t.Params
	h.BedSizeX = p.BedSizeX
	h.BedSizeY = p.BedSizeY
	h.BedSizeZ = p.BedSizeZ
	h.PrintHeight = t.PrintHeight
	h.LayerHeight = p.LayerHeight
	h.ExposureTime = p.ExposureTime
	h.BottomExposureTime = p.BottomExposureTime
	h.LightOffDelay = p.LightOffDelay
	h.BottomLayers = uint32(max(p.BottomLayers, 0))
	h.AntiAliasing = uint32(max(p.AntiAliasing, 1))
	h.LightPWM = uint16(p.LightPWM)
	h.BottomLightPWM = uint16(p.BottomLightPWM)
}

func (pp *printParams) set(p layer.Params) {
	pp.BottomLiftHeight = p.BottomLiftHeight
	pp.BottomLiftSpeed = p.BottomLiftSpeed
	pp.LiftHeight = p.LiftHeight
	pp.LiftSpeed = p.LiftSpeed
	pp.RetractSpeed = p.RetractSpeed
	pp.BottomLightOffDelay = p.BottomLightOffDelay
}

func (d *layerDef) apply(l *layer.Layer) {
	l.PositionZ = d.PositionZ
	l.ExposureTime = d.ExposureTime
	l.LightOffDelay = d.LightOffDelay
	l.LiftHeight = d.LiftHeight
	l.LiftSpeed = d.LiftSpeed
	l.RetractSpeed = d.RetractSpeed
	l.LightPWM = uint8(min(d.LightPWM, 0xff))
}

// set copies the layer scalars, leaving the data location alone.
func (d *layerDef) set(l *layer.Layer) {
	d.PositionZ = l.PositionZ
	d.ExposureTime = l.ExposureTime
	d.LightOffDelay = l.LightOffDelay
	d.LiftHeight = l.LiftHeight
	d.LiftSpeed = l.LiftSpeed
	d.RetractSpeed = l.RetractSpeed
	d.LightPWM = uint16(l.LightPWM)
}
