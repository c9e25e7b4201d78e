package layer

// Params are the print-wide settings carried by every format header.
// Formats map their own header fields onto these.
type Params struct {
	MachineName string

	BedSizeX float32 // mm
	BedSizeY float32 // mm
	BedSizeZ float32 // mm

	LayerHeight  float32 // mm
	BottomLayers int

	BottomExposureTime  float32 // seconds
	ExposureTime        float32 // seconds
	BottomLightOffDelay float32 // seconds
	LightOffDelay       float32 // seconds

	BottomLiftHeight float32 // mm
	BottomLiftSpeed  float32 // mm/min
	LiftHeight       float32 // mm
	LiftSpeed        float32 // mm/min
	RetractSpeed     float32 // mm/min

	BottomLightPWM uint8
	LightPWM       uint8

	AntiAliasing int // 1 means none
}

// DefaultParams mirror ChiTuBox defaults for a 2K mono printer.
func DefaultParams() Params {
	return Params{
		MachineName:         "Default",
		BedSizeX:            68.04,
		BedSizeY:            120.96,
		BedSizeZ:            150,
		LayerHeight:         0.05,
		BottomLayers:        8,
		BottomExposureTime:  50,
		ExposureTime:        6,
		BottomLightOffDelay: 1,
		LightOffDelay:       1,
		BottomLiftHeight:    6,
		BottomLiftSpeed:     60,
		LiftHeight:          6,
		LiftSpeed:           60,
		RetractSpeed:        150,
		BottomLightPWM:      255,
		LightPWM:            255,
		AntiAliasing:        1,
	}
}

// Apply writes the bottom or normal per-layer defaults into l, and
// positions it one layer height above its predecessor.
func (p Params) Apply(l *Layer) {
	l.PositionZ = p.LayerHeight * float32(l.Index+1)
	if l.IsBottom(p.BottomLayers) {
		l.ExposureTime = p.BottomExposureTime
		l.LightOffDelay = p.BottomLightOffDelay
		l.LiftHeight = p.BottomLiftHeight
		l.LiftSpeed = p.BottomLiftSpeed
		l.LightPWM = p.BottomLightPWM
	} else {
		l.ExposureTime = p.ExposureTime
		l.LightOffDelay = p.LightOffDelay
		l.LiftHeight = p.LiftHeight
		l.LiftSpeed = p.LiftSpeed
		l.LightPWM = p.LightPWM
	}
	l.RetractSpeed = p.RetractSpeed
}
