package zipper

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

const (
	manifestVersion = 1

	manifestName = "manifest.json"
	previewName  = "preview.png"
	layerNameFmt = "layers/%05d.rle"

	maxManifest   = 64 << 20
	maxResolution = 1 << 14
)

// params mirrors layer.Params field for field.
type params struct {
	MachineName string `json:"machine_name"`

	BedSizeX float32 `json:"bed_size_x"`
	BedSizeY float32 `json:"bed_size_y"`
	BedSizeZ float32 `json:"bed_size_z"`

	LayerHeight  float32 `json:"layer_height"`
	BottomLayers int     `json:"bottom_layers"`

	BottomExposureTime  float32 `json:"bottom_exposure_time"`
	ExposureTime        float32 `json:"exposure_time"`
	BottomLightOffDelay float32 `json:"bottom_light_off_delay"`
	LightOffDelay       float32 `json:"light_off_delay"`

	BottomLiftHeight float32 `json:"bottom_lift_height"`
	BottomLiftSpeed  float32 `json:"bottom_lift_speed"`
	LiftHeight       float32 `json:"lift_height"`
	LiftSpeed        float32 `json:"lift_speed"`
	RetractSpeed     float32 `json:"retract_speed"`

	BottomLightPWM uint8 `json:"bottom_light_pwm"`
	LightPWM       uint8 `json:"light_pwm"`

	AntiAliasing int `json:"anti_aliasing"`
}

type layerEntry struct {
	File          string  `json:"file"`
	PositionZ     float32 `json:"z"`
	ExposureTime  float32 `json:"exposure_time"`
	LightOffDelay float32 `json:"light_off_delay"`
	LiftHeight    float32 `json:"lift_height"`
	LiftSpeed     float32 `json:"lift_speed"`
	RetractSpeed  float32 `json:"retract_speed"`
	LightPWM      uint8   `json:"light_pwm"`
	Pixels        int     `json:"pixels"`
	Bounds        [4]int  `json:"bounds"`
}

type manifest struct {
	Version int          `json:"version"`
	Codec   string       `json:"codec"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Params  params       `json:"params"`
	Layers  []layerEntry `json:"layers"`
}

func newEntry(l *layer.Layer) layerEntry {
	r := l.BoundingRect
	return layerEntry{
		PositionZ:     l.PositionZ,
		ExposureTime:  l.ExposureTime,
		LightOffDelay: l.LightOffDelay,
		LiftHeight:    l.LiftHeight,
		LiftSpeed:     l.LiftSpeed,
		RetractSpeed:  l.RetractSpeed,
		LightPWM:      l.LightPWM,
		Pixels:        l.NonZeroPixels,
		Bounds:        [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y},
	}
}

func (e *layerEntry) apply(l *layer.Layer) {
	l.PositionZ = e.PositionZ
	l.ExposureTime = e.ExposureTime
	l.LightOffDelay = e.LightOffDelay
	l.LiftHeight = e.LiftHeight
	l.LiftSpeed = e.LiftSpeed
	l.RetractSpeed = e.RetractSpeed
	l.LightPWM = e.LightPWM
	l.NonZeroPixels = e.Pixels
	l.BoundingRect = image.Rect(e.Bounds[0], e.Bounds[1], e.Bounds[2], e.Bounds[3])
}

// readManifest parses the manifest and returns it with its archive entry.
func readManifest(zr *zip.Reader) (*manifest, *zip.File, error) {
	var zf *zip.File
	for _, f := range zr.File {
		if f.Name == manifestName {
			zf = f
			break
		}
	}
	if zf == nil {
		return nil, nil, pipeline.Formatf("no %v", manifestName)
	}
	if zf.UncompressedSize64 > maxManifest {
		return nil, nil, pipeline.Formatf("%v is %v bytes", manifestName, zf.UncompressedSize64)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	m := &manifest{}
	if err := json.NewDecoder(io.LimitReader(rc, maxManifest)).Decode(m); err != nil {
		return nil, nil, pipeline.Formatf("%v: %v", manifestName, err)
	}
	if m.Version != manifestVersion {
		return nil, nil, pipeline.Formatf("manifest version %v", m.Version)
	}
	if m.Width <= 0 || m.Height <= 0 || m.Width > maxResolution || m.Height > maxResolution {
		return nil, nil, pipeline.Formatf("resolution %vx%v", m.Width, m.Height)
	}
	return m, zf, nil
}

// writeManifest stores m with the given entry time.
func writeManifest(zw *zip.Writer, m *manifest, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     manifestName,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("unable to create %v: %w", manifestName, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func (m *manifest) params() layer.Params { return layer.Params(m.Params) }
