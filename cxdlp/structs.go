package cxdlp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

const (
	magic   = "CXSW3DV2"
	version = 3

	previewSize = 290

	maxString     = 1 << 10
	maxResolution = 1 << 14
)

var (
	order = binary.BigEndian
	crlf  = [2]byte{'\r', '\n'}
)

type resolution struct {
	LayerCount  uint16
	ResolutionX uint16
	ResolutionY uint16
}

type previewHeader struct {
	Width    uint16
	Height   uint16
	DataSize uint32
}

type settings struct {
	BedSizeX            float32
	BedSizeY            float32
	BedSizeZ            float32
	LayerHeight         float32
	BottomLayers        uint16
	AntiAliasing        uint16
	BottomExposureTime  float32
	ExposureTime        float32
	BottomLightOffDelay float32
	LightOffDelay       float32
	BottomLiftHeight    float32
	BottomLiftSpeed     float32
	LiftHeight          float32
	LiftSpeed           float32
	RetractSpeed        float32
	BottomLightPWM      uint16
	LightPWM            uint16
	Unknown3C           [2]uint32
}

func (s *settings) params(name string) layer.Params {
	return layer.Params{
		MachineName:         name,
		BedSizeX:            s.BedSizeX,
		BedSizeY:            s.BedSizeY,
		BedSizeZ:            s.BedSizeZ,
		LayerHeight:         s.LayerHeight,
		BottomLayers:        int(s.BottomLayers),
		BottomExposureTime:  s.BottomExposureTime,
		ExposureTime:        s.ExposureTime,
		BottomLightOffDelay: s.BottomLightOffDelay,
		LightOffDelay:       s.LightOffDelay,
		BottomLiftHeight:    s.BottomLiftHeight,
		BottomLiftSpeed:     s.BottomLiftSpeed,
		LiftHeight:          s.LiftHeight,
		LiftSpeed:           s.LiftSpeed,
		RetractSpeed:        s.RetractSpeed,
		BottomLightPWM:      uint8(min(s.BottomLightPWM, 0xff)),
		LightPWM:            uint8(min(s.LightPWM, 0xff)),
		AntiAliasing:        int(max(s.AntiAliasing, 1)),
	}
}

func (s *settings) set(p layer.Params) {
	s.BedSizeX = p.BedSizeX
	s.BedSizeY = p.BedSizeY
	s.BedSizeZ = p.BedSizeZ
	s.LayerHeight = p.LayerHeight
	s.BottomLayers = uint16(max(p.BottomLayers, 0))
	s.AntiAliasing = uint16(max(p.AntiAliasing, 1))
	s.BottomExposureTime = p.BottomExposureTime
	s.ExposureTime = p.ExposureTime
	s.BottomLightOffDelay = p.BottomLightOffDelay
	s.LightOffDelay = p.LightOffDelay
	s.BottomLiftHeight = p.BottomLiftHeight
	s.BottomLiftSpeed = p.BottomLiftSpeed
	s.LiftHeight = p.LiftHeight
	s.LiftSpeed = p.LiftSpeed
	s.RetractSpeed = p.RetractSpeed
	s.BottomLightPWM = uint16(p.BottomLightPWM)
	s.LightPWM = uint16(p.LightPWM)
}

// seqReader reads a file front to back, tracking the offset.
type seqReader struct {
	r    *bufio.Reader
	off  int64
	size int64
}

func newSeqReader(r io.ReaderAt, size int64) *seqReader {
	return &seqReader{r: bufio.NewReaderSize(io.NewSectionReader(r, 0, size), 1<<16), size: size}
}

func (s *seqReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.off += int64(n)
	return n, err
}

func (s *seqReader) value(v interface{}, what string) error {
	if err := binary.Read(s, order, v); err != nil {
		return pipeline.ReadError(what, err)
	}
	return nil
}

// need fails with ErrTruncated unless n more bytes remain.
func (s *seqReader) need(n int64, what string) error {
	if n > s.size-s.off {
		return fmt.Errorf("%v: %v bytes at %v past end of %v-byte file: %w", what, n, s.off, s.size, pipeline.ErrTruncated)
	}
	return nil
}

func (s *seqReader) bytes(n int64, what string) ([]byte, error) {
	if err := s.need(n, what); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s, buf); err != nil {
		return nil, pipeline.ReadError(what, err)
	}
	return buf, nil
}

func (s *seqReader) skip(n int64, what string) error {
	if err := s.need(n, what); err != nil {
		return err
	}
	d, err := s.r.Discard(int(n))
	s.off += int64(d)
	if err != nil {
		return pipeline.ReadError(what, err)
	}
	return nil
}

// str reads a uint32 length-prefixed string.
func (s *seqReader) str(what string) (string, error) {
	var n uint32
	if err := s.value(&n, what); err != nil {
		return "", err
	}
	if n > maxString {
		return "", pipeline.Formatf("%v is %v bytes long", what, n)
	}
	b, err := s.bytes(int64(n), what)
	return string(b), err
}

func (s *seqReader) separator(what string) error {
	var b [2]byte
	if err := s.value(&b, what); err != nil {
		return err
	}
	if b != crlf {
		return pipeline.Formatf("missing line break after %v at offset %v", what, s.off-2)
	}
	return nil
}

// putStr writes a uint32 length-prefixed string.
func putStr(w io.Writer, s string) error {
	if err := binary.Write(w, order, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
