package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/gmlewis/msla/bitmap"
)

const (
	segmentCountSize = 4
	segmentSize      = 6 // 5 packed coordinate bytes + 1 gray byte

	segmentMaxY = 1<<13 - 1
	segmentMaxX = 1<<14 - 1
)

// segment is one vertical line x=X, y in [StartY, EndY], painted Gray.
type segment struct {
	StartY, EndY, X int
	Gray            byte
}

// pack stores startY(13) endY(13) startX(14) big-endian bit order.
func (s segment) pack(dst []byte) {
	v := uint64(s.StartY)<<27 | uint64(s.EndY)<<14 | uint64(s.X)
	dst[0] = byte(v >> 32)
	dst[1] = byte(v >> 24)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 8)
	dst[4] = byte(v)
	dst[5] = s.Gray
}

func unpackSegment(src []byte) segment {
	v := uint64(src[0])<<32 | uint64(src[1])<<24 | uint64(src[2])<<16 | uint64(src[3])<<8 | uint64(src[4])
	return segment{
		StartY: int(v >> 27 & segmentMaxY),
		EndY:   int(v >> 14 & segmentMaxY),
		X:      int(v & segmentMaxX),
		Gray:   src[5],
	}
}

func encodeSegment(b *bitmap.Buffer) ([]byte, error) {
	if b.Height() > segmentMaxY+1 || b.Width() > segmentMaxX+1 {
		return nil, fmt.Errorf("%v: image %vx%v exceeds %vx%v", Segment, b.Width(), b.Height(), segmentMaxX+1, segmentMaxY+1)
	}

	output := make([]byte, segmentCountSize, segmentCountSize+b.Len()/64)
	var lines uint32
	add := func(s segment) {
		var buf [segmentSize]byte
		s.pack(buf[:])
		output = append(output, buf[:]...)
		lines++
	}

	for x := 0; x < b.Width(); x++ {
		start := -1
		var gray byte
		b.ColumnScan(x, func(y int, v byte) bool {
			if start >= 0 && v != gray {
				add(segment{StartY: start, EndY: y - 1, X: x, Gray: gray})
				start = -1
			}
			if start < 0 && v != 0 {
				start, gray = y, v
			}
			return true
		})
		if start >= 0 {
			add(segment{StartY: start, EndY: b.Height() - 1, X: x, Gray: gray})
		}
	}

	binary.BigEndian.PutUint32(output, lines)
	return output, nil
}

func decodeSegment(data []byte, b *bitmap.Buffer) error {
	if len(data) < segmentCountSize {
		return corrupt(Segment, 0, segmentCountSize, len(data), "missing line count")
	}
	lines := int64(binary.BigEndian.Uint32(data))
	if need := int64(segmentCountSize) + lines*segmentSize; need > int64(len(data)) {
		return corrupt(Segment, segmentCountSize, int(need), len(data), "line table truncated")
	}

	pix := b.Pix()
	width := b.Width()
	for i := 0; i < int(lines); i++ {
		off := segmentCountSize + i*segmentSize
		s := unpackSegment(data[off : off+segmentSize])
		switch {
		case s.StartY > s.EndY:
			return corrupt(Segment, off, s.StartY, s.EndY, "segment ends before it starts")
		case s.EndY >= b.Height():
			return corrupt(Segment, off, s.EndY+1, b.Height(), "segment below image")
		case s.X >= width:
			return corrupt(Segment, off, s.X+1, width, "segment right of image")
		}
		for y := s.StartY; y <= s.EndY; y++ {
			pix[y*width+s.X] = s.Gray
		}
	}
	return nil
}
