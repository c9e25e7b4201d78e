package codec

import "github.com/gmlewis/msla/bitmap"

const (
	varLenRunFlag = 0x01
	varLenMaxRun  = 1<<28 - 1
)

// varLenValue maps an 8-bit input to the value stored in the 7-bit
// payload: the low bit carries the run flag on the wire, so it is
// rebuilt from the high bit to keep 0x00 black and 0xff white.
func varLenValue(v byte) byte {
	return v&0xfe | v>>7
}

// putVarLen appends n using the 1-4 byte prefix code
// 0xxxxxxx, 10xxxxxx, 110xxxxx, 1110xxxx (most significant byte first).
func putVarLen(dst []byte, n int) []byte {
	switch {
	case n <= 0x7f:
		return append(dst, byte(n))
	case n <= 0x3fff:
		return append(dst, 0x80|byte(n>>8), byte(n))
	case n <= 0x1fffff:
		return append(dst, 0xc0|byte(n>>16), byte(n>>8), byte(n))
	}
	return append(dst, 0xe0|byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// getVarLen reads a run length from src, returning the value and the
// number of bytes consumed (0 if src is too short or the prefix is invalid).
func getVarLen(src []byte) (n, size int) {
	if len(src) == 0 {
		return 0, 0
	}
	c := src[0]
	switch {
	case c&0x80 == 0:
		return int(c), 1
	case c&0xc0 == 0x80:
		n, size = int(c&0x3f), 2
	case c&0xe0 == 0xc0:
		n, size = int(c&0x1f), 3
	case c&0xf0 == 0xe0:
		n, size = int(c&0x0f), 4
	default:
		return 0, 0
	}
	if len(src) < size {
		return 0, 0
	}
	for _, b := range src[1:size] {
		n = n<<8 | int(b)
	}
	return n, size
}

func encodeVarLen(b *bitmap.Buffer) []byte {
	pix := b.Pix()
	output := make([]byte, 0, len(pix)/32)

	emit := func(v byte, count int) {
		for count > 0 {
			n := min(count, varLenMaxRun)
			if n == 1 {
				output = append(output, v&0xfe)
			} else {
				output = append(output, v&0xfe|varLenRunFlag)
				output = putVarLen(output, n)
			}
			count -= n
		}
	}

	cur := varLenValue(pix[0])
	count := 0
	for _, p := range pix {
		if v := varLenValue(p); v != cur {
			emit(cur, count)
			cur, count = v, 0
		}
		count++
	}
	emit(cur, count)

	return output
}

func decodeVarLen(data []byte, b *bitmap.Buffer) error {
	total := b.Len()
	n := 0
	for i := 0; i < len(data); {
		start := i
		head := data[i]
		i++
		count := 1
		if head&varLenRunFlag != 0 {
			var size int
			count, size = getVarLen(data[i:])
			if size == 0 {
				return corrupt(VarLen, i, 1, len(data)-i, "bad or truncated run length")
			}
			i += size
			if count == 0 {
				return corrupt(VarLen, start, 1, 0, "zero-length run")
			}
		}
		if n+count > total {
			return corrupt(VarLen, start, count, total-n, "run overruns image")
		}
		if err := b.FillRun(n, count, varLenValue(head)); err != nil {
			return err
		}
		n += count
	}
	if n != total {
		return corrupt(VarLen, len(data), total, n, "image ended short")
	}
	return nil
}
