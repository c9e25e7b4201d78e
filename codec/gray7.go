package codec

import "github.com/gmlewis/msla/bitmap"

const (
	gray7Literal     = 0x80
	gray7RepeatLimit = 0x7f
	// Extending 7 bits back to 8 can land a few counts short of full
	// intensity; anything this bright is treated as fully on.
	gray7WhiteSnap = 0xfc
)

// gray7Value expands a 7-bit intensity to 8 bits.
func gray7Value(v7 byte) byte {
	v := v7<<1 | v7&1
	if v >= gray7WhiteSnap {
		return 0xff
	}
	return v
}

func encodeGray7(b *bitmap.Buffer) []byte {
	pix := b.Pix()
	output := make([]byte, 0, len(pix)/32)

	emit := func(v7 byte, count int) {
		output = append(output, gray7Literal|v7)
		for count--; count > 0; {
			n := min(count, gray7RepeatLimit)
			output = append(output, byte(n))
			count -= n
		}
	}

	// Runs are grouped by decoded value so that 0xfc..0xff, which all
	// decode to white, form a single run.
	cur := pix[0] >> 1
	curValue := gray7Value(cur)
	count := 0
	for _, p := range pix {
		v7 := p >> 1
		if v := gray7Value(v7); v != curValue {
			emit(cur, count)
			cur, curValue, count = v7, v, 0
		}
		count++
	}
	emit(cur, count)

	return output
}

func decodeGray7(data []byte, b *bitmap.Buffer) error {
	pix := b.Pix()
	n := 0
	var value byte
	var seen bool
	for i, c := range data {
		if c&gray7Literal != 0 {
			if n >= len(pix) {
				return corrupt(Gray7, i, 1, 0, "literal past end of image")
			}
			value = gray7Value(c &^ gray7Literal)
			seen = true
			pix[n] = value
			n++
			continue
		}
		count := int(c)
		switch {
		case count == 0:
			return corrupt(Gray7, i, 1, 0, "zero-length repeat")
		case !seen:
			return corrupt(Gray7, i, 1, 0, "repeat before first literal")
		case n+count > len(pix):
			return corrupt(Gray7, i, count, len(pix)-n, "run overruns image")
		}
		if err := b.FillRun(n, count, value); err != nil {
			return err
		}
		n += count
	}
	if n != len(pix) {
		return corrupt(Gray7, len(data), len(pix), n, "image ended short")
	}
	return nil
}
