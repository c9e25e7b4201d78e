package codec

import "github.com/gmlewis/msla/bitmap"

const (
	nibbleShortLimit = 0xf
	nibbleLongLimit  = 0xfff
)

// nibbleLong reports whether color class c uses the 12-bit escaped count.
func nibbleLong(c byte) bool { return c == 0x0 || c == 0xf }

func encodeNibble(b *bitmap.Buffer) []byte {
	pix := b.Pix()
	output := make([]byte, 0, len(pix)/64)

	emit := func(c byte, count int) {
		for count > 0 {
			if nibbleLong(c) {
				n := min(count, nibbleLongLimit)
				output = append(output, c<<4|byte(n>>8), byte(n))
				count -= n
				continue
			}
			n := min(count, nibbleShortLimit)
			output = append(output, c<<4|byte(n))
			count -= n
		}
	}

	cur := pix[0] >> 4
	count := 0
	for _, v := range pix {
		c := v >> 4
		if c != cur {
			emit(cur, count)
			cur, count = c, 0
		}
		count++
	}
	emit(cur, count)

	return output
}

func decodeNibble(data []byte, b *bitmap.Buffer) error {
	total := b.Len()
	n := 0
	for i := 0; i < len(data); i++ {
		start := i
		c := data[i] >> 4
		count := int(data[i] & 0xf)
		if nibbleLong(c) {
			if i+1 >= len(data) {
				return corrupt(Nibble, start, 2, len(data)-start, "escape missing count byte")
			}
			i++
			count = count<<8 | int(data[i])
		}
		if count == 0 {
			return corrupt(Nibble, start, 1, 0, "zero-length run")
		}
		if n+count > total {
			// Some writers pad the final run instead of sizing it exactly;
			// accept that only for the last token in the stream.
			if i != len(data)-1 {
				return corrupt(Nibble, start, count, total-n, "run overruns image")
			}
			count = total - n
		}
		if err := b.FillRun(n, count, c*0x11); err != nil {
			return err
		}
		n += count
	}
	if n != total {
		return corrupt(Nibble, len(data), total, n, "image ended short")
	}
	return nil
}
