package codec

import "github.com/gmlewis/msla/bitmap"

const (
	photonSetFlag = 0x80
	// Runs are cut at 0x7d even though 7 bits allow 0x7f; ChiTuBox and
	// the AnyCubic firmware both expect the shorter limit.
	photonRunLimit = 0x7d
)

// encodePhoton walks the image column by column (x = i / height,
// y = i % height) emitting set/unset runs.
func encodePhoton(b *bitmap.Buffer) []byte {
	var output []byte

	emit := func(set bool, count int) {
		if count == 0 {
			return
		}
		v := byte(count)
		if set {
			v |= photonSetFlag
		}
		output = append(output, v)
	}

	var set bool
	var count int
	for x := 0; x < b.Width(); x++ {
		b.ColumnScan(x, func(_ int, v byte) bool {
			pixelSet := v != 0
			if pixelSet != set {
				emit(set, count)
				set, count = pixelSet, 0
			}
			count++
			if count == photonRunLimit {
				emit(set, count)
				count = 0
			}
			return true
		})
	}
	emit(set, count)

	return output
}

func decodePhoton(data []byte, b *bitmap.Buffer) error {
	total := b.Len()
	n := 0
	for i, v := range data {
		count := int(v &^ photonSetFlag)
		if count == 0 {
			return corrupt(Photon, i, 1, 0, "zero-length run")
		}
		if n+count > total {
			return corrupt(Photon, i, count, total-n, "run overruns image")
		}
		if v&photonSetFlag != 0 {
			if err := b.FillColumnRun(n, count, 0xff); err != nil {
				return err
			}
		}
		n += count
	}
	if n != total {
		return corrupt(Photon, len(data), total, n, "image ended short")
	}
	return nil
}
