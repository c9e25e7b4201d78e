// Package cipher implements the per-layer XOR stream cipher that some
// printer formats apply over compressed layer data.
//
// The keystream depends only on a file-wide seed and the layer index, so
// applying Transform twice with the same key restores the input.
package cipher

const (
	seedMul  = 0x2d83cdac
	seedAdd  = 0xd8a83423
	layerMul = 0x1e1530cd
	layerAdd = 0xec3d47cd
)

// Transform XORs buf in place with the keystream for (seed, layerIndex).
// A zero seed means the file is not encrypted and buf is left untouched.
func Transform(seed, layerIndex uint32, buf []byte) {
	if seed == 0 {
		return
	}
	step := seed*seedMul + seedAdd
	key := (layerIndex*layerMul + layerAdd) * step

	for i := range buf {
		buf[i] ^= byte(key >> (8 * (i & 3)))
		if i&3 == 3 {
			key += step
		}
	}
}

// Apply returns a transformed copy of src, leaving src unchanged.
func Apply(seed, layerIndex uint32, src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	Transform(seed, layerIndex, dst)
	return dst
}
