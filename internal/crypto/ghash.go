package crypto

import "encoding/binary"

// ghashR is the GCM reduction constant 11100001 || 0^120, high half.
const ghashR = 0xe1 << 56

// ghash is an incremental GHASH over ciphertext only (no additional data).
// Field elements are held as two big-endian uint64 halves, bit 0 of the
// element being the most significant bit of hi.
type ghash struct {
	hHi, hLo uint64
	yHi, yLo uint64
	buf      [16]byte
	n        int
	total    uint64
}

func newGHASH(h []byte) *ghash {
	return &ghash{
		hHi: binary.BigEndian.Uint64(h[:8]),
		hLo: binary.BigEndian.Uint64(h[8:16]),
	}
}

func (g *ghash) write(p []byte) {
	g.total += uint64(len(p))
	if g.n > 0 {
		c := copy(g.buf[g.n:], p)
		g.n += c
		p = p[c:]
		if g.n < len(g.buf) {
			return
		}
		g.block(g.buf[:])
		g.n = 0
	}
	for len(p) >= 16 {
		g.block(p[:16])
		p = p[16:]
	}
	if len(p) > 0 {
		g.n = copy(g.buf[:], p)
	}
}

func (g *ghash) block(b []byte) {
	g.yHi ^= binary.BigEndian.Uint64(b[:8])
	g.yLo ^= binary.BigEndian.Uint64(b[8:16])
	g.yHi, g.yLo = gfMul(g.yHi, g.yLo, g.hHi, g.hLo)
}

// sum pads the trailing partial block, absorbs the length block and returns
// the hash. The ghash must not be written to afterwards.
func (g *ghash) sum() [16]byte {
	if g.n > 0 {
		clear(g.buf[g.n:])
		g.block(g.buf[:])
		g.n = 0
	}
	var lens [16]byte
	binary.BigEndian.PutUint64(lens[8:], g.total*8)
	g.block(lens[:])

	var out [16]byte
	binary.BigEndian.PutUint64(out[:8], g.yHi)
	binary.BigEndian.PutUint64(out[8:], g.yLo)
	return out
}

// gfMul multiplies x and y in GF(2^128) with the GCM bit ordering. Branches
// depend only on the loop counter.
func gfMul(xHi, xLo, yHi, yLo uint64) (zHi, zLo uint64) {
	vHi, vLo := yHi, yLo
	for i := 0; i < 128; i++ {
		var bit uint64
		if i < 64 {
			bit = (xHi >> (63 - i)) & 1
		} else {
			bit = (xLo >> (127 - i)) & 1
		}
		mask := -bit
		zHi ^= vHi & mask
		zLo ^= vLo & mask

		lsb := vLo & 1
		vLo = vLo>>1 | vHi<<63
		vHi >>= 1
		vHi ^= ghashR & -lsb
	}
	return zHi, zLo
}
