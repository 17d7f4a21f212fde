package lsm

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// defaultFPRate is the target false-positive rate for new bloom filters
// (spec §6 bloom_fp_rate default).
const defaultFPRate = 0.01

// bloomFilter is a bit-set sized for a target false-positive rate. It is
// append-only during SSTable construction and immutable once built (I-S3:
// never false-negates, may false-positive).
type bloomFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint32
}

// newBloomFilter sizes a filter for expectedItems at fpRate using the
// standard m = -n ln(p) / (ln2)^2, k = (m/n) ln2 formulas.
func newBloomFilter(expectedItems int, fpRate float64) *bloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFPRate
	}
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	k := int(math.Round((m / n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	numBits := uint64(m)
	words := (numBits + 63) / 64
	return &bloomFilter{bits: make([]uint64, words), numBits: numBits, numHashes: uint32(k)}
}

// seedHashes derives numHashes independent-looking 64-bit values from one
// xxHash sum by XORing successively rotated halves, per spec §4.6: "hash
// seeds derived from a single 64-bit hash split via XORed rotations".
func seedHashes(key []byte, numHashes uint32) []uint64 {
	h := xxhash.Sum64(key)
	h1 := h & 0xffffffff
	h2 := h >> 32
	out := make([]uint64, numHashes)
	for i := uint32(0); i < numHashes; i++ {
		rotated := bits.RotateLeft64(h2, int(i)*7)
		out[i] = h1 ^ rotated ^ (uint64(i) * 0x9E3779B97F4A7C15)
	}
	return out
}

func (b *bloomFilter) add(key []byte) {
	if b.numBits == 0 {
		return
	}
	for _, h := range seedHashes(key, b.numHashes) {
		bit := h % b.numBits
		b.bits[bit/64] |= 1 << (bit % 64)
	}
}

// mayContain reports whether key is possibly present. false is definitive
// (I-S3); true requires a fallback probe.
func (b *bloomFilter) mayContain(key []byte) bool {
	if b.numBits == 0 {
		return true
	}
	for _, h := range seedHashes(key, b.numHashes) {
		bit := h % b.numBits
		if b.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// marshal serializes the filter as {numBits, numHashes, words...} for the
// SSTable footer.
func (b *bloomFilter) marshal() []byte {
	buf := make([]byte, 8+4+len(b.bits)*8)
	putUint64(buf[0:8], b.numBits)
	putUint32(buf[8:12], b.numHashes)
	for i, w := range b.bits {
		putUint64(buf[12+i*8:20+i*8], w)
	}
	return buf
}

func unmarshalBloom(buf []byte) *bloomFilter {
	if len(buf) < 12 {
		return &bloomFilter{}
	}
	numBits := getUint64(buf[0:8])
	numHashes := getUint32(buf[8:12])
	words := (len(buf) - 12) / 8
	bs := make([]uint64, words)
	for i := 0; i < words; i++ {
		bs[i] = getUint64(buf[12+i*8 : 20+i*8])
	}
	return &bloomFilter{bits: bs, numBits: numBits, numHashes: numHashes}
}
