package meshcop

import (
	"crypto/sha256"
	"hash/crc32"
)

// JoinerIDLength is the length in bytes of a computed Joiner ID.
const JoinerIDLength = 8

// ComputeJoinerID derives the Joiner ID advertised in a DTLS handshake's
// psk_identity from a Joiner's EUI-64, per the Thread 1.2 specification:
// SHA-256 of the 8-byte EUI-64, truncated to the first 8 bytes, with the
// locally-administered bit set and the multicast bit cleared in the first
// byte (the same transformation applied to any IEEE EUI-64-derived
// interface identifier).
func ComputeJoinerID(eui64 uint64) []byte {
	var eui [8]byte
	for i := 0; i < 8; i++ {
		eui[7-i] = byte(eui64 >> (8 * i))
	}
	sum := sha256.Sum256(eui[:])
	id := make([]byte, JoinerIDLength)
	copy(id, sum[:JoinerIDLength])
	id[0] |= 0x02
	id[0] &^= 0x01
	return id
}

// SteeringDataLength is the maximum size of a Thread 1.2 Steering Data
// Bloom filter in bytes.
const SteeringDataLength = 16

// SteeringData is a Bloom filter of admitted Joiner IDs, carried as the
// TLV value of a Steering Data TLV. An all-ones SteeringData admits every
// Joiner ID unconditionally.
type SteeringData []byte

// NewSteeringData returns an all-zero filter of the given length
// (1..SteeringDataLength bytes); callers then AddJoiner each admitted id.
func NewSteeringData(length int) SteeringData {
	if length <= 0 {
		length = SteeringDataLength
	}
	if length > SteeringDataLength {
		length = SteeringDataLength
	}
	return make(SteeringData, length)
}

// AddJoiner sets the Bloom filter bits for joinerID, mutating s in place.
func AddJoiner(s SteeringData, joinerID []byte) {
	for _, bit := range bloomBits(joinerID, len(s)*8) {
		s[bit/8] |= 1 << uint(bit%8)
	}
}

// Contains reports whether joinerID is admitted by s: every bit
// bloomBits(joinerID) computes is set, or s is the all-ones filter.
func (s SteeringData) Contains(joinerID []byte) bool {
	if s.isAllOnes() {
		return true
	}
	if len(s) == 0 {
		return false
	}
	for _, bit := range bloomBits(joinerID, len(s)*8) {
		if s[bit/8]&(1<<uint(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func (s SteeringData) isAllOnes() bool {
	if len(s) == 0 {
		return false
	}
	for _, b := range s {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// bloomBits computes the two independent bit positions a Joiner ID hashes
// to in a filter of the given bit width: CRC32 (IEEE) and CRC32 (Castagnoli)
// of the Joiner ID, each reduced modulo the filter width. Two independent
// hash functions over a compact filter keep the false-positive rate low
// without pulling in a dedicated Bloom filter dependency for an 8-byte key.
func bloomBits(joinerID []byte, width int) []int {
	if width == 0 {
		return nil
	}
	h1 := crc32.ChecksumIEEE(joinerID)
	h2 := crc32.Checksum(joinerID, crc32.MakeTable(crc32.Castagnoli))
	return []int{int(h1) % width, int(h2) % width}
}
