package nbs

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// hashSeed is the XXH64 seed used to derive a Hash from a type name. It is a
// compatibility constant: changing it silently changes every hash this
// package produces for a given name, breaking every on-disk file that
// referenced the name instead of a raw hash.
const hashSeed uint64 = 0x4e55436c

// Hash identifies a message type. It is either produced by hashing a UTF-8
// type name with XXH64, or supplied directly as eight raw little-endian
// bytes by a caller that already has the hash.
type Hash uint64

// HashFromName returns the XXH64 hash of name, seeded with hashSeed.
func HashFromName(name string) Hash {
	d := xxhash.NewWithSeed(hashSeed)
	d.Write([]byte(name))
	return Hash(d.Sum64())
}

// HashFromRaw interprets b as a little-endian u64. It fails with
// ErrInvalidHashBytes unless len(b) == 8.
func HashFromRaw(b []byte) (Hash, error) {
	if len(b) != 8 {
		return 0, ErrInvalidHashBytes
	}
	return Hash(binary.LittleEndian.Uint64(b)), nil
}

// Bytes returns h as 8 little-endian bytes.
func (h Hash) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(h))
	return b
}
