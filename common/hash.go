package common

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashLength is the size in bytes of a content hash.
const HashLength = 32

// Hash is a content-addressing digest. Two buckets (or any other hashed
// object in this package tree) with equal Hash have byte-identical
// contents; see invariant I3/I5 of the bucket list spec.
type Hash [HashLength]byte

// ZeroHash is the well-known hash of the empty bucket, h0.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// Bytes returns a copy of h's bytes.
func (h Hash) Bytes() []byte { return append([]byte(nil), h[:]...) }

// Hex renders h as 0x-less lowercase hex, matching the bucket filename
// convention bucket-<64 hex digits>.xdr.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// BytesToHash truncates or zero-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HashFromHex parses a 64-hex-digit string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(b), nil
}

// SumSHA3 computes the 32-byte SHA3-256 digest of data, the single content
// hash primitive used across buckets and the bucket list.
func SumSHA3(data ...[]byte) Hash {
	d := sha3.New256()
	for _, chunk := range data {
		d.Write(chunk) //nolint:errcheck // sha3 hash.Write never errors
	}
	var h Hash
	d.Sum(h[:0])
	return h
}
