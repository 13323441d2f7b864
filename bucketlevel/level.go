// Package bucketlevel implements one level of the eleven-level bucket list
// cascade: a curr/snap pair of buckets plus a next FutureBucket describing
// the merge that will replace the level above's curr on spill (spec.md §3,
// §4.4).
package bucketlevel

import (
	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/futurebucket"
)

// NumLevels is the size of the bucket list cascade.
const NumLevels = 11

// Half returns half(i), the spill period of level i, per spec.md §3:
// half(0) = 1, half(i) = 4*half(i-1) for i >= 1.
func Half(i int) uint64 {
	h := uint64(1)
	for ; i > 0; i-- {
		h *= 4
	}
	return h
}

// Spills reports whether level i spills at ledger N: N mod half(i) ==
// half(i)/2, and i has a level above it to spill into (i < NumLevels-1).
func Spills(i int, n uint64) bool {
	if i >= NumLevels-1 {
		return false
	}
	h := Half(i)
	return n%h == h/2
}

// Snaps reports whether level i snaps (rotates curr -> snap) at ledger N:
// N mod half(i) == 0, and i < NumLevels-1 (the top level never spills or
// snaps on its own schedule; it only receives merges at level 9's snap).
func Snaps(i int, n uint64) bool {
	if i >= NumLevels-1 {
		return false
	}
	h := Half(i)
	return n%h == 0
}

// Level holds one bucket list level's curr/snap slots and its in-flight
// "next" merge. A nil Curr/Snap represents the cleared (empty) bucket,
// contributing h0 to the bucket list hash.
type Level struct {
	Curr *bucket.Bucket
	Snap *bucket.Bucket
	Next *futurebucket.FutureBucket
}

// NewLevel returns an empty level with a Clear next future.
func NewLevel() *Level {
	return &Level{Curr: bucket.Empty, Snap: bucket.Empty, Next: futurebucket.New()}
}

// CurrHash returns Curr's hash, or the zero hash if Curr is nil/empty.
func (l *Level) CurrHash() [32]byte {
	if l.Curr == nil {
		return [32]byte{}
	}
	return l.Curr.Hash()
}

// SnapHash returns Snap's hash, or the zero hash if Snap is nil/empty.
func (l *Level) SnapHash() [32]byte {
	if l.Snap == nil {
		return [32]byte{}
	}
	return l.Snap.Hash()
}
