package manager

import "github.com/ledgerwatch/bucketstore/common"

// Skip-list sampling periods, in ledgers, per spec.md §4.5.
const (
	Skip1 = 50
	Skip2 = 5000
	Skip3 = 50000
	Skip4 = 500000
)

var skipPeriods = [4]uint64{Skip1, Skip2, Skip3, Skip4}

// SkipList is the 4-slot ledger-header skip list: a catch-up index that
// lets a client resume verification from a much earlier ledger than N-1,
// by following progressively coarser back-links (spec.md §4.5).
type SkipList [4]common.Hash

// Advance computes the skip list for ledger n given the previous ledger's
// skip list and the new bucket list hash BL_n:
//
//   skipList[0] = BL_n if n mod SKIP_1 == 0, else unchanged.
//   skipList[k], k in {1,2,3}: if n mod SKIP_{k+1} == 0, shift the
//   PRE-update skipList[k-1] (i.e. the value as of ledger n-1) into slot
//   k; otherwise unchanged.
func (prev SkipList) Advance(n uint64, blHash common.Hash) SkipList {
	next := prev
	if n%Skip1 == 0 {
		next[0] = blHash
	}
	for k := 1; k < 4; k++ {
		if n%skipPeriods[k] == 0 {
			next[k] = prev[k-1]
		}
	}
	return next
}
