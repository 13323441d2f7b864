// Package txbatch defines the per-ledger-close batch contract the ledger
// transaction subsystem hands to the BucketManager (spec.md §6): the set
// of entries created, updated in place, or tombstoned by one ledger close.
package txbatch

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"

	"github.com/ledgerwatch/bucketstore/ledger"
)

// Batch is the init/live/dead triple produced by closing one ledger. A key
// must not appear in more than one list, and an INIT key must not also be
// LIVE or DEAD in the same batch (spec.md §4.1's batch invariant).
type Batch struct {
	LedgerSeq uint64
	Init      []ledger.Entry
	Live      []ledger.Entry
	Dead      []ledger.Key
}

// Validate checks the batch invariant ahead of handing it to the bucket
// list, so a malformed batch from the ledger-close collaborator fails at
// the boundary rather than deep inside a merge.
func (b Batch) Validate() error {
	seen := mapset.NewThreadUnsafeSet()
	check := func(k ledger.Key, list string) error {
		enc := string(k.Encode())
		if seen.Contains(enc) {
			return fmt.Errorf("txbatch: key %s appears more than once in ledger %d's batch (last seen in %s)", k.String(), b.LedgerSeq, list)
		}
		seen.Add(enc)
		return nil
	}
	for _, e := range b.Init {
		if err := check(e.Key, "init"); err != nil {
			return err
		}
	}
	for _, e := range b.Live {
		if err := check(e.Key, "live"); err != nil {
			return err
		}
	}
	for _, k := range b.Dead {
		if err := check(k, "dead"); err != nil {
			return err
		}
	}
	return nil
}
