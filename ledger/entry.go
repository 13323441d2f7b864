// Package ledger defines the entry/key shapes the ledger-txn collaborator
// hands to the bucket list at each ledger close (spec.md §6). The exact
// schema is this collaborator's contract, not the core's concern; it is
// kept intentionally small and generic so the merge engine and bucket
// list can be exercised end to end without modeling the full ledger-entry
// universe.
package ledger

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
)

// Type enumerates the ledger entry kinds carried by a bucket entry's
// payload. The five names mirror the principal entry types a replicated
// ledger of this shape supports.
type Type uint8

const (
	TypeAccount Type = iota
	TypeTrustline
	TypeOffer
	TypeData
	TypeClaimableBalance
)

func (t Type) String() string {
	switch t {
	case TypeAccount:
		return "Account"
	case TypeTrustline:
		return "Trustline"
	case TypeOffer:
		return "Offer"
	case TypeData:
		return "Data"
	case TypeClaimableBalance:
		return "ClaimableBalance"
	default:
		return "Unknown"
	}
}

// Key identifies a ledger entry independent of its value. Keys sort
// lexicographically on their encoded bytes, which is the ordering the
// bucket format requires.
type Key struct {
	Type Type
	ID   []byte
}

// Encode returns the canonical, comparable byte encoding of k.
func (k Key) Encode() []byte {
	b := make([]byte, 0, 1+len(k.ID))
	b = append(b, byte(k.Type))
	b = append(b, k.ID...)
	return b
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k.Encode(), other.Encode()) < 0
}

// Equal reports key equality.
func (k Key) Equal(other Key) bool {
	return k.Type == other.Type && bytes.Equal(k.ID, other.ID)
}

// String returns a human-readable form for logging and error messages.
func (k Key) String() string {
	return fmt.Sprintf("%s:%x", k.Type, k.ID)
}

// Entry is the authoritative value of a live ledger entry. Body carries the
// type-specific payload; for the balance-bearing types (Trustline,
// ClaimableBalance) Balance holds the numeric amount as a uint256, wide
// enough for the asset-unit arithmetic these entries use in practice.
type Entry struct {
	Key                Key
	LastModifiedLedger uint32
	Balance            *uint256.Int
	Body               []byte
}

// Clone deep-copies e so a bucket entry never aliases caller-owned memory.
func (e Entry) Clone() Entry {
	out := Entry{
		Key:                Key{Type: e.Key.Type, ID: append([]byte(nil), e.Key.ID...)},
		LastModifiedLedger: e.LastModifiedLedger,
		Body:               append([]byte(nil), e.Body...),
	}
	if e.Balance != nil {
		out.Balance = new(uint256.Int).Set(e.Balance)
	}
	return out
}
