package bucket

import (
	"github.com/ledgerwatch/bucketstore/ledger"
)

// Kind tags a bucket entry. META must sort first and appears at most once
// per bucket; INIT/LIVE/DEAD sort by key, ascending, with at most one
// non-META record per key in any one bucket (spec.md §3).
type Kind uint8

const (
	KindMeta Kind = iota
	KindInit
	KindLive
	KindDead
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "META"
	case KindInit:
		return "INIT"
	case KindLive:
		return "LIVE"
	case KindDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Entry is a single BucketEntry record. For KindMeta, Key is the zero
// value and only FormatVersion is meaningful. For KindInit/KindLive, Live
// carries the authoritative ledger.Entry. For KindDead, only Key is set.
type Entry struct {
	Kind          Kind
	Key           ledger.Key
	Live          *ledger.Entry
	FormatVersion uint32 // meaningful only for KindMeta
}

// Less implements the bucket's total order: META first, then ascending by
// key. It is an error (checked elsewhere) for two non-META entries with
// equal keys to both appear in one bucket.
func Less(a, b Entry) bool {
	if a.Kind == KindMeta {
		return b.Kind != KindMeta
	}
	if b.Kind == KindMeta {
		return false
	}
	return a.Key.Less(b.Key)
}

// Clone deep-copies e.
func (e Entry) Clone() Entry {
	out := Entry{Kind: e.Kind, Key: ledger.Key{Type: e.Key.Type, ID: append([]byte(nil), e.Key.ID...)}, FormatVersion: e.FormatVersion}
	if e.Live != nil {
		live := e.Live.Clone()
		out.Live = &live
	}
	return out
}
