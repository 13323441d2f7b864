// Package bucket implements the bucket list's leaf unit: an immutable,
// content-hash-identified, sorted file of BucketEntry records (spec.md §4.1).
package bucket

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/log"
	"github.com/ledgerwatch/bucketstore/protocol"
)

// Bucket is an immutable, content-addressed sorted file of BucketEntry
// records. The zero value (ZeroHash, no path) is the well-known empty
// bucket h0 and has no backing file.
type Bucket struct {
	hash  common.Hash
	dir   string
	count int // number of non-META records, informational only
}

// Empty is the well-known empty bucket h0.
var Empty = &Bucket{hash: common.ZeroHash}

// Hash returns the bucket's content hash.
func (b *Bucket) Hash() common.Hash { return b.hash }

// IsEmpty reports whether b is the well-known empty bucket.
func (b *Bucket) IsEmpty() bool { return b.hash.IsZero() }

// Count returns the number of non-META records, if known (-1 for a bucket
// returned by Open whose records have not been counted by Verify).
func (b *Bucket) Count() int { return b.count }

// Filename returns the bucket-<hex>.xdr basename for b.
func (b *Bucket) Filename() string { return filename(b.hash) }

// Path returns the full on-disk path, or "" for the empty bucket.
func (b *Bucket) Path() string {
	if b.IsEmpty() {
		return ""
	}
	return filepath.Join(b.dir, b.Filename())
}

func filename(h common.Hash) string {
	return fmt.Sprintf("bucket-%s.xdr", h.Hex())
}

// Fresh builds a new bucket from a ledger-close batch: the union of init,
// live and dead records, sorted ascending by key with a META record first
// iff protocol supports it. It rejects a key that appears in more than one
// of the three lists with ErrBatchInvariantViolated, and rejects non-empty
// init under a protocol that does not support INIT with ErrProtocolViolation.
func Fresh(dir string, proto protocol.Version, init, live []ledger.Entry, dead []ledger.Key) (*Bucket, error) {
	if len(init) > 0 && !protocol.SupportsInitEntryAndMetaEntry(proto) {
		return nil, fmt.Errorf("%w: INIT entries at protocol %d", ErrProtocolViolation, proto)
	}
	if err := checkBatchDisjoint(init, live, dead); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(init)+len(live)+len(dead)+1)
	if protocol.SupportsInitEntryAndMetaEntry(proto) {
		entries = append(entries, Entry{Kind: KindMeta, FormatVersion: uint32(proto)})
	}
	for _, e := range init {
		ce := e.Clone()
		entries = append(entries, Entry{Kind: KindInit, Key: ce.Key, Live: &ce})
	}
	for _, e := range live {
		ce := e.Clone()
		entries = append(entries, Entry{Kind: KindLive, Key: ce.Key, Live: &ce})
	}
	for _, k := range dead {
		entries = append(entries, Entry{Kind: KindDead, Key: ledger.Key{Type: k.Type, ID: append([]byte(nil), k.ID...)}})
	}

	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })

	nonMeta := len(init) + len(live) + len(dead)
	if nonMeta == 0 && len(entries) == 0 {
		return Empty, nil
	}

	return writeEntries(dir, entries, nonMeta)
}

// checkBatchDisjoint verifies that no key appears in more than one of the
// batch's three lists, using set intersection rather than a single combined
// map so the violating pair can be named in the error.
func checkBatchDisjoint(init, live []ledger.Entry, dead []ledger.Key) error {
	keysInit := keySet(entryKeys(init))
	keysLive := keySet(entryKeys(live))
	keysDead := keySet(dead)

	pairs := []struct {
		a, b         mapset.Set
		name1, name2 string
	}{
		{keysInit, keysLive, "init", "live"},
		{keysInit, keysDead, "init", "dead"},
		{keysLive, keysDead, "live", "dead"},
	}
	for _, p := range pairs {
		if overlap := p.a.Intersect(p.b); overlap.Cardinality() > 0 {
			return fmt.Errorf("%w: key present in both %s and %s", ErrBatchInvariantViolated, p.name1, p.name2)
		}
	}
	return nil
}

func entryKeys(entries []ledger.Entry) []ledger.Key {
	keys := make([]ledger.Key, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func keySet(keys []ledger.Key) mapset.Set {
	s := mapset.NewThreadUnsafeSet()
	for _, k := range keys {
		if s.Contains(string(k.Encode())) {
			continue
		}
		s.Add(string(k.Encode()))
	}
	return s
}

// writeEntries encodes entries to their canonical byte stream, hashes it,
// and atomically publishes the compressed bucket file.
func writeEntries(dir string, entries []Entry, count int) (*Bucket, error) {
	var raw bytes.Buffer
	for _, e := range entries {
		if err := EncodeEntry(&raw, e); err != nil {
			return nil, err
		}
	}
	h := common.SumSHA3(raw.Bytes())
	if err := publish(dir, h, raw.Bytes()); err != nil {
		return nil, err
	}
	return &Bucket{hash: h, dir: dir, count: count}, nil
}

// Open returns a handle to the bucket already on disk at dir with hash h,
// verifying it is present; it does not read or decompress the file.
func Open(dir string, h common.Hash) (*Bucket, error) {
	if h.IsZero() {
		return Empty, nil
	}
	p := filepath.Join(dir, filename(h))
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s missing", ErrBucketCorrupt, p)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIoError, p, err)
	}
	return &Bucket{hash: h, dir: dir, count: -1}, nil
}

// Verify rereads the bucket file, recomputes its content hash over the
// decoded canonical stream, and confirms it matches b.Hash(). It also
// records the accurate record count.
func (b *Bucket) Verify() error {
	if b.IsEmpty() {
		return nil
	}
	it, err := b.OpenInputIterator()
	if err != nil {
		return err
	}
	defer it.Close()

	var raw bytes.Buffer
	count := 0
	for it.Next() {
		e := it.Entry()
		if err := EncodeEntry(&raw, e); err != nil {
			return err
		}
		if e.Kind != KindMeta {
			count++
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	h := common.SumSHA3(raw.Bytes())
	if h != b.hash {
		return fmt.Errorf("%w: %s rehashes to %s", ErrBucketCorrupt, b.hash.Hex(), h.Hex())
	}
	b.count = count
	return nil
}

// Adopt hashes an externally-produced canonical record stream (e.g. the
// merge engine's finished output) and publishes it into dir under its
// content-hash name, interning-ready. Unlike writeEntries it takes the
// already-encoded byte stream directly, avoiding a decode/re-encode
// round trip for data the caller just finished writing.
func Adopt(dir string, rawCanonical []byte, count int) (*Bucket, error) {
	h := common.SumSHA3(rawCanonical)
	if err := publish(dir, h, rawCanonical); err != nil {
		return nil, err
	}
	log.Debug("adopted bucket", "hash", h.Hex(), "entries", count)
	return &Bucket{hash: h, dir: dir, count: count}, nil
}
