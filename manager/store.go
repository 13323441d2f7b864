package manager

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/ledgerwatch/bucketstore/archive"
	"github.com/ledgerwatch/bucketstore/log"
)

// Bucket names for the embedded archive-state database. The registry and
// sortBuckets/reinit pattern follow the table-name convention the ledger
// storage layer used for its LMDB tables, adapted here to bbolt's
// byte-slice bucket identifiers.
var (
	tableArchiveState = []byte("ArchiveState") // key "current" -> marshaled archive.HistoryArchiveState
	tableRefCounts    = []byte("BucketRefCounts") // key bucket hash hex -> big-endian uint32 refcount
	tableLedgerHeads  = []byte("LedgerHeads")      // key big-endian uint64 ledger seq -> bucket list hash
)

var tables = [][]byte{tableArchiveState, tableRefCounts, tableLedgerHeads}

func init() {
	sort.Slice(tables, func(i, j int) bool {
		return strings.Compare(string(tables[i]), string(tables[j])) < 0
	})
}

const archiveStateKey = "current"

// Store is the embedded persistence layer backing a BucketManager: the
// published archive state document, the reference-count table the garbage
// collector decrements when it frees a bucket, and the ledger-sequence to
// bucket-list-hash index.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the bbolt database at dir/archive.db
// and ensures every table exists.
func OpenStore(dir string) (*Store, error) {
	path := filepath.Join(dir, "archive.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("manager: opening archive store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, t := range tables {
			if _, err := tx.CreateBucketIfNotExists(t); err != nil {
				return fmt.Errorf("manager: creating table %s: %w", t, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("opened archive store", "path", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// PutArchiveState persists has as the current checkpoint.
func (s *Store) PutArchiveState(has archive.HistoryArchiveState) error {
	data, err := archive.Marshal(has)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tableArchiveState).Put([]byte(archiveStateKey), data)
	})
}

// LoadArchiveState reads the last persisted checkpoint, returning
// (HistoryArchiveState{}, false, nil) if none has ever been written.
func (s *Store) LoadArchiveState() (archive.HistoryArchiveState, bool, error) {
	var has archive.HistoryArchiveState
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(tableArchiveState).Get([]byte(archiveStateKey))
		if data == nil {
			return nil
		}
		var err error
		has, err = archive.Unmarshal(data)
		found = err == nil
		return err
	})
	if err != nil {
		return archive.HistoryArchiveState{}, false, err
	}
	return has, found, nil
}

// IncRef increments bucket h's reference count and returns the new value.
func (s *Store) IncRef(h string) (uint32, error) {
	var n uint32
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableRefCounts)
		n = decodeRefCount(b.Get([]byte(h))) + 1
		return b.Put([]byte(h), encodeRefCount(n))
	})
	return n, err
}

// DecRef decrements bucket h's reference count and returns the new value;
// it never goes below zero.
func (s *Store) DecRef(h string) (uint32, error) {
	var n uint32
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableRefCounts)
		cur := decodeRefCount(b.Get([]byte(h)))
		if cur > 0 {
			cur--
		}
		n = cur
		if n == 0 {
			return b.Delete([]byte(h))
		}
		return b.Put([]byte(h), encodeRefCount(n))
	})
	return n, err
}

// RefCount returns bucket h's current reference count.
func (s *Store) RefCount(h string) (uint32, error) {
	var n uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		n = decodeRefCount(tx.Bucket(tableRefCounts).Get([]byte(h)))
		return nil
	})
	return n, err
}

// AllReferencedHashes returns every bucket hash with a non-zero refcount.
// The GC's mark phase does not read it; it marks from the in-memory bucket
// list instead.
func (s *Store) AllReferencedHashes() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tableRefCounts).ForEach(func(k, v []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// PutLedgerHead records the bucket list hash produced by closing ledger
// seq, so a caller can later confirm replaying a ledger reproduces the
// same hash (spec.md §8's determinism property).
func (s *Store) PutLedgerHead(seq uint64, hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tableLedgerHeads).Put(encodeSeq(seq), []byte(hash))
	})
}

// LedgerHead returns the bucket list hash recorded for ledger seq, if any.
func (s *Store) LedgerHead(seq uint64) (string, bool, error) {
	var hash string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tableLedgerHeads).Get(encodeSeq(seq))
		if v != nil {
			hash = string(v)
			found = true
		}
		return nil
	})
	return hash, found, err
}

func encodeSeq(n uint64) []byte {
	return []byte{byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32), byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func encodeRefCount(n uint32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func decodeRefCount(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
