package bucket

import (
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/petar/GoLLRB/llrb"
)

// Index is the optional in-memory key lookup structure mentioned in
// spec.md §3 ("optional in-memory index (not required for correctness)").
// OpenInputIterator never depends on it; it exists purely to speed up
// ad-hoc key lookups (e.g. from a debug CLI) without a second disk read.
type Index struct {
	tree *llrb.LLRB
}

type indexItem struct {
	key    []byte
	offset int
}

func (a indexItem) Less(b llrb.Item) bool {
	return string(a.key) < string(b.(indexItem).key)
}

// BuildIndex scans b once and returns an Index mapping each non-META key
// to its ordinal position among non-META records.
func (b *Bucket) BuildIndex() (*Index, error) {
	it, err := b.OpenInputIterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	tree := llrb.New()
	pos := 0
	for it.Next() {
		e := it.Entry()
		if e.Kind == KindMeta {
			continue
		}
		tree.ReplaceOrInsert(indexItem{key: e.Key.Encode(), offset: pos})
		pos++
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return &Index{tree: tree}, nil
}

// Lookup reports the ordinal position of key among b's non-META records,
// if present.
func (idx *Index) Lookup(key ledger.Key) (offset int, ok bool) {
	item := idx.tree.Get(indexItem{key: key.Encode()})
	if item == nil {
		return 0, false
	}
	return item.(indexItem).offset, true
}

// Len returns the number of keys in the index.
func (idx *Index) Len() int { return idx.tree.Len() }
