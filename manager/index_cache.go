package manager

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/ledger"
)

// indexCacheSize bounds how many buckets' ordinal indexes are held at
// once; each entry costs one full scan of its bucket the first time it is
// looked up.
const indexCacheSize = 256

// indexCache is a bounded LRU over bucket.Index, used so repeated point
// lookups against the same bucket (e.g. a CLI session polling the same
// hot key) don't rebuild the index every call.
type indexCache struct {
	lru *lru.Cache
}

func newIndexCache() *indexCache {
	c, _ := lru.New(indexCacheSize) // only errors on a non-positive size
	return &indexCache{lru: c}
}

func (c *indexCache) get(h common.Hash) (*bucket.Index, bool) {
	v, ok := c.lru.Get(h)
	if !ok {
		return nil, false
	}
	return v.(*bucket.Index), true
}

func (c *indexCache) put(h common.Hash, idx *bucket.Index) {
	c.lru.Add(h, idx)
}

// Lookup finds key's position within bucket hash h, building (and
// caching) h's ordinal index on first use.
func (m *BucketManager) Lookup(h common.Hash, key ledger.Key) (offset int, found bool, err error) {
	if idx, ok := m.indexCache.get(h); ok {
		offset, found = idx.Lookup(key)
		return offset, found, nil
	}
	b, err := m.resolve(h)
	if err != nil {
		return 0, false, err
	}
	idx, err := b.BuildIndex()
	if err != nil {
		return 0, false, err
	}
	m.indexCache.put(h, idx)
	offset, found = idx.Lookup(key)
	return offset, found, nil
}
