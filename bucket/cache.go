package bucket

import (
	"github.com/VictoriaMetrics/fastcache"
)

// dataCache is an optional read-through byte cache for decompressed
// bucket contents, avoiding repeated zstd decompression of hot buckets
// (shadow buckets in particular are reopened by every merge a level
// participates in). Disabled (nil) until EnableCache is called.
var dataCache *fastcache.Cache

// EnableCache turns on the decompressed-bytes cache with the given
// capacity in bytes. Call once during startup; it is not safe to call
// concurrently with bucket reads.
func EnableCache(maxBytes int) {
	dataCache = fastcache.New(maxBytes)
}

func cacheGet(h [32]byte) ([]byte, bool) {
	if dataCache == nil {
		return nil, false
	}
	v, ok := dataCache.HasGet(nil, h[:])
	return v, ok
}

func cacheSet(h [32]byte, data []byte) {
	if dataCache == nil {
		return
	}
	dataCache.Set(h[:], data)
}
