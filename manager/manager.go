// Package manager implements the BucketManager: the interning cache,
// reference-counted garbage collector, worker pool, and ledger-close
// adapter that own a BucketList end to end (spec.md §4.5).
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/aristanetworks/goarista/monotime"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ledgerwatch/bucketstore/archive"
	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/bucketlist"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/common/debug"
	"github.com/ledgerwatch/bucketstore/log"
	"github.com/ledgerwatch/bucketstore/metrics"
	"github.com/ledgerwatch/bucketstore/protocol"
	"github.com/ledgerwatch/bucketstore/txbatch"
)

// Config parameterizes a BucketManager, filled in from the config package
// (pflag/cobra-bound in the CLI).
type Config struct {
	Dir           string
	WorkerCount   int
	GCMinInterval time.Duration
}

// BucketManager owns the on-disk bucket directory, the hash -> bucket
// interning cache, reference-counted garbage collection, a bounded worker
// pool for merge jobs, the running skip list, and the persisted archive
// state (spec.md §4.5, §6).
type BucketManager struct {
	cfg   Config
	store *Store

	mu     sync.Mutex
	cache  map[common.Hash]*bucket.Bucket
	ids    map[common.Hash]uint32 // interned hash -> roaring-bitmap ID, for GC marking
	byID   map[uint32]common.Hash
	nextID uint32

	bl         *bucketlist.BucketList
	skip       SkipList
	indexCache *indexCache
	lock       *dirLock

	group   *errgroup.Group
	sem     chan struct{} // bounds concurrent merge jobs to cfg.WorkerCount
	limiter *rate.Limiter

	gcRunsCounter   *metrics.Counter
	gcFreedCounter  *metrics.Counter
	gcDurationTimer *metrics.Timer
}

// Open opens or creates the bucket manager rooted at cfg.Dir: the archive
// store, the bucket list (restored from the last checkpoint if any), and
// the worker pool backing merges. ctx is the parent of the worker pool's
// errgroup; merge jobs do not observe its cancellation.
func Open(ctx context.Context, cfg Config) (*BucketManager, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if debug.ForceSingleWorker() {
		cfg.WorkerCount = 1
	}
	if cfg.GCMinInterval <= 0 {
		cfg.GCMinInterval = 5 * time.Minute
	}
	bucket.EnableCache(64 * 1024 * 1024)
	lock, err := lockDir(cfg.Dir)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg.Dir)
	if err != nil {
		lock.unlock()
		return nil, err
	}

	m := &BucketManager{
		cfg:             cfg,
		store:           store,
		lock:            lock,
		cache:           make(map[common.Hash]*bucket.Bucket),
		ids:             make(map[common.Hash]uint32),
		byID:            make(map[uint32]common.Hash),
		limiter:         rate.NewLimiter(rate.Every(cfg.GCMinInterval), 1),
		gcRunsCounter:   metrics.NewRegisteredCounter("manager/gcRuns", nil),
		gcFreedCounter:  metrics.NewRegisteredCounter("manager/gcFreed", nil),
		gcDurationTimer: metrics.NewRegisteredTimer("manager/gcDuration", nil),
		indexCache:      newIndexCache(),
	}
	group, _ := errgroup.WithContext(ctx)
	m.group = group
	m.sem = make(chan struct{}, cfg.WorkerCount)

	has, found, err := store.LoadArchiveState()
	if err != nil {
		return nil, err
	}
	if found {
		bl, err := archive.Restore(has, cfg.Dir, m.resolve, m.submit)
		if err != nil {
			return nil, fmt.Errorf("manager: restoring archive state: %w", err)
		}
		if err := bl.RestartInFlight(); err != nil {
			return nil, err
		}
		m.bl = bl
		log.Info("restored bucket list from archive state", "ledger", bl.LastLedger())
	} else {
		m.bl = bucketlist.New(cfg.Dir, m.resolve, m.submit)
	}
	return m, nil
}

// resolve is the bucketlist.Resolver: it looks up (and interns) a bucket
// handle by content hash, opening it from disk if not already cached.
func (m *BucketManager) resolve(h common.Hash) (*bucket.Bucket, error) {
	if h.IsZero() {
		return bucket.Empty, nil
	}
	m.mu.Lock()
	if b, ok := m.cache[h]; ok {
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	b, err := bucket.Open(m.cfg.Dir, h)
	if err != nil {
		return nil, err
	}
	m.intern(b)
	return b, nil
}

// intern registers b in the cache and assigns it a GC bitmap ID if it
// doesn't have one yet.
func (m *BucketManager) intern(b *bucket.Bucket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.internLocked(b)
}

// submit is the bucketlist.Submitter: it dispatches a merge job to the
// bounded worker pool via errgroup. A worker failure is neither logged nor
// returned here — the FutureBucket.Resolve caller surfaces the error
// through the oneShot channel instead.
func (m *BucketManager) submit(job func()) {
	m.group.Go(func() error {
		m.sem <- struct{}{}
		defer func() { <-m.sem }()
		job()
		return nil
	})
}

// AddLedger applies one ledger-close batch to the bucket list: validates
// it, runs BucketList.AddBatch, advances the skip list, interns the
// resulting curr/snap buckets for GC purposes, and returns the new ledger
// header fields (spec.md §4.4's ledger-close integration).
func (m *BucketManager) AddLedger(b txbatch.Batch, proto protocol.Version) (common.Hash, SkipList, error) {
	if err := b.Validate(); err != nil {
		return common.Hash{}, SkipList{}, err
	}
	blHash, err := m.bl.AddBatch(b.LedgerSeq, proto, b.Init, b.Live, b.Dead)
	if err != nil {
		return common.Hash{}, SkipList{}, err
	}

	m.mu.Lock()
	for _, lvl := range m.bl.Levels {
		m.internLocked(lvl.Curr)
		m.internLocked(lvl.Snap)
	}
	m.mu.Unlock()

	m.skip = m.skip.Advance(b.LedgerSeq, blHash)

	if err := m.store.PutLedgerHead(b.LedgerSeq, blHash.Hex()); err != nil {
		return common.Hash{}, SkipList{}, err
	}
	if err := m.store.PutArchiveState(archive.Snapshot(m.bl, proto)); err != nil {
		return common.Hash{}, SkipList{}, err
	}
	return blHash, m.skip, nil
}

// internLocked is intern's body for a caller already holding m.mu. The
// first time a hash is interned it is also recorded in the persisted
// refcount table, so AllReferencedHashes reflects every bucket this
// process has ever opened even across the in-memory id map being rebuilt
// on restart.
func (m *BucketManager) internLocked(b *bucket.Bucket) {
	if b == nil {
		return
	}
	h := b.Hash()
	if h.IsZero() {
		return
	}
	m.cache[h] = b
	if _, ok := m.ids[h]; !ok {
		id := m.nextID
		m.nextID++
		m.ids[h] = id
		m.byID[id] = h
		if _, err := m.store.IncRef(h.Hex()); err != nil {
			log.Warn("failed to persist bucket refcount", "hash", h.Hex(), "err", err)
		}
	}
}

// Wait blocks until every in-flight merge job has finished, returning the
// first worker error, if any. Callers shut down with this rather than
// cancelling the worker pool's context, since an aborted merge would
// leave a level's Next future stuck mid-run.
func (m *BucketManager) Wait() error {
	return m.group.Wait()
}

// Close closes the embedded store and releases the data directory lock.
// It writes nothing itself: the archive state on disk is the one the last
// AddLedger persisted.
func (m *BucketManager) Close() error {
	if err := m.store.Close(); err != nil {
		m.lock.unlock()
		return err
	}
	return m.lock.unlock()
}

// BucketList returns the manager's underlying bucket list, mainly for
// inspection tooling (the CLI's inspect/graph commands).
func (m *BucketManager) BucketList() *bucketlist.BucketList { return m.bl }

// ReferencedHashes returns every bucket hash this process has ever
// interned and not yet swept, per the persisted refcount table.
func (m *BucketManager) ReferencedHashes() ([]string, error) {
	return m.store.AllReferencedHashes()
}

// markReachable builds the GC root set: every bucket currently referenced
// by a level's curr or snap slot, or by a running/pending merge's inputs.
func (m *BucketManager) markReachable() *roaring.Bitmap {
	reachable := roaring.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	mark := func(b *bucket.Bucket) {
		if b == nil || b.IsEmpty() {
			return
		}
		if id, ok := m.ids[b.Hash()]; ok {
			reachable.Add(id)
		}
	}
	for i := range m.bl.Levels {
		lvl := m.bl.Levels[i]
		mark(lvl.Curr)
		mark(lvl.Snap)
		if recipe, ok := lvl.Next.MarshalRecipe(); ok {
			if b, ok := m.cache[recipe.OldHash]; ok {
				mark(b)
			}
			if b, ok := m.cache[recipe.NewHash]; ok {
				mark(b)
			}
			for _, sh := range recipe.ShadowHashes {
				if b, ok := m.cache[sh]; ok {
					mark(b)
				}
			}
		}
	}
	return reachable
}

// Sweep runs one mark-sweep garbage collection pass: anything interned
// but not reachable from the current bucket list state is removed from
// disk and from the interning cache. It is throttled to at most once per
// cfg.GCMinInterval via the rate limiter; a call inside the cooldown
// window is a silent no-op, matching the teacher's "just skip if too
// soon" throttling idiom.
func (m *BucketManager) Sweep() (freed int, err error) {
	if !m.limiter.Allow() {
		return 0, nil
	}
	start := monotime.Now()
	defer func() { m.gcDurationTimer.Update(monotime.Since(start)) }()
	m.gcRunsCounter.Inc(1)

	reachable := m.markReachable()

	m.mu.Lock()
	var toFree []*bucket.Bucket
	for h, id := range m.ids {
		if reachable.Contains(id) {
			continue
		}
		toFree = append(toFree, m.cache[h])
		delete(m.cache, h)
		delete(m.ids, h)
		delete(m.byID, id)
	}
	m.mu.Unlock()

	for _, b := range toFree {
		if err := b.Remove(); err != nil {
			log.Warn("gc: failed to remove unreachable bucket", "hash", b.Hash().Hex(), "err", err)
			continue
		}
		if _, err := m.store.DecRef(b.Hash().Hex()); err != nil {
			log.Warn("gc: failed to clear persisted refcount", "hash", b.Hash().Hex(), "err", err)
		}
		freed++
	}
	if freed > 0 {
		m.gcFreedCounter.Inc(int64(freed))
		log.Info("gc swept unreachable buckets", "freed", freed)
	}
	return freed, nil
}

// UpgradeProtocol gates a protocol version bump to one that supports
// INIT/META records: no level's Next merge may still be executing on a
// worker, mirroring the teacher's migrations.Migrator precondition-then-apply
// pattern. It does not inspect Curr or Snap contents. It returns an error
// naming the offending level rather than bumping the version out from
// under an in-flight merge.
func (m *BucketManager) UpgradeProtocol(newProto protocol.Version) error {
	if protocol.SupportsInitEntryAndMetaEntry(newProto) {
		for i := range m.bl.Levels {
			if m.bl.Levels[i].Next.IsMerging() {
				return fmt.Errorf("manager: cannot upgrade protocol while level %d has a merge in flight", i)
			}
		}
	}
	return nil
}
