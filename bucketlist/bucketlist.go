// Package bucketlist implements the eleven-level bucket list cascade of
// spec.md §3-§4.4: per-level curr/snap slots, asynchronously computed next
// (future) buckets, the spill/snap/prepare schedule, and the composite
// bucket list hash.
package bucketlist

import (
	"fmt"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/bucketlevel"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/futurebucket"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/merge"
	"github.com/ledgerwatch/bucketstore/protocol"
)

// Resolver looks a bucket up by content hash, e.g. the BucketManager's
// interning cache (get_bucket_by_hash in spec.md §4.5).
type Resolver func(h common.Hash) (*bucket.Bucket, error)

// Submitter dispatches a merge job to the worker pool; BucketList never
// runs a merge synchronously on the caller's goroutine.
type Submitter func(job func())

// BucketList is the ordered array of NumLevels levels described in
// spec.md §3.
type BucketList struct {
	Levels    [bucketlevel.NumLevels]*bucketlevel.Level
	dir       string
	resolve   Resolver
	submit    Submitter
	lastSeq   uint64
	Counters  merge.Counters
}

// New returns an empty BucketList rooted at dir, using resolve to look up
// bucket handles by hash and submit to dispatch merge work.
func New(dir string, resolve Resolver, submit Submitter) *BucketList {
	bl := &BucketList{dir: dir, resolve: resolve, submit: submit}
	for i := range bl.Levels {
		bl.Levels[i] = bucketlevel.NewLevel()
	}
	return bl
}

// LastLedger returns the sequence number of the last ledger applied.
func (bl *BucketList) LastLedger() uint64 { return bl.lastSeq }

// SetLastLedger seeds the last-applied ledger sequence, used when
// reconstructing a BucketList from persisted archive state.
func (bl *BucketList) SetLastLedger(n uint64) { bl.lastSeq = n }

// Hash computes BL.hash = H(curr_0 || snap_0 || curr_1 || snap_1 || ... ||
// curr_10 || snap_10), per spec.md §3.
func (bl *BucketList) Hash() common.Hash {
	chunks := make([][]byte, 0, 2*bucketlevel.NumLevels)
	for _, lvl := range bl.Levels {
		ch := lvl.CurrHash()
		sh := lvl.SnapHash()
		chunks = append(chunks, ch[:], sh[:])
	}
	return common.SumSHA3(chunks...)
}

// AddBatch forms the incoming bucket from (init, live, dead), promotes it
// into level 0, evaluates every level's snap/spill schedule for ledger N,
// and returns the new bucket list hash (spec.md §4.4). It blocks exactly
// at a snap that requires resolving a running next_i (spec.md §5).
func (bl *BucketList) AddBatch(n uint64, proto protocol.Version, init, live []ledger.Entry, dead []ledger.Key) (common.Hash, error) {
	if n != bl.lastSeq+1 && bl.lastSeq != 0 {
		return common.Hash{}, fmt.Errorf("bucketlist: AddBatch(%d) out of order after last closed %d", n, bl.lastSeq)
	}

	incoming, err := bucket.Fresh(bl.dir, proto, init, live, dead)
	if err != nil {
		return common.Hash{}, err
	}

	for i := 0; i < bucketlevel.NumLevels-1; i++ {
		lvl := bl.Levels[i]
		if bucketlevel.Snaps(i, n) {
			if lvl.Next.State() == futurebucket.StateRunning || lvl.Next.State() == futurebucket.StateInputsOnly {
				out, counters, err := lvl.Next.Resolve()
				if err != nil {
					return common.Hash{}, fmt.Errorf("bucketlist: resolving level %d spill: %w", i, err)
				}
				bl.Levels[i+1].Curr = out
				bl.Counters.Add(counters)
			}
			lvl.Snap = lvl.Curr
		}
		if bucketlevel.Spills(i, n) {
			shadows := bl.shadowsAbove(i)
			shadowHashes := make([]common.Hash, len(shadows))
			for j, s := range shadows {
				shadowHashes[j] = s.Hash()
			}
			recipe := futurebucket.Recipe{
				OldHash:      bl.Levels[i+1].Curr.Hash(),
				NewHash:      lvl.Snap.Hash(),
				ShadowHashes: shadowHashes,
				Protocol:     proto,
				IsBottomTier: i+1 == bucketlevel.NumLevels-1,
			}
			if err := lvl.Next.Start(recipe, bl.resolve, bl.dir, bl.submit); err != nil {
				return common.Hash{}, fmt.Errorf("bucketlist: starting level %d spill: %w", i, err)
			}
		}
	}

	bl.Levels[0].Curr = incoming
	bl.lastSeq = n
	return bl.Hash(), nil
}

// shadowsAbove returns curr_{i+2..NumLevels-1}, deepest first, the shadow
// set for a merge preparing level i+1.
func (bl *BucketList) shadowsAbove(i int) []*bucket.Bucket {
	var shadows []*bucket.Bucket
	for j := bucketlevel.NumLevels - 1; j >= i+2; j-- {
		shadows = append(shadows, bl.Levels[j].Curr)
	}
	return shadows
}

// RestartInFlight relaunches every level's Next future that persisted in
// the InputsOnly state (i.e. a merge that was running when the process
// last stopped), per spec.md §5's restart protocol: "the next startup
// reconstructs them from the persisted archive state (input-only form)
// and restarts them." Resolve() refuses to block on an InputsOnly future,
// so this must run once, eagerly, before any further AddBatch call.
func (bl *BucketList) RestartInFlight() error {
	for i, lvl := range bl.Levels {
		if lvl.Next.State() != futurebucket.StateInputsOnly {
			continue
		}
		recipe, ok := lvl.Next.MarshalRecipe()
		if !ok {
			continue
		}
		if err := lvl.Next.Start(recipe, bl.resolve, bl.dir, bl.submit); err != nil {
			return fmt.Errorf("bucketlist: restarting level %d merge: %w", i, err)
		}
	}
	return nil
}
