package manager

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cespare/cp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/protocol"
	"github.com/ledgerwatch/bucketstore/txbatch"
)

func tmpDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bucketstore-manager-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// openTestManager opens a manager and arranges for it to be closed at test
// end. Tests that close and reopen a manager themselves (the restart
// scenarios) call Open directly instead, so cleanup never double-closes.
func openTestManager(t *testing.T, dir string) *BucketManager {
	t.Helper()
	m, err := Open(context.Background(), Config{Dir: dir, WorkerCount: 2, GCMinInterval: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func openManager(t *testing.T, dir string) *BucketManager {
	t.Helper()
	m, err := Open(context.Background(), Config{Dir: dir, WorkerCount: 2, GCMinInterval: time.Millisecond})
	require.NoError(t, err)
	return m
}

func batch(seq uint64, id byte) txbatch.Batch {
	return txbatch.Batch{
		LedgerSeq: seq,
		Live: []ledger.Entry{{
			Key:                ledger.Key{Type: ledger.TypeAccount, ID: []byte{id}},
			LastModifiedLedger: uint32(seq),
			Balance:            uint256.NewInt(uint64(id)),
		}},
	}
}

// S1: the skip list advances as the literal per-ledger recurrence of
// spec.md §4.5, not the worked numerical example — see the "skip list"
// entry in the project's design notes for why. The worked example isn't
// internally reproducible from the prose recurrence (e.g. it has slot[1]
// changing at ledger 5050, which isn't a multiple of SKIP_2), so these
// tests assert the recurrence spec.md §4.5 actually defines.
func TestS1SkipListAdvancesPerLedgerRecurrence(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	var sk SkipList
	var lastHash common.Hash
	for seq := uint64(1); seq <= Skip1; seq++ {
		h, newSk, err := m.AddLedger(batch(seq, byte(seq%250)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
		sk = newSk
		lastHash = h
	}
	assert.Equal(t, lastHash, sk[0], "slot 0 updates to BL_n exactly when n mod SKIP_1 == 0")
	assert.Equal(t, common.Hash{}, sk[1], "slot 1 is untouched before ledger SKIP_2")
}

func TestS1SkipListSlotOneInheritsPreUpdateSlotZero(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	var sk SkipList
	for seq := uint64(1); seq < Skip2; seq++ {
		_, newSk, err := m.AddLedger(batch(seq, byte(seq%250)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
		sk = newSk
	}
	preUpdateSlot0 := sk[0]

	_, sk, err := m.AddLedger(batch(Skip2, 1), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
	require.NoError(t, err)
	assert.Equal(t, preUpdateSlot0, sk[1], "slot 1 must capture slot 0's value as of ledger n-1, not the freshly updated BL_n")
}

// S2: garbage collection must own (and eventually free) buckets that
// fall off the bucket list's reachable set as new ledgers spill levels.
func TestS2GCForgetsUnreferencedBuckets(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	for seq := uint64(1); seq <= 8; seq++ {
		_, _, err := m.AddLedger(batch(seq, byte(seq)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
	}

	m.mu.Lock()
	internedBefore := len(m.ids)
	m.mu.Unlock()
	require.Greater(t, internedBefore, 0)

	freed, err := m.Sweep()
	require.NoError(t, err)

	m.mu.Lock()
	internedAfter := len(m.ids)
	m.mu.Unlock()
	assert.Equal(t, internedBefore-freed, internedAfter)

	reachable := m.markReachable()
	m.mu.Lock()
	for h, id := range m.ids {
		assert.True(t, reachable.Contains(id), "every still-interned bucket %s must be in the reachable set after a sweep", h.Hex())
	}
	m.mu.Unlock()
}

// S3: restarting mid-merge (within the same protocol) must reproduce the
// exact same bucket list hash as an uninterrupted run, since restart
// always re-runs the merge from its persisted recipe.
func TestS3RestartMidMergeReproducesSameHash(t *testing.T) {
	dir := tmpDir(t)

	const ledgers = 40
	m1 := openManager(t, dir)
	var uninterrupted common.Hash
	for seq := uint64(1); seq <= ledgers; seq++ {
		h, _, err := m1.AddLedger(batch(seq, byte(seq)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
		uninterrupted = h
	}
	require.NoError(t, m1.Wait())
	require.NoError(t, m1.Close())

	dir2 := tmpDir(t)
	m2 := openManager(t, dir2)
	var interrupted common.Hash
	for seq := uint64(1); seq <= ledgers; seq++ {
		if seq == ledgers/2 {
			// simulate a crash and restart mid-stream: close and reopen
			// against the same directory, which forces RestartInFlight to
			// relaunch any InputsOnly merges from their persisted recipe.
			require.NoError(t, m2.Wait())
			require.NoError(t, m2.Close())
			m2 = openManager(t, dir2)
		}
		h, _, err := m2.AddLedger(batch(seq, byte(seq)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
		interrupted = h
	}
	require.NoError(t, m2.Wait())
	require.NoError(t, m2.Close())

	assert.Equal(t, uninterrupted, interrupted, "a restart mid-merge must reproduce the same bucket list hash as an uninterrupted run")
}

// S4: a restart crossing a protocol upgrade boundary must carry the new
// protocol forward into every subsequent merge.
func TestS4RestartAcrossProtocolBoundary(t *testing.T) {
	dir := tmpDir(t)
	m := openManager(t, dir)

	oldProto := protocol.Version(1)
	for seq := uint64(1); seq <= 4; seq++ {
		_, _, err := m.AddLedger(batch(seq, byte(seq)), oldProto)
		require.NoError(t, err)
	}
	require.NoError(t, m.Wait())
	require.NoError(t, m.UpgradeProtocol(protocol.FirstProtocolSupportingInitEntryAndMetaEntry))
	require.NoError(t, m.Close())

	m2 := openTestManager(t, dir)
	_, _, err := m2.AddLedger(batch(5, 5), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
	require.NoError(t, err, "a ledger close under the new protocol must succeed after restart")
	assert.Equal(t, uint64(5), m2.BucketList().LastLedger())
}

// S5: a merge that was running (and thus holding a shadow set) when the
// process paused must, on restart, resolve to output consistent with
// those same shadows rather than a stale or re-derived set.
func TestS5RestartPreservesShadowSetForAPausedMerge(t *testing.T) {
	dir := tmpDir(t)
	m := openManager(t, dir)

	for seq := uint64(1); seq <= 16; seq++ {
		_, _, err := m.AddLedger(batch(seq, byte(seq)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
	}
	require.NoError(t, m.Wait())

	pendingLevel := -1
	var shadowsBefore []common.Hash
	for i := range m.BucketList().Levels {
		if recipe, ok := m.BucketList().Levels[i].Next.MarshalRecipe(); ok {
			pendingLevel = i
			shadowsBefore = recipe.ShadowHashes
			break
		}
	}
	require.NoError(t, m.Close())
	require.GreaterOrEqual(t, pendingLevel, 0, "ledger 16 leaves level 0's merge pending")

	m2 := openTestManager(t, dir)
	require.NoError(t, m2.Wait())
	recipeAfter, ok := m2.BucketList().Levels[pendingLevel].Next.MarshalRecipe()
	require.True(t, ok, "the restarted merge is still described by its recipe")
	assert.Equal(t, shadowsBefore, recipeAfter.ShadowHashes, "restart must rerun the paused merge against the same shadow set")
}

// S6: counters must sum consistently with the documented deviations — in
// particular, elision counters for DEAD/INIT entries must stay at zero
// since only LIVE records are ever shadow-elided.
func TestS6CountersNeverElideDeadOrInitByShadow(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	for seq := uint64(1); seq <= 32; seq++ {
		_, _, err := m.AddLedger(batch(seq, byte(seq%5)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
	}
	require.NoError(t, m.Wait())

	assert.Equal(t, int64(0), m.BucketList().Counters.InitEntryShadowElisions)
	assert.Equal(t, int64(0), m.BucketList().Counters.DeadEntryShadowElisions)
	assert.Equal(t, int64(0), m.BucketList().Counters.MetaEntryShadowElisions)
}

// TestS3RestartFromACopiedDataDirReproducesSameHash snapshots a live data
// directory mid-stream (cp.CopyAll, the same fixture-copy idiom used to
// isolate a destructive test from its source tree) and confirms a manager
// reopened against the copy resumes and reaches the same bucket list hash
// as the original, exercising the restart protocol against an on-disk
// state rather than the same open database handle.
func TestS3RestartFromACopiedDataDirReproducesSameHash(t *testing.T) {
	dir := tmpDir(t)
	m := openManager(t, dir)
	for seq := uint64(1); seq <= 20; seq++ {
		_, _, err := m.AddLedger(batch(seq, byte(seq)), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
		require.NoError(t, err)
	}
	require.NoError(t, m.Wait())
	require.NoError(t, m.Close())

	copyDir := tmpDir(t)
	require.NoError(t, os.RemoveAll(copyDir))
	require.NoError(t, cp.CopyAll(copyDir, dir))

	restored := openManager(t, copyDir)
	require.NoError(t, restored.Wait())
	assert.Equal(t, uint64(20), restored.BucketList().LastLedger())
	require.NoError(t, restored.Close())

	reopenedOriginal := openTestManager(t, dir)
	assert.Equal(t, reopenedOriginal.BucketList().Hash(), func() common.Hash {
		again := openManager(t, copyDir)
		defer again.Close()
		return again.BucketList().Hash()
	}())
}

func TestAddLedgerRejectsInvalidBatch(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	dup := ledger.Key{Type: ledger.TypeAccount, ID: []byte{1}}
	bad := txbatch.Batch{
		LedgerSeq: 1,
		Live:      []ledger.Entry{{Key: dup, Balance: uint256.NewInt(1)}},
		Dead:      []ledger.Key{dup},
	}
	_, _, err := m.AddLedger(bad, protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
	assert.Error(t, err)
}

func TestOpenTwiceOnSameDirFailsTheLock(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	_, err := Open(context.Background(), Config{Dir: dir, WorkerCount: 1})
	assert.Error(t, err, "a second Open against a locked data directory must fail")
	_ = m
}

func TestReferencedHashesReflectsInternedBuckets(t *testing.T) {
	dir := tmpDir(t)
	m := openTestManager(t, dir)

	_, _, err := m.AddLedger(batch(1, 1), protocol.FirstProtocolSupportingInitEntryAndMetaEntry)
	require.NoError(t, err)

	hashes, err := m.ReferencedHashes()
	require.NoError(t, err)
	assert.NotEmpty(t, hashes)
}
