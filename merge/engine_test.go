package merge

import (
	"os"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/protocol"
)

func tmpDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bucketstore-merge-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func key(id byte) ledger.Key { return ledger.Key{Type: ledger.TypeAccount, ID: []byte{id}} }

func live(id byte, amount uint64) ledger.Entry {
	return ledger.Entry{Key: key(id), LastModifiedLedger: 1, Balance: uint256.NewInt(amount)}
}

func fresh(t *testing.T, dir string, proto protocol.Version, init, liveEntries []ledger.Entry, dead []ledger.Key) *bucket.Bucket {
	t.Helper()
	b, err := bucket.Fresh(dir, proto, init, liveEntries, dead)
	require.NoError(t, err)
	return b
}

func collectKeys(t *testing.T, b *bucket.Bucket) []bucket.Entry {
	t.Helper()
	it, err := b.OpenInputIterator()
	require.NoError(t, err)
	defer it.Close()
	var out []bucket.Entry
	for it.Next() {
		if it.Entry().Kind == bucket.KindMeta {
			continue
		}
		out = append(out, it.Entry())
	}
	require.NoError(t, it.Err())
	return out
}

func TestMergeNewSupersedesOldOnEqualKey(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.Version(1) // below P1: no INIT/META semantics
	old := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 10)}, nil)
	newB := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 99)}, nil)

	res, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(99), entries[0].Live.Balance.Uint64())
	assert.Equal(t, int64(1), res.Counters.NewEntriesMergedWithOldNeitherInit)
}

func TestMergeInitAnnihilatesWithOldDead(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	old := fresh(t, dir, proto, nil, nil, []ledger.Key{key(1)})
	newB := fresh(t, dir, proto, []ledger.Entry{live(1, 5)}, nil, nil)

	res, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	for _, e := range entries {
		assert.NotEqual(t, byte(1), e.Key.ID[0], "INIT+old-DEAD must annihilate (emit nothing) for key 1")
	}
	assert.Equal(t, int64(1), res.Counters.NewInitEntriesMergedWithOldDead)
}

func TestMergeOldInitPromotesOnNewLive(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	old := fresh(t, dir, proto, []ledger.Entry{live(1, 1)}, nil, nil)
	newB := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 42)}, nil)

	res, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	require.Len(t, entries, 1)
	assert.Equal(t, bucket.KindInit, entries[0].Kind, "old INIT + new LIVE merges forward as INIT")
	assert.Equal(t, uint64(42), entries[0].Live.Balance.Uint64())
	assert.Equal(t, int64(1), res.Counters.OldInitEntriesMergedWithNewLive)
}

func TestMergeOldInitAndNewDeadIsANoop(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	old := fresh(t, dir, proto, []ledger.Entry{live(1, 1)}, nil, nil)
	newB := fresh(t, dir, proto, nil, nil, []ledger.Key{key(1)})

	res, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	for _, e := range entries {
		assert.NotEqual(t, byte(1), e.Key.ID[0])
	}
	assert.Equal(t, int64(1), res.Counters.OldInitEntriesMergedWithNewDead)
}

func TestMergeElidesLiveShadowedByAnyShadowDeepestFirst(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.Version(1)
	shadowDeep := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 1)}, nil)
	shadowShallow := fresh(t, dir, proto, nil, nil, nil)
	old := fresh(t, dir, proto, nil, nil, nil)
	newB := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 2), live(2, 3)}, nil)

	res, err := Merge(Input{
		Old: old, New: newB,
		Shadows:  []*bucket.Bucket{shadowDeep, shadowShallow}, // deepest first
		Protocol: proto, OutputDir: dir,
	})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	require.Len(t, entries, 1, "key 1 is elided because it is already live in a shadow")
	assert.Equal(t, byte(2), entries[0].Key.ID[0])
	assert.Equal(t, int64(1), res.Counters.LiveEntryShadowElisions)
}

func TestMergeNeverElidesDeadOrInitByShadow(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	shadow := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 1), live(2, 1)}, nil)
	old := fresh(t, dir, proto, nil, nil, nil)
	newB := fresh(t, dir, proto, []ledger.Entry{live(1, 9)}, nil, []ledger.Key{key(2)})

	res, err := Merge(Input{
		Old: old, New: newB,
		Shadows: []*bucket.Bucket{shadow}, Protocol: proto, OutputDir: dir, IsBottomTier: false,
	})
	require.NoError(t, err)

	entries := collectKeys(t, res.Output)
	var sawInit, sawDead bool
	for _, e := range entries {
		if e.Key.ID[0] == 1 {
			sawInit = e.Kind == bucket.KindInit
		}
		if e.Key.ID[0] == 2 {
			sawDead = e.Kind == bucket.KindDead
		}
	}
	assert.True(t, sawInit, "INIT must survive even though key 1 is live in a shadow")
	assert.True(t, sawDead, "DEAD must survive a non-bottom merge even though key 2 is live in a shadow")
	assert.Equal(t, int64(0), res.Counters.InitEntryShadowElisions)
	assert.Equal(t, int64(0), res.Counters.DeadEntryShadowElisions)
}

func TestMergeElidesTombstonesOnlyAtBottomTier(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.Version(1)
	old := fresh(t, dir, proto, nil, nil, nil)
	newB := fresh(t, dir, proto, nil, nil, []ledger.Key{key(1)})

	notBottom, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir, IsBottomTier: false})
	require.NoError(t, err)
	assert.Len(t, collectKeys(t, notBottom.Output), 1, "a non-bottom merge must keep the tombstone")
	assert.Equal(t, int64(0), notBottom.Counters.OutputIteratorTombstoneElisions)

	bottom, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir, IsBottomTier: true})
	require.NoError(t, err)
	assert.Empty(t, collectKeys(t, bottom.Output), "the bottom tier has no deeper bucket to shadow, so DEAD is dropped")
	assert.Equal(t, int64(1), bottom.Counters.OutputIteratorTombstoneElisions)
}

func TestMergeRejectsInitBelowP1(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	old := fresh(t, dir, proto, []ledger.Entry{live(1, 1)}, nil, nil)
	newB := fresh(t, dir, proto, nil, nil, nil)

	_, err := Merge(Input{Old: old, New: newB, Protocol: protocol.Version(1), OutputDir: dir})
	assert.ErrorIs(t, err, bucket.ErrProtocolViolation)
}

func TestMergeIsDeterministic(t *testing.T) {
	dir := tmpDir(t)
	proto := protocol.FirstProtocolSupportingInitEntryAndMetaEntry
	old := fresh(t, dir, proto, nil, []ledger.Entry{live(1, 1), live(3, 3)}, nil)
	newB := fresh(t, dir, proto, nil, []ledger.Entry{live(2, 2)}, []ledger.Key{key(4)})

	first, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)
	second, err := Merge(Input{Old: old, New: newB, Protocol: proto, OutputDir: dir})
	require.NoError(t, err)

	assert.Equal(t, first.Output.Hash(), second.Output.Hash(),
		"re-running a merge on identical inputs must be byte-identical, since restart always re-runs from the recipe")
}
