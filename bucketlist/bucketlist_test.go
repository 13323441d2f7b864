package bucketlist

import (
	"os"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/futurebucket"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/protocol"
)

func tmpDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bucketstore-bucketlist-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestList(t *testing.T, dir string) (*BucketList, map[common.Hash]*bucket.Bucket) {
	t.Helper()
	cache := map[common.Hash]*bucket.Bucket{bucket.Empty.Hash(): bucket.Empty}
	resolve := func(h common.Hash) (*bucket.Bucket, error) {
		if b, ok := cache[h]; ok {
			return b, nil
		}
		return bucket.Open(dir, h)
	}
	submit := func(job func()) { job() } // synchronous worker, as a test double
	bl := New(dir, resolve, submit)
	return bl, cache
}

func entryFor(n uint64) ledger.Entry {
	return ledger.Entry{
		Key:                ledger.Key{Type: ledger.TypeAccount, ID: []byte{byte(n)}},
		LastModifiedLedger: uint32(n),
		Balance:            uint256.NewInt(n),
	}
}

func TestEmptyBucketListHashesToAllZeroComposite(t *testing.T) {
	dir := tmpDir(t)
	bl, _ := newTestList(t, dir)
	assert.Equal(t, common.SumSHA3(make([]byte, 32), make([]byte, 32),
		make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32),
		make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32),
		make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32),
		make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32),
		make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32)), bl.Hash())
}

func TestAddBatchAdvancesLastLedgerAndChangesHash(t *testing.T) {
	dir := tmpDir(t)
	bl, _ := newTestList(t, dir)
	before := bl.Hash()

	h1, err := bl.AddBatch(1, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(1)}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), bl.LastLedger())
	assert.NotEqual(t, before, h1)
}

func TestAddBatchRejectsOutOfOrderSequence(t *testing.T) {
	dir := tmpDir(t)
	bl, _ := newTestList(t, dir)
	_, err := bl.AddBatch(1, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(1)}, nil)
	require.NoError(t, err)

	_, err = bl.AddBatch(3, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(3)}, nil)
	assert.Error(t, err, "AddBatch must refuse to skip ledger 2")
}

func TestLevelZeroSpillsEveryLedgerAndPromotesIntoLevelOne(t *testing.T) {
	dir := tmpDir(t)
	bl, _ := newTestList(t, dir)

	// half(0) == 1, so level 0 snaps and spills on every ledger close
	// (spec.md §3): ledger 1's batch becomes snap_0 at ledger 2, where the
	// merge into level 1 starts, and that merge's output becomes level 1's
	// Curr at ledger 3.
	_, err := bl.AddBatch(1, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, futurebucket.StateRunning, bl.Levels[0].Next.State())

	_, err = bl.AddBatch(2, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(2)}, nil)
	require.NoError(t, err)

	_, err = bl.AddBatch(3, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(3)}, nil)
	require.NoError(t, err)

	assert.False(t, bl.Levels[1].Curr.IsEmpty(), "level 1's curr should have absorbed ledger 1's spilled batch")
}

func TestRestartInFlightRelaunchesPersistedInputsOnlyFutures(t *testing.T) {
	dir := tmpDir(t)
	bl, _ := newTestList(t, dir)

	old := bucket.Empty
	newB, err := bucket.Fresh(dir, protocol.FirstProtocolSupportingInitEntryAndMetaEntry, nil, []ledger.Entry{entryFor(1)}, nil)
	require.NoError(t, err)

	recipe := futurebucket.Recipe{OldHash: old.Hash(), NewHash: newB.Hash(), Protocol: protocol.FirstProtocolSupportingInitEntryAndMetaEntry}
	bl.Levels[0].Next = futurebucket.RestoreInputsOnly(recipe)

	require.NoError(t, bl.RestartInFlight())
	assert.Equal(t, futurebucket.StateRunning, bl.Levels[0].Next.State())

	out, _, err := bl.Levels[0].Next.Resolve()
	require.NoError(t, err)
	assert.NotNil(t, out)
}
