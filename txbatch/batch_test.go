package txbatch

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/bucketstore/ledger"
)

func key(id byte) ledger.Key { return ledger.Key{Type: ledger.TypeAccount, ID: []byte{id}} }

func entry(id byte) ledger.Entry {
	return ledger.Entry{Key: key(id), LastModifiedLedger: 1, Balance: uint256.NewInt(uint64(id))}
}

func TestValidateAcceptsDisjointBatch(t *testing.T) {
	b := Batch{LedgerSeq: 1, Init: []ledger.Entry{entry(1)}, Live: []ledger.Entry{entry(2)}, Dead: []ledger.Key{key(3)}}
	require.NoError(t, b.Validate())
}

func TestValidateRejectsKeyInInitAndLive(t *testing.T) {
	b := Batch{LedgerSeq: 1, Init: []ledger.Entry{entry(1)}, Live: []ledger.Entry{entry(1)}}
	assert.Error(t, b.Validate())
}

func TestValidateRejectsKeyInLiveAndDead(t *testing.T) {
	b := Batch{LedgerSeq: 1, Live: []ledger.Entry{entry(1)}, Dead: []ledger.Key{key(1)}}
	assert.Error(t, b.Validate())
}

func TestValidateRejectsDuplicateWithinSameList(t *testing.T) {
	b := Batch{LedgerSeq: 1, Live: []ledger.Entry{entry(1), entry(1)}}
	assert.Error(t, b.Validate())
}

func TestValidateAcceptsEmptyBatch(t *testing.T) {
	require.NoError(t, Batch{LedgerSeq: 1}.Validate())
}
