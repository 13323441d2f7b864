package bucketlevel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHalfGeometry(t *testing.T) {
	assert.Equal(t, uint64(1), Half(0))
	assert.Equal(t, uint64(4), Half(1))
	assert.Equal(t, uint64(16), Half(2))
	assert.Equal(t, uint64(4194304), Half(11))
}

func TestSpillsAndSnapsSchedule(t *testing.T) {
	// level 1: half(1) = 4, spills at N%4==2, snaps at N%4==0.
	assert.False(t, Spills(1, 0))
	assert.True(t, Spills(1, 2))
	assert.True(t, Spills(1, 6))
	assert.False(t, Spills(1, 4))

	assert.True(t, Snaps(1, 4))
	assert.True(t, Snaps(1, 8))
	assert.False(t, Snaps(1, 2))
}

func TestTopLevelNeverSpillsOrSnaps(t *testing.T) {
	for n := uint64(0); n < 100; n++ {
		assert.False(t, Spills(NumLevels-1, n))
		assert.False(t, Snaps(NumLevels-1, n))
	}
}

func TestNewLevelStartsClearedAndClear(t *testing.T) {
	lvl := NewLevel()
	assert.True(t, lvl.Curr.IsEmpty())
	assert.True(t, lvl.Snap.IsEmpty())
	assert.Equal(t, [32]byte{}, lvl.CurrHash())
	assert.Equal(t, [32]byte{}, lvl.SnapHash())
	assert.Equal(t, "Clear", lvl.Next.State().String())
}
