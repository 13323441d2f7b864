// Package archive defines the history archive state document: the
// JSON-serializable snapshot of a bucket list's levels that is published
// after every checkpoint ledger and read back on restart (spec.md §5).
package archive

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerwatch/bucketstore/bucketlevel"
	"github.com/ledgerwatch/bucketstore/bucketlist"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/futurebucket"
	"github.com/ledgerwatch/bucketstore/protocol"
)

// NextStateTag names the persisted variant of a level's Next future.
type NextStateTag string

const (
	NextClear  NextStateTag = "clear"
	NextInput  NextStateTag = "input"
	NextOutput NextStateTag = "output"
)

// RecipeJSON is the wire form of futurebucket.Recipe.
type RecipeJSON struct {
	Old          string   `json:"old"`
	New          string   `json:"new"`
	Shadows      []string `json:"shadows,omitempty"`
	Protocol     uint32   `json:"protocol"`
	IsBottomTier bool     `json:"isBottomTier"`
}

// NextJSON is the persisted form of a level's Next future: either clear,
// an unresolved recipe (InputsOnly), or a resolved output hash.
type NextJSON struct {
	State  NextStateTag `json:"state"`
	Recipe *RecipeJSON  `json:"recipe,omitempty"`
	Output string       `json:"output,omitempty"`
}

// LevelJSON is one level's persisted curr/snap/next triple.
type LevelJSON struct {
	Curr string   `json:"curr"`
	Snap string   `json:"snap"`
	Next NextJSON `json:"next"`
}

// HistoryArchiveState is the document published to the archive after a
// checkpoint ledger close and read back on restart, per spec.md §5's
// "the only thing that must survive a restart bit-for-bit is the set of
// bucket hashes plus each level's Next state."
type HistoryArchiveState struct {
	Version       int                             `json:"version"`
	CurrentLedger uint64                           `json:"currentLedger"`
	Protocol      protocol.Version                 `json:"protocol"`
	Levels        [bucketlevel.NumLevels]LevelJSON `json:"levels"`
}

const stateVersion = 1

// Snapshot captures bl's current state as a HistoryArchiveState.
func Snapshot(bl *bucketlist.BucketList, proto protocol.Version) HistoryArchiveState {
	has := HistoryArchiveState{
		Version:       stateVersion,
		CurrentLedger: bl.LastLedger(),
		Protocol:      proto,
	}
	for i, lvl := range bl.Levels {
		has.Levels[i] = LevelJSON{
			Curr: lvl.Curr.Hash().Hex(),
			Snap: lvl.Snap.Hash().Hex(),
			Next: marshalNext(lvl.Next),
		}
	}
	return has
}

func marshalNext(f *futurebucket.FutureBucket) NextJSON {
	if recipe, ok := f.MarshalRecipe(); ok {
		// Running persists the same as InputsOnly; a restart always restarts
		// the merge from its recipe rather than resuming a partial output.
		shadows := make([]string, len(recipe.ShadowHashes))
		for i, h := range recipe.ShadowHashes {
			shadows[i] = h.Hex()
		}
		return NextJSON{
			State: NextInput,
			Recipe: &RecipeJSON{
				Old:          recipe.OldHash.Hex(),
				New:          recipe.NewHash.Hex(),
				Shadows:      shadows,
				Protocol:     uint32(recipe.Protocol),
				IsBottomTier: recipe.IsBottomTier,
			},
		}
	}
	if out, ok := f.MarshalResolved(); ok {
		return NextJSON{State: NextOutput, Output: out.Hex()}
	}
	return NextJSON{State: NextClear}
}

// Marshal serializes has to indented JSON for publication.
func Marshal(has HistoryArchiveState) ([]byte, error) {
	return json.MarshalIndent(has, "", "  ")
}

// Unmarshal parses a published archive state document.
func Unmarshal(data []byte) (HistoryArchiveState, error) {
	var has HistoryArchiveState
	if err := json.Unmarshal(data, &has); err != nil {
		return HistoryArchiveState{}, fmt.Errorf("archive: parsing state: %w", err)
	}
	return has, nil
}

// Restore rebuilds a BucketList's levels from a persisted state, opening
// each referenced bucket through resolve. Next futures in the "input"
// state are reconstructed but not restarted; the caller must invoke
// bucketlist.BucketList.RestartInFlight once the manager's worker pool is
// ready, per spec.md §5's restart protocol.
func Restore(has HistoryArchiveState, dir string, resolve bucketlist.Resolver, submit bucketlist.Submitter) (*bucketlist.BucketList, error) {
	bl := bucketlist.New(dir, resolve, submit)
	bl.SetLastLedger(has.CurrentLedger)
	for i, lj := range has.Levels {
		currHash, err := common.HashFromHex(lj.Curr)
		if err != nil {
			return nil, fmt.Errorf("archive: level %d curr hash: %w", i, err)
		}
		snapHash, err := common.HashFromHex(lj.Snap)
		if err != nil {
			return nil, fmt.Errorf("archive: level %d snap hash: %w", i, err)
		}
		curr, err := resolve(currHash)
		if err != nil {
			return nil, fmt.Errorf("archive: opening level %d curr: %w", i, err)
		}
		snap, err := resolve(snapHash)
		if err != nil {
			return nil, fmt.Errorf("archive: opening level %d snap: %w", i, err)
		}
		bl.Levels[i].Curr = curr
		bl.Levels[i].Snap = snap

		switch lj.Next.State {
		case NextClear:
			bl.Levels[i].Next = futurebucket.New()
		case NextInput:
			r := lj.Next.Recipe
			oldHash, err := common.HashFromHex(r.Old)
			if err != nil {
				return nil, err
			}
			newHash, err := common.HashFromHex(r.New)
			if err != nil {
				return nil, err
			}
			shadows := make([]common.Hash, len(r.Shadows))
			for j, s := range r.Shadows {
				sh, err := common.HashFromHex(s)
				if err != nil {
					return nil, err
				}
				shadows[j] = sh
			}
			bl.Levels[i].Next = futurebucket.RestoreInputsOnly(futurebucket.Recipe{
				OldHash: oldHash, NewHash: newHash, ShadowHashes: shadows,
				Protocol: protocol.Version(r.Protocol), IsBottomTier: r.IsBottomTier,
			})
		case NextOutput:
			outHash, err := common.HashFromHex(lj.Next.Output)
			if err != nil {
				return nil, err
			}
			out, err := resolve(outHash)
			if err != nil {
				return nil, fmt.Errorf("archive: opening level %d next output: %w", i, err)
			}
			bl.Levels[i].Next = futurebucket.RestoreResolved(out)
		default:
			return nil, fmt.Errorf("archive: level %d: unknown next state %q", i, lj.Next.State)
		}
	}
	return bl, nil
}
