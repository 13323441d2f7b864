package merge

import (
	"fmt"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ledgerwatch/bucketstore/protocol"
)

// Input describes everything one invocation of Merge needs: the old and
// new buckets being folded, the shadow buckets (deepest first, per
// spec.md §4.2) that may license eliding redundant LIVE records, the
// ledger protocol version, and whether the output is destined for the
// deepest level (where DEAD records may be dropped entirely since no
// deeper bucket could need the tombstone).
type Input struct {
	Old          *bucket.Bucket
	New          *bucket.Bucket
	Shadows      []*bucket.Bucket // deepest first
	Protocol     protocol.Version
	IsBottomTier bool
	OutputDir    string
}

// Result is the outcome of a completed merge: the output bucket and the
// counter deltas produced by this run (not yet folded into any running
// total; the caller decides whether/how to accumulate them).
type Result struct {
	Output   *bucket.Bucket
	Counters Counters
}

// Merge performs the k-way ordered merge described in spec.md §4.2 and
// returns the output bucket. It is a pure function of (old, new, shadows,
// protocol): running it twice on identical inputs produces byte-identical
// output, which is what makes an input-only FutureBucket safely
// re-runnable from scratch after a restart.
func Merge(in Input) (Result, error) {
	var c Counters

	shadowSets, err := loadShadowKeys(in.Shadows, &c)
	if err != nil {
		return Result{}, err
	}

	oldIt, err := in.Old.OpenInputIterator()
	if err != nil {
		return Result{}, fmt.Errorf("merge: opening old input: %w", err)
	}
	defer oldIt.Close()
	newIt, err := in.New.OpenInputIterator()
	if err != nil {
		return Result{}, fmt.Errorf("merge: opening new input: %w", err)
	}
	defer newIt.Close()

	w := bucket.NewWriter(in.OutputDir)
	defer w.Abort() // no-op once Finish has run

	emitMeta := protocol.SupportsInitEntryAndMetaEntry(in.Protocol)
	if emitMeta {
		c.PostInitEntryProtocolMerges++
		if err := write(w, bucket.Entry{Kind: bucket.KindMeta, FormatVersion: uint32(in.Protocol)}, &c); err != nil {
			return Result{}, err
		}
	} else {
		c.PreInitEntryProtocolMerges++
	}

	oldOK, oldCur, err := advance(oldIt, in.Protocol, true, &c)
	if err != nil {
		return Result{}, err
	}
	newOK, newCur, err := advance(newIt, in.Protocol, false, &c)
	if err != nil {
		return Result{}, err
	}

	for oldOK || newOK {
		switch {
		case oldOK && newOK && oldCur.Key.Equal(newCur.Key):
			if err := reconcile(w, oldCur, newCur, in.IsBottomTier, shadowSets, &c); err != nil {
				return Result{}, err
			}
			oldOK, oldCur, err = advance(oldIt, in.Protocol, true, &c)
			if err != nil {
				return Result{}, err
			}
			newOK, newCur, err = advance(newIt, in.Protocol, false, &c)
			if err != nil {
				return Result{}, err
			}
		case newOK && (!oldOK || newCur.Key.Less(oldCur.Key)):
			if err := emit(w, newCur, in.IsBottomTier, shadowSets, &c); err != nil {
				return Result{}, err
			}
			c.NewEntriesDefaultAccepted++
			newOK, newCur, err = advance(newIt, in.Protocol, false, &c)
			if err != nil {
				return Result{}, err
			}
		default: // oldOK, and (!newOK || oldCur.Key < newCur.Key)
			if err := emit(w, oldCur, in.IsBottomTier, shadowSets, &c); err != nil {
				return Result{}, err
			}
			c.OldEntriesDefaultAccepted++
			oldOK, oldCur, err = advance(oldIt, in.Protocol, true, &c)
			if err != nil {
				return Result{}, err
			}
		}
	}

	if err := oldIt.Err(); err != nil {
		return Result{}, err
	}
	if err := newIt.Err(); err != nil {
		return Result{}, err
	}

	out, err := w.Finish()
	if err != nil {
		return Result{}, err
	}
	mirror("merge/shadowScanSteps", c.ShadowScanSteps)
	mirror("merge/liveShadowElisions", c.LiveEntryShadowElisions)
	mirror("merge/tombstoneElisions", c.OutputIteratorTombstoneElisions)
	mirror("merge/outputActualWrites", c.OutputIteratorActualWrites)
	return Result{Output: out, Counters: c}, nil
}

// advance pulls the next non-META entry off it, counting kind consumption
// and rejecting INIT/META under a protocol that forbids them.
func advance(it *bucket.Iterator, proto protocol.Version, isOld bool, c *Counters) (bool, bucket.Entry, error) {
	for it.Next() {
		e := it.Entry()
		if !protocol.SupportsInitEntryAndMetaEntry(proto) && (e.Kind == bucket.KindInit || e.Kind == bucket.KindMeta) {
			return false, bucket.Entry{}, fmt.Errorf("%w: %s entry at protocol %d", bucket.ErrProtocolViolation, e.Kind, proto)
		}
		if e.Kind == bucket.KindMeta {
			if isOld {
				c.OldMeta++
			} else {
				c.NewMeta++
			}
			continue
		}
		switch e.Kind {
		case bucket.KindInit:
			if isOld {
				c.OldInit++
			} else {
				c.NewInit++
			}
		case bucket.KindLive:
			if isOld {
				c.OldLive++
			} else {
				c.NewLive++
			}
		case bucket.KindDead:
			if isOld {
				c.OldDead++
			} else {
				c.NewDead++
			}
		}
		return true, e, nil
	}
	return false, bucket.Entry{}, it.Err()
}

// reconcile implements the equal-key rules of spec.md §4.2.
func reconcile(w *bucket.Writer, oldE, newE bucket.Entry, bottom bool, shadows []shadowSet, c *Counters) error {
	switch {
	case newE.Kind == bucket.KindInit && oldE.Kind == bucket.KindDead:
		c.NewInitEntriesMergedWithOldDead++
		return nil // annihilate: emit nothing
	case newE.Kind == bucket.KindLive && oldE.Kind == bucket.KindInit:
		c.OldInitEntriesMergedWithNewLive++
		merged := bucket.Entry{Kind: bucket.KindInit, Key: newE.Key, Live: newE.Live}
		return emit(w, merged, bottom, shadows, c)
	case newE.Kind == bucket.KindDead && oldE.Kind == bucket.KindInit:
		c.OldInitEntriesMergedWithNewDead++
		return nil // creation+deletion within the window is a no-op
	default:
		c.NewEntriesMergedWithOldNeitherInit++
		return emit(w, newE, bottom, shadows, c)
	}
}

// emit writes e to the output, applying shadow elision (LIVE only, per
// spec.md §4.2: "DEAD records are never elided by shadows", "INIT records
// are never elided by shadows", "META records are never elided") and
// bottom-tier tombstone elision (DEAD only, when the output has no deeper
// bucket left to shadow it).
func emit(w *bucket.Writer, e bucket.Entry, bottom bool, shadows []shadowSet, c *Counters) error {
	switch e.Kind {
	case bucket.KindLive:
		if shadowContains(shadows, e.Key, c) {
			c.LiveEntryShadowElisions++
			return nil
		}
	case bucket.KindDead:
		if bottom {
			c.OutputIteratorTombstoneElisions++
			return nil
		}
	}
	return write(w, e, c)
}

func write(w *bucket.Writer, e bucket.Entry, c *Counters) error {
	c.OutputIteratorBufferUpdates++
	if err := w.WriteEntry(e); err != nil {
		return err
	}
	c.OutputIteratorActualWrites++
	return nil
}

type shadowSet struct {
	keys map[string]struct{}
}

func (s shadowSet) contains(k ledger.Key) bool {
	_, ok := s.keys[string(k.Encode())]
	return ok
}

// loadShadowKeys preloads each shadow bucket's non-META key set, deepest
// first, so the merge loop can test membership without rescanning a
// shadow bucket per candidate.
func loadShadowKeys(shadows []*bucket.Bucket, c *Counters) ([]shadowSet, error) {
	out := make([]shadowSet, 0, len(shadows))
	for _, s := range shadows {
		set := shadowSet{keys: map[string]struct{}{}}
		it, err := s.OpenInputIterator()
		if err != nil {
			return nil, fmt.Errorf("merge: opening shadow input: %w", err)
		}
		for it.Next() {
			e := it.Entry()
			if e.Kind == bucket.KindMeta {
				continue
			}
			set.keys[string(e.Key.Encode())] = struct{}{}
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}

// shadowContains scans shadows deepest-first, counting each one consulted,
// and stops at the first that contains key (spec.md §9's "any shadow
// suffices" resolution of the multi-shadow open question).
func shadowContains(shadows []shadowSet, key ledger.Key, c *Counters) bool {
	for _, s := range shadows {
		c.ShadowScanSteps++
		if s.contains(key) {
			return true
		}
	}
	return false
}
