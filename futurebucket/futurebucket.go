// Package futurebucket implements the FutureBucket state machine of
// spec.md §4.3: a handle to a merge that is Clear, InputsOnly (a persisted
// recipe describing inputs that have not started), Running (executing on a
// worker), or Resolved (has an output bucket).
package futurebucket

import (
	"fmt"
	"sync"

	"github.com/ledgerwatch/bucketstore/bucket"
	"github.com/ledgerwatch/bucketstore/common"
	"github.com/ledgerwatch/bucketstore/merge"
	"github.com/ledgerwatch/bucketstore/protocol"
)

// State tags which variant of the FutureBucket union is current.
type State uint8

const (
	StateClear State = iota
	StateInputsOnly
	StateRunning
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateClear:
		return "Clear"
	case StateInputsOnly:
		return "InputsOnly"
	case StateRunning:
		return "Running"
	case StateResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// Recipe is the serializable description of a merge's inputs, the
// InputsOnly persisted form of spec.md §4.2/§4.3.
type Recipe struct {
	OldHash      common.Hash
	NewHash      common.Hash
	ShadowHashes []common.Hash // deepest first
	Protocol     protocol.Version
	IsBottomTier bool
}

// oneShot is the single-use channel a worker publishes its outcome into.
type oneShot struct {
	ch chan outcome
}

type outcome struct {
	output   *bucket.Bucket
	counters merge.Counters
	err      error
}

// FutureBucket is a handle to a merge in one of the four states above. It
// is not safe for concurrent use by multiple goroutines calling its
// mutating methods at once (Start/Resolve/Clear are all called only from
// the single main-loop writer, per spec.md §5); Resolve itself may be
// called while a worker goroutine concurrently completes the merge.
type FutureBucket struct {
	mu     sync.Mutex
	state  State
	recipe Recipe
	future *oneShot
	output *bucket.Bucket
	err    error
}

// New returns a Clear FutureBucket.
func New() *FutureBucket { return &FutureBucket{state: StateClear} }

// State returns the current state.
func (f *FutureBucket) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsMerging reports whether a worker is currently executing this merge.
func (f *FutureBucket) IsMerging() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateRunning && f.future != nil && len(f.future.ch) == 0
}

// Clear resets the FutureBucket to Clear from any state, discarding
// whatever merge it was running or had resolved. It does not delete any
// bucket file; callers that need that go through the BucketManager.
func (f *FutureBucket) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClear
	f.recipe = Recipe{}
	f.future = nil
	f.output = nil
	f.err = nil
}

// Start launches the merge described by recipe on submit, a function the
// caller uses to dispatch work to its worker pool (see manager's
// errgroup-based pool). It transitions Clear/InputsOnly/Resolved -> Running
// and refuses a future that is already Running.
func (f *FutureBucket) Start(recipe Recipe, inputs func(h common.Hash) (*bucket.Bucket, error), outputDir string, submit func(job func())) error {
	f.mu.Lock()
	if f.state == StateRunning {
		f.mu.Unlock()
		return fmt.Errorf("futurebucket: Start called while already Running")
	}
	f.recipe = recipe
	f.state = StateRunning
	fut := &oneShot{ch: make(chan outcome, 1)}
	f.future = fut
	f.mu.Unlock()

	submit(func() {
		old, err := inputs(recipe.OldHash)
		if err != nil {
			fut.ch <- outcome{err: err}
			return
		}
		newB, err := inputs(recipe.NewHash)
		if err != nil {
			fut.ch <- outcome{err: err}
			return
		}
		shadows := make([]*bucket.Bucket, 0, len(recipe.ShadowHashes))
		for _, h := range recipe.ShadowHashes {
			s, err := inputs(h)
			if err != nil {
				fut.ch <- outcome{err: err}
				return
			}
			shadows = append(shadows, s)
		}
		res, err := merge.Merge(merge.Input{
			Old: old, New: newB, Shadows: shadows,
			Protocol: recipe.Protocol, IsBottomTier: recipe.IsBottomTier, OutputDir: outputDir,
		})
		if err != nil {
			fut.ch <- outcome{err: err}
			return
		}
		fut.ch <- outcome{output: res.Output, counters: res.Counters}
	})
	return nil
}

// Resolve blocks until the merge completes, returning a worker error
// unchanged (and collapsing Running -> Clear), and transitions
// Running -> Resolved on success. This is the only suspension point the
// main loop may hit (spec.md §5).
func (f *FutureBucket) Resolve() (*bucket.Bucket, merge.Counters, error) {
	f.mu.Lock()
	switch f.state {
	case StateResolved:
		out, err := f.output, f.err
		f.mu.Unlock()
		return out, merge.Counters{}, err
	case StateClear, StateInputsOnly:
		f.mu.Unlock()
		return nil, merge.Counters{}, fmt.Errorf("futurebucket: Resolve called on %s future", f.State())
	}
	fut := f.future
	f.mu.Unlock()

	res := <-fut.ch

	f.mu.Lock()
	defer f.mu.Unlock()
	if res.err != nil {
		f.state = StateClear
		f.future = nil
		return nil, merge.Counters{}, res.err
	}
	f.state = StateResolved
	f.output = res.output
	f.future = nil
	return res.output, res.counters, nil
}

// Cancel aborts a Running merge cooperatively, collapsing it to Clear; the
// worker goroutine may still be in flight and its result, once produced,
// is simply discarded (spec.md §5, "In-progress merges abort and their
// FutureBuckets collapse to Clear").
func (f *FutureBucket) Cancel() {
	f.Clear()
}

// MarshalRecipe returns the InputsOnly recipe for persistence, valid when
// the state is Running or InputsOnly (not Clear or Resolved).
func (f *FutureBucket) MarshalRecipe() (Recipe, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateRunning || f.state == StateInputsOnly {
		return f.recipe, true
	}
	return Recipe{}, false
}

// MarshalResolved returns the output hash for persistence, valid only when
// Resolved.
func (f *FutureBucket) MarshalResolved() (common.Hash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateResolved {
		return f.output.Hash(), true
	}
	return common.Hash{}, false
}

// RestoreInputsOnly reconstructs a persisted InputsOnly FutureBucket after
// restart; the caller is responsible for calling Start again to actually
// launch the (re)run, per spec.md §5's restart protocol.
func RestoreInputsOnly(recipe Recipe) *FutureBucket {
	return &FutureBucket{state: StateInputsOnly, recipe: recipe}
}

// RestoreResolved reconstructs a persisted Resolved FutureBucket after
// restart, given the already-opened output bucket.
func RestoreResolved(output *bucket.Bucket) *FutureBucket {
	return &FutureBucket{state: StateResolved, output: output}
}
