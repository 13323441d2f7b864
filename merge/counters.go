// Package merge implements the k-way merge of a bucket list level: folding
// a new bucket into an old bucket under a set of shadow buckets, per
// spec.md §4.2.
package merge

import (
	"sync/atomic"

	"github.com/ledgerwatch/bucketstore/metrics"
)

// Counters accumulates every named decision counter from spec.md §6. All
// fields are monotonically non-decreasing for the lifetime of the process.
// Counters are not persisted: a restarted process starts its totals from
// zero, and a merge re-run from its recipe after a restart contributes its
// full counts again.
type Counters struct {
	PreInitEntryProtocolMerges  int64
	PostInitEntryProtocolMerges int64

	NewMeta, NewInit, NewLive, NewDead int64
	OldMeta, OldInit, OldLive, OldDead int64

	OldEntriesDefaultAccepted          int64
	NewEntriesDefaultAccepted          int64
	NewInitEntriesMergedWithOldDead    int64
	OldInitEntriesMergedWithNewLive    int64
	OldInitEntriesMergedWithNewDead    int64
	NewEntriesMergedWithOldNeitherInit int64

	ShadowScanSteps             int64
	MetaEntryShadowElisions     int64
	LiveEntryShadowElisions     int64
	InitEntryShadowElisions     int64
	DeadEntryShadowElisions     int64
	OutputIteratorTombstoneElisions int64
	OutputIteratorBufferUpdates     int64
	OutputIteratorActualWrites      int64
}

// fields lists every counter in declaration order, used by Add/Snapshot to
// avoid repeating the field list twice.
func (c *Counters) fields() []*int64 {
	return []*int64{
		&c.PreInitEntryProtocolMerges, &c.PostInitEntryProtocolMerges,
		&c.NewMeta, &c.NewInit, &c.NewLive, &c.NewDead,
		&c.OldMeta, &c.OldInit, &c.OldLive, &c.OldDead,
		&c.OldEntriesDefaultAccepted, &c.NewEntriesDefaultAccepted,
		&c.NewInitEntriesMergedWithOldDead, &c.OldInitEntriesMergedWithNewLive,
		&c.OldInitEntriesMergedWithNewDead, &c.NewEntriesMergedWithOldNeitherInit,
		&c.ShadowScanSteps, &c.MetaEntryShadowElisions, &c.LiveEntryShadowElisions,
		&c.InitEntryShadowElisions, &c.DeadEntryShadowElisions,
		&c.OutputIteratorTombstoneElisions, &c.OutputIteratorBufferUpdates,
		&c.OutputIteratorActualWrites,
	}
}

// Add atomically folds delta's counters into c, e.g. a resolved merge's
// counts into a bucket list's running total.
func (c *Counters) Add(delta Counters) {
	df := delta.fields()
	for i, f := range c.fields() {
		atomic.AddInt64(f, atomic.LoadInt64(df[i]))
	}
}

// Snapshot returns an independent copy of c's current values.
func (c *Counters) Snapshot() Counters {
	var out Counters
	of := out.fields()
	for i, f := range c.fields() {
		atomic.StoreInt64(of[i], atomic.LoadInt64(f))
	}
	return out
}

// registeredMirrors exposes each counter through the teacher-style internal
// metrics registry (common/dbutils/bucket.go's metrics.NewRegisteredCounter
// idiom) so a running process can enumerate them without a telemetry
// exporter.
var registeredMirrors = map[string]*metrics.Counter{
	"merge/shadowScanSteps":      metrics.NewRegisteredCounter("merge/shadowScanSteps", nil),
	"merge/liveShadowElisions":   metrics.NewRegisteredCounter("merge/liveShadowElisions", nil),
	"merge/tombstoneElisions":    metrics.NewRegisteredCounter("merge/tombstoneElisions", nil),
	"merge/outputActualWrites":   metrics.NewRegisteredCounter("merge/outputActualWrites", nil),
}

func mirror(name string, delta int64) {
	if delta == 0 {
		return
	}
	if c, ok := registeredMirrors[name]; ok {
		c.Inc(delta)
	}
}
