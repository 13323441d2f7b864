// Package metrics is a minimal internal counter registry, mirroring the
// teacher's own metrics.NewRegisteredCounter used in common/dbutils/bucket.go
// (PreimageCounter, PreimageHitCounter). It is purely in-process bookkeeping:
// there is no exporter and no network surface, since telemetry export is an
// explicitly excluded external collaborator for this module.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing named counter.
type Counter struct {
	name string
	val  int64
}

func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.val, delta) }
func (c *Counter) Snapshot() int64 { return atomic.LoadInt64(&c.val) }
func (c *Counter) Name() string    { return c.name }

// Timer accumulates a count of observations and their total duration, for
// callers that want a mean latency without pulling in a full histogram
// library.
type Timer struct {
	name  string
	count int64
	total int64 // nanoseconds
}

// Update records one observation of d.
func (t *Timer) Update(d time.Duration) {
	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.total, int64(d))
}

// Mean returns the average recorded duration, or 0 if nothing was recorded.
func (t *Timer) Mean() time.Duration {
	count := atomic.LoadInt64(&t.count)
	if count == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&t.total) / count)
}

// NewRegisteredTimer allocates a Timer; reg is accepted only to mirror
// NewRegisteredCounter's call signature.
func NewRegisteredTimer(name string, reg interface{}) *Timer {
	return &Timer{name: name}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Counter{}
)

// NewRegisteredCounter allocates a Counter and registers it under name in
// the process-wide registry so it can later be enumerated (e.g. by a CLI
// inspect command). reg is ignored; it is accepted so call sites can pass
// `nil` for the default registry the way the teacher's do.
func NewRegisteredCounter(name string, reg interface{}) *Counter {
	c := &Counter{name: name}
	registryMu.Lock()
	registry[name] = c
	registryMu.Unlock()
	return c
}

// All returns a snapshot of every registered counter's current value.
func All() map[string]int64 {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]int64, len(registry))
	for name, c := range registry {
		out[name] = c.Snapshot()
	}
	return out
}
