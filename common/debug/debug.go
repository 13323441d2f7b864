// Package debug holds process-wide test and diagnostic switches, mirroring
// the teacher's common/debug package of env-var-gated knobs.
package debug

import "os"

// ForceSingleWorker, when set via the BUCKETSTORE_SINGLE_WORKER env var,
// collapses the manager's worker pool to one goroutine so merge ordering
// becomes deterministic for tests that assert on counters mid-flight.
func ForceSingleWorker() bool {
	return os.Getenv("BUCKETSTORE_SINGLE_WORKER") == "1"
}
