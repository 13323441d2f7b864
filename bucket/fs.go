package bucket

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerwatch/bucketstore/common"
	natomic "github.com/natefinch/atomic"
	"github.com/valyala/gozstd"
)

// ioRetries bounds the number of attempts (the first try included) a disk
// operation gets before an IoError is surfaced as fatal, per spec.md §7.
const ioRetries = 3

// publish zstd-compresses rawCanonical and atomically writes it to
// dir/bucket-<h>.xdr. The content hash (and therefore I3/I5 interning) is
// always computed over rawCanonical, never over the compressed bytes, so
// compression parameters never affect bucket identity.
func publish(dir string, h common.Hash, rawCanonical []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrIoError, dir, err)
	}
	compressed := gozstd.Compress(nil, rawCanonical)
	path := filepath.Join(dir, filename(h))

	var lastErr error
	for attempt := 0; attempt < ioRetries; attempt++ {
		if lastErr = natomic.WriteFile(path, bytes.NewReader(compressed)); lastErr == nil {
			return nil
		}
		time.Sleep(time.Millisecond * time.Duration(1<<attempt))
	}
	return fmt.Errorf("%w: writing %s: %v", ErrIoError, path, lastErr)
}

// flushCheckpoint atomically persists a not-yet-finished output stream to a
// scratch path, the crash-consistency step spec.md §4.2 requires of the
// merge engine's periodic buffer flush. It is not used for resumption
// (resumption always restarts the merge from its recipe) only for leaving
// no half-written file behind on a hard crash.
func flushCheckpoint(scratchPath string, rawSoFar []byte) error {
	compressed := gozstd.Compress(nil, rawSoFar)
	if err := natomic.WriteFile(scratchPath, bytes.NewReader(compressed)); err != nil {
		return fmt.Errorf("%w: flushing checkpoint %s: %v", ErrIoError, scratchPath, err)
	}
	return nil
}

// remove deletes the bucket's backing file, used by the manager's GC
// sweep once a bucket is unreferenced (invariant I4).
func (b *Bucket) remove() error {
	if b.IsEmpty() {
		return nil
	}
	if err := os.Remove(b.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrIoError, b.Path(), err)
	}
	return nil
}

// Remove deletes the bucket's backing file. Exported for the BucketManager,
// which is the sole caller expected to invoke it (it owns the reference
// count that makes deletion safe).
func (b *Bucket) Remove() error { return b.remove() }

func decompressReader(path string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt < ioRetries; attempt++ {
		raw, err := os.ReadFile(path)
		if err == nil {
			decompressed, derr := gozstd.Decompress(nil, raw)
			if derr != nil {
				return nil, fmt.Errorf("%w: decompressing %s: %v", ErrBucketCorrupt, path, derr)
			}
			return io.NopCloser(bytes.NewReader(decompressed)), nil
		}
		lastErr = err
		time.Sleep(time.Millisecond * time.Duration(1<<attempt))
	}
	return nil, fmt.Errorf("%w: reading %s: %v", ErrIoError, path, lastErr)
}
