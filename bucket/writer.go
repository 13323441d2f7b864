package bucket

import (
	"bytes"
	"os"

	"github.com/c2h5oh/datasize"
)

// DefaultFlushThreshold is how large the merge engine's output buffer may
// grow before Writer forces a checkpoint flush, per spec.md §4.2.
var DefaultFlushThreshold = 4 * datasize.MB

// Writer accumulates a canonical BucketEntry record stream for the merge
// engine's output, periodically flushing an atomic checkpoint of progress
// so a crash never leaves a half-written file on disk (spec.md §4.2).
// Resumption of an in-flight merge always restarts from its recipe, never
// from a checkpoint's partial bytes; Writer's checkpoint exists purely for
// crash-consistency of the scratch file itself.
type Writer struct {
	dir            string
	scratchPath    string
	buf            bytes.Buffer
	count          int
	flushThreshold datasize.ByteSize
	sinceFlush     int
}

// NewWriter begins a new output stream under dir.
func NewWriter(dir string) *Writer {
	f, _ := os.CreateTemp("", "bucketstore-merge-*.scratch")
	path := ""
	if f != nil {
		path = f.Name()
		f.Close()
	}
	return &Writer{dir: dir, scratchPath: path, flushThreshold: DefaultFlushThreshold}
}

// WriteEntry appends e to the output stream.
func (w *Writer) WriteEntry(e Entry) error {
	if err := EncodeEntry(&w.buf, e); err != nil {
		return err
	}
	if e.Kind != KindMeta {
		w.count++
	}
	w.sinceFlush++
	if datasize.ByteSize(w.buf.Len()) >= w.flushThreshold {
		return w.Flush()
	}
	return nil
}

// Flush atomically persists the buffer accumulated so far to a scratch
// path. It does not affect Finish's result; it is purely a durability
// checkpoint of in-progress bytes.
func (w *Writer) Flush() error {
	if w.scratchPath == "" || w.sinceFlush == 0 {
		return nil
	}
	if err := flushCheckpoint(w.scratchPath, w.buf.Bytes()); err != nil {
		return err
	}
	w.sinceFlush = 0
	return nil
}

// Finish hashes the complete canonical stream and publishes it as the
// output bucket, then discards the scratch file.
func (w *Writer) Finish() (*Bucket, error) {
	defer w.cleanupScratch()
	if w.buf.Len() == 0 {
		return Empty, nil
	}
	return Adopt(w.dir, w.buf.Bytes(), w.count)
}

// Abort discards the writer's progress without publishing anything,
// called when a merge is cancelled (FutureBucket Running -> Clear).
func (w *Writer) Abort() {
	w.cleanupScratch()
}

func (w *Writer) cleanupScratch() {
	if w.scratchPath != "" {
		os.Remove(w.scratchPath)
	}
}

// Count returns the number of non-META records written so far.
func (w *Writer) Count() int { return w.count }
