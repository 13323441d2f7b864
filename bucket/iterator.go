package bucket

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/c2h5oh/datasize"
	mmap "github.com/edsrzf/mmap-go"
)

// mmapThreshold is the decoded-size cutoff above which OpenInputIterator
// spills the decompressed record stream to a scratch file and iterates
// over a memory map instead of holding it all in the Go heap.
var mmapThreshold = 8 * datasize.MB

// Iterator is a lazy, finite, restartable (by reopening) stream of
// BucketEntry records in stored ascending order (spec.md §4.1).
type Iterator struct {
	r       io.Reader
	closers []io.Closer
	cur     Entry
	err     error
	done    bool
}

// OpenInputIterator opens a fresh iterator over b's records. Each call
// reopens the file independently; iterators never share position. A hit
// in the optional decompressed-bytes cache (see EnableCache) skips
// rereading and re-decompressing the file entirely.
func (b *Bucket) OpenInputIterator() (*Iterator, error) {
	if b.IsEmpty() {
		return &Iterator{done: true}, nil
	}

	data, cached := cacheGet(b.hash)
	if !cached {
		rc, err := decompressReader(b.Path())
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading decompressed %s: %v", ErrBucketCorrupt, b.Path(), err)
		}
		cacheSet(b.hash, data)
	}

	if datasize.ByteSize(len(data)) <= mmapThreshold {
		return &Iterator{r: bytes.NewReader(data)}, nil
	}
	return openMmapIterator(data)
}

// openMmapIterator spills data to a scratch file and memory-maps it, so
// large buckets are iterated without a second heap-resident copy beyond
// the one already produced by decompression.
func openMmapIterator(data []byte) (*Iterator, error) {
	f, err := os.CreateTemp("", "bucketstore-scratch-*.dec")
	if err != nil {
		return nil, fmt.Errorf("%w: creating scratch file: %v", ErrIoError, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: writing scratch file: %v", ErrIoError, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: mmap scratch file: %v", ErrIoError, err)
	}
	name := f.Name()
	return &Iterator{
		r: bytes.NewReader([]byte(m)),
		closers: []io.Closer{
			closerFunc(func() error { return m.Unmap() }),
			f,
			closerFunc(func() error { return os.Remove(name) }),
		},
	}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Next advances the iterator, reporting whether an entry is available.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	e, err := DecodeEntry(it.r)
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.cur = e
	return true
}

// Entry returns the entry most recently produced by Next.
func (it *Iterator) Entry() Entry { return it.cur }

// Err returns the first non-EOF error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases any scratch resources (mmap, temp file) held by it.
func (it *Iterator) Close() error {
	var first error
	for i := len(it.closers) - 1; i >= 0; i-- {
		if err := it.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
