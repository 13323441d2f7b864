package bucket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/holiman/uint256"
	"github.com/ledgerwatch/bucketstore/ledger"
	"github.com/ugorji/go/codec"
)

// wireEntry is the on-the-wire shape of a BucketEntry, encoded with
// ugorji/go/codec's binary (BINC) handle. Keeping it a separate struct from
// Entry lets the wire format evolve (new optional fields) independently of
// the in-memory representation, the way the teacher keeps wire types
// (core/types) distinct from working types.
type wireEntry struct {
	Kind          uint8
	FormatVersion uint32
	KeyType       uint8
	KeyID         []byte
	LastModified  uint32
	Balance       []byte
	Body          []byte
}

var bincHandle = &codec.BincHandle{}

func toWire(e Entry) wireEntry {
	w := wireEntry{Kind: uint8(e.Kind), FormatVersion: e.FormatVersion}
	if e.Kind == KindMeta {
		return w
	}
	w.KeyType = uint8(e.Key.Type)
	w.KeyID = e.Key.ID
	if e.Live != nil {
		w.LastModified = e.Live.LastModifiedLedger
		w.Body = e.Live.Body
		if e.Live.Balance != nil {
			w.Balance = e.Live.Balance.Bytes()
		}
	}
	return w
}

func fromWire(w wireEntry) Entry {
	e := Entry{Kind: Kind(w.Kind), FormatVersion: w.FormatVersion}
	if e.Kind == KindMeta {
		return e
	}
	e.Key = ledger.Key{Type: ledger.Type(w.KeyType), ID: w.KeyID}
	if e.Kind == KindInit || e.Kind == KindLive {
		live := &ledger.Entry{LastModifiedLedger: w.LastModified, Body: w.Body}
		if len(w.Balance) > 0 {
			live.Balance = new(uint256.Int).SetBytes(w.Balance)
		}
		e.Live = live
	}
	return e
}

// EncodeEntry writes one length-prefixed, binary-encoded BucketEntry record
// to w: a 4-byte big-endian length followed by that many codec-encoded
// bytes. The length prefix is what spec.md §6 calls the "length-prefixed
// sequence" on-disk format.
func EncodeEntry(w io.Writer, e Entry) error {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, bincHandle)
	if err := enc.Encode(toWire(e)); err != nil {
		return fmt.Errorf("bucket: encode entry: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// DecodeEntry reads one length-prefixed record from r. It returns io.EOF
// (unwrapped) when r is exhausted at a record boundary, and ErrBucketCorrupt
// for a truncated record or a non-decodable payload.
func DecodeEntry(r io.Reader) (Entry, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("%w: reading record length: %v", ErrBucketCorrupt, err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, fmt.Errorf("%w: reading record body: %v", ErrBucketCorrupt, err)
	}
	var w wireEntry
	dec := codec.NewDecoderBytes(buf, bincHandle)
	if err := dec.Decode(&w); err != nil {
		return Entry{}, fmt.Errorf("%w: decoding record: %v", ErrBucketCorrupt, err)
	}
	return fromWire(w), nil
}
