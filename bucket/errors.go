package bucket

import "errors"

// Error taxonomy per spec.md §7. Each is a sentinel compared with errors.Is;
// call sites wrap it with fmt.Errorf("...: %w", ErrX) to attach context.
var (
	// ErrBatchInvariantViolated: a key appeared in more than one of
	// (init, live, dead) in a single batch passed to Fresh.
	ErrBatchInvariantViolated = errors.New("bucket: batch invariant violated")

	// ErrBucketCorrupt: a bucket file's content hash does not match its
	// name, or a read failed to parse the record stream.
	ErrBucketCorrupt = errors.New("bucket: corrupt")

	// ErrIoError: an underlying disk operation failed after retrying.
	ErrIoError = errors.New("bucket: io error")

	// ErrProtocolViolation: INIT or META observed at protocol < P1.
	ErrProtocolViolation = errors.New("bucket: protocol violation")
)
