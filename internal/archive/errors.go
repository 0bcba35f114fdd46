package archive

import "errors"

var (
	// ErrBadTimestamp is returned when a point's time is outside the archive range.
	ErrBadTimestamp = errors.New("timestamp outside archive range")

	// ErrBlockFull is returned when a data block has no free slots.
	ErrBlockFull = errors.New("data block is full")

	// ErrOrphan marks a point for an unknown or disabled historian id.
	ErrOrphan = errors.New("orphan data point")

	// ErrFutureData marks a point too far ahead of the local clock.
	ErrFutureData = errors.New("data point is in the future")

	// ErrOutOfSequence marks a point older than the last point seen for its id.
	ErrOutOfSequence = errors.New("out-of-sequence data point")

	ErrFileNotOpen   = errors.New("archive file is not open")
	ErrWrongFileType = errors.New("operation not supported for this archive file type")
	ErrReadOnly      = errors.New("archive file is open read-only")

	// ErrFileFull is reported when the allocation table has no free blocks.
	ErrFileFull = errors.New("archive file is full")

	// ErrNotImplemented is reported for out-of-sequence data, which is
	// accepted but not yet persisted.
	ErrNotImplemented = errors.New("out-of-sequence archival is not implemented")

	ErrNoHistoricFile = errors.New("no historic file covers the point time")
	ErrCorruptTable   = errors.New("corrupt allocation table")
)
