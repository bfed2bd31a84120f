// Package dberrors defines the error taxonomy shared by every layer of
// digby (file, block, page, free-page, tuple, tree and master). Every
// corruption or mismatch condition is fatal to the handle that raised it;
// callers compare with errors.Is against these sentinels.
package dberrors

import "errors"

var (
	// ErrIO wraps an underlying I/O failure from the file layer.
	ErrIO = errors.New("digby: i/o error")

	// ErrOutOfRange is returned when a block number is beyond the file's
	// current block count.
	ErrOutOfRange = errors.New("digby: block number out of range")

	// ErrCorruptGeometry means the file size is not a multiple of the
	// configured block size.
	ErrCorruptGeometry = errors.New("digby: file size is not a multiple of the block size")

	// ErrCorruptPage means a block's integrity envelope (checksum or
	// AES-GCM authentication tag) failed to verify on read.
	ErrCorruptPage = errors.New("digby: page failed integrity check")

	// ErrInvalidMagic means the DbRoot page's magic number did not match.
	ErrInvalidMagic = errors.New("digby: invalid database magic number")

	// ErrSanityMismatch means the caller's requested block envelope mode
	// does not match the mode recorded in the DbRoot page.
	ErrSanityMismatch = errors.New("digby: sanity mode mismatch")

	// ErrCompressionMismatch means the caller's requested compression
	// mode does not match the mode recorded in the DbRoot page.
	ErrCompressionMismatch = errors.New("digby: compression mode mismatch")

	// ErrKeyTooLarge means a key is at or beyond 2^32 bytes.
	ErrKeyTooLarge = errors.New("digby: key too large")

	// ErrValueTooLarge means a value is at or beyond 2^32 bytes.
	ErrValueTooLarge = errors.New("digby: value too large")

	// ErrUnsupportedPageType means a page was read with a page-type byte
	// that the reader does not recognize.
	ErrUnsupportedPageType = errors.New("digby: unsupported page type")

	// ErrKeyNotFound is not part of the fatal taxonomy in §7 — ordinary
	// absence is not an error condition for Get or Delete. The overflow
	// lookup in tuple.Processor.Resolve uses it to signal "not present"
	// up the stack, and GetTable returns it for a table that does not
	// exist.
	ErrKeyNotFound = errors.New("digby: key not found")
)
