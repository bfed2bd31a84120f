package block

import (
	"fmt"
	"os"

	"digby/pkg/dberrors"
)

// File is the block layer's positioned-I/O file handle, per spec §4.1.
// It knows nothing about integrity envelopes or page semantics — it
// only moves fixed-size blocks at fixed offsets, grounded on
// pkg/dbfile.Database's plain os.File ReadAt/WriteAt/Sync idiom.
type File struct {
	f          *os.File
	blockSize  int
	blockCount uint64
}

// OpenFile opens (creating if necessary) the backing file at path and
// validates that its size is a multiple of blockSize.
func OpenFile(path string, blockSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", dberrors.ErrIO, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", dberrors.ErrIO, path, err)
	}
	size := stat.Size()
	if size%int64(blockSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of block size %d", dberrors.ErrCorruptGeometry, size, blockSize)
	}
	return &File{
		f:          f,
		blockSize:  blockSize,
		blockCount: uint64(size) / uint64(blockSize),
	}, nil
}

// BlockSize returns the fixed block size this file was opened with.
func (fl *File) BlockSize() int { return fl.blockSize }

// BlockCount returns the number of blocks currently in the file.
func (fl *File) BlockCount() uint64 { return fl.blockCount }

// ReadBlock reads the block at blockNo. Fails with dberrors.ErrOutOfRange
// if blockNo >= BlockCount().
func (fl *File) ReadBlock(blockNo uint64) ([]byte, error) {
	if blockNo >= fl.blockCount {
		return nil, fmt.Errorf("%w: block %d >= count %d", dberrors.ErrOutOfRange, blockNo, fl.blockCount)
	}
	buf := make([]byte, fl.blockSize)
	if _, err := fl.f.ReadAt(buf, int64(blockNo)*int64(fl.blockSize)); err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", dberrors.ErrIO, blockNo, err)
	}
	return buf, nil
}

// WriteBlock overwrites the block at blockNo in place.
func (fl *File) WriteBlock(blockNo uint64, data []byte) error {
	if blockNo >= fl.blockCount {
		return fmt.Errorf("%w: block %d >= count %d", dberrors.ErrOutOfRange, blockNo, fl.blockCount)
	}
	if len(data) != fl.blockSize {
		return fmt.Errorf("%w: block data length %d != block size %d", dberrors.ErrIO, len(data), fl.blockSize)
	}
	if _, err := fl.f.WriteAt(data, int64(blockNo)*int64(fl.blockSize)); err != nil {
		return fmt.Errorf("%w: writing block %d: %v", dberrors.ErrIO, blockNo, err)
	}
	return nil
}

// AppendNewPage appends one block at EOF. expectedBlockNo must equal the
// file's current block count, asserting the caller's view of the file's
// length is not stale.
func (fl *File) AppendNewPage(data []byte, expectedBlockNo uint64) error {
	if expectedBlockNo != fl.blockCount {
		return fmt.Errorf("%w: append expected block %d, file has %d blocks", dberrors.ErrIO, expectedBlockNo, fl.blockCount)
	}
	if len(data) != fl.blockSize {
		return fmt.Errorf("%w: block data length %d != block size %d", dberrors.ErrIO, len(data), fl.blockSize)
	}
	if _, err := fl.f.WriteAt(data, int64(fl.blockCount)*int64(fl.blockSize)); err != nil {
		return fmt.Errorf("%w: appending block %d: %v", dberrors.ErrIO, fl.blockCount, err)
	}
	fl.blockCount++
	return nil
}

// Sync issues a full fsync durability barrier.
func (fl *File) Sync() error {
	if err := fl.f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", dberrors.ErrIO, err)
	}
	return nil
}

// Fdatasync issues an fdatasync durability barrier (data + the metadata
// needed to retrieve it, skipping non-essential metadata like mtime).
// See fdatasync_unix.go/fdatasync_other.go for the platform split.
func (fl *File) Fdatasync() error {
	if err := fdatasync(fl.f); err != nil {
		return fmt.Errorf("%w: fdatasync: %v", dberrors.ErrIO, err)
	}
	return nil
}

// Close closes the underlying file handle.
func (fl *File) Close() error {
	return fl.f.Close()
}
