package block

import (
	"fmt"

	"github.com/OneOfOne/xxhash"

	"digby/pkg/dberrors"
)

// checksumEnvelope implements Envelope using a trailing 4-byte xxh32
// checksum (seed 0) over the page bytes, per spec §4.2.
type checksumEnvelope struct {
	blockSize int
}

func newChecksumEnvelope(blockSize int) *checksumEnvelope {
	return &checksumEnvelope{blockSize: blockSize}
}

func (e *checksumEnvelope) PageSize() int {
	return e.blockSize - checksumTrailerSize
}

func (e *checksumEnvelope) Seal(page []byte) ([]byte, error) {
	if len(page) != e.PageSize() {
		return nil, fmt.Errorf("digby: checksum envelope: page size %d != %d", len(page), e.PageSize())
	}
	block := make([]byte, e.blockSize)
	copy(block, page)
	sum := xxhash.Checksum32S(page, 0)
	putUint32LE(block[e.PageSize():], sum)
	return block, nil
}

func (e *checksumEnvelope) Open(blockBytes []byte) ([]byte, error) {
	if len(blockBytes) != e.blockSize {
		return nil, fmt.Errorf("digby: checksum envelope: block size %d != %d", len(blockBytes), e.blockSize)
	}
	pageSize := e.PageSize()
	page := blockBytes[:pageSize]
	want := getUint32LE(blockBytes[pageSize:])
	got := xxhash.Checksum32S(page, 0)
	if got != want {
		return nil, fmt.Errorf("%w: xxh32 mismatch (want %08x got %08x)", dberrors.ErrCorruptPage, want, got)
	}
	out := make([]byte, pageSize)
	copy(out, page)
	return out, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func errUnsupportedSanityMode(mode SanityMode) error {
	return fmt.Errorf("digby: unsupported sanity mode %d", mode)
}
