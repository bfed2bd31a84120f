// Package master implements digby's DbRoot/DbMaster pages and the
// two-master commit protocol of spec §4.10: page 0's immutable
// magic/versioning marker, the alternating current/stale master pages
// at 1 and 2, and the seven-step commit that publishes a new version.
// Grounded on pkg/dbfile/database.go's Create/Open/header
// encode-decode/validate idiom, generalized from a single
// always-current header to the spec's two-alternating-master design,
// and on original_source/src/db_root_page.rs / db_master_page.rs for
// the exact field layout.
package master

import (
	"fmt"

	"digby/pkg/block"
	"digby/pkg/dberrors"
	"digby/pkg/tuple"
)

// Magic is the fixed DbRoot magic number per spec §4.10/§6.
const Magic uint32 = 26061973

// RootPageNo, MasterAPageNo and MasterBPageNo are the well-known page
// numbers fixed at database creation (spec §3/§4.10).
const (
	RootPageNo    = 0
	MasterAPageNo = 1
	MasterBPageNo = 2
)

// Root is the decoded contents of the DbRoot page (page 0): the
// immutable magic/version/mode marker written once at creation.
type Root struct {
	MajorVersion uint16
	MinorVersion uint16
	Sanity       block.SanityMode
	Compression  tuple.CompressionType
}

// CurrentMajorVersion/CurrentMinorVersion are the format versions this
// package writes, per spec §4.10 ("currently 0,1").
const (
	CurrentMajorVersion uint16 = 0
	CurrentMinorVersion uint16 = 1
)

// EncodeRoot writes r into the first bytes of a page-0-sized buffer,
// per the exact byte offsets of spec §6. This page does not use the
// generic 16-byte Header packing beyond its page number and type byte:
// §6 places the DbRoot magic at bytes 12..16, which the spec's own
// text overlaps with the generic version_holder region (8..16) since
// DbRoot carries no real version (the page is written once and never
// re-versioned) — so this layout is bespoke to DbRoot, matching §6
// literally rather than the general Header codec pkg/page uses for
// every other page type.
func EncodeRoot(buf []byte, r Root) {
	putU64(buf[0:8], RootPageNo)
	buf[15] = byte(dbRootTypeByte)
	putU32(buf[12:16], Magic)
	putU16(buf[16:18], r.MajorVersion)
	putU16(buf[18:20], r.MinorVersion)
	buf[20] = byte(r.Sanity)
	buf[21] = byte(r.Compression)
}

// dbRootTypeByte mirrors page.DbRoot's numeric value (1). EncodeRoot
// writes it by hand because it does not use the generic page header
// codec.
const dbRootTypeByte = 1

// DecodeRoot parses the DbRoot page, validating its magic number.
func DecodeRoot(buf []byte) (Root, error) {
	magic := getU32(buf[12:16])
	if magic != Magic {
		return Root{}, fmt.Errorf("%w: got %d want %d", dberrors.ErrInvalidMagic, magic, Magic)
	}
	return Root{
		MajorVersion: getU16(buf[16:18]),
		MinorVersion: getU16(buf[18:20]),
		Sanity:       block.SanityMode(buf[20]),
		Compression:  tuple.CompressionType(buf[21]),
	}, nil
}

// Validate checks that the recovered root's sanity/compression mode
// match what the caller asked to open with, per spec §4.2/§6's
// SanityMismatch/CompressionMismatch errors.
func (r Root) Validate(wantSanity block.SanityMode, wantCompression tuple.CompressionType) error {
	if r.Sanity != wantSanity {
		return fmt.Errorf("%w: database was created with mode %d, opened with %d", dberrors.ErrSanityMismatch, r.Sanity, wantSanity)
	}
	if r.Compression != wantCompression {
		return fmt.Errorf("%w: database was created with compression %d, opened with %d", dberrors.ErrCompressionMismatch, r.Compression, wantCompression)
	}
	return nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
