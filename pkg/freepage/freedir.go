// Package freepage implements digby's free-page tracker and the on-disk
// FreeDir linked list it publishes at commit finalization, per spec
// §4.4. Grounded on pkg/pager/freelist.go's FreelistTrunkPage
// (trunk/leaf linked list, Encode/Decode, IsFull/AddLeaf/PopLeaf idiom)
// generalized from a singly-linked SQLite-style trunk list to the
// spec's doubly-linked FreeDir chain with a 34-byte header.
package freepage

import (
	"digby/pkg/page"
)

const (
	// freeDirHeaderSize is 16 (page header) + 8 (previous) + 8 (next) +
	// 2 (entries count), per spec §9's Open Questions resolution.
	freeDirHeaderSize = page.HeaderSize + 8 + 8 + 2
	entrySize         = 8 // each free page number is a u64
)

// FreeDir is the in-memory view of a free-page directory page: a node
// in a doubly-linked list (via Previous/Next) whose Entries are page
// numbers of pages currently Free and not reachable from the current
// master.
type FreeDir struct {
	Previous uint64
	Next     uint64
	Entries  []uint64
}

// Capacity returns the maximum number of entries a FreeDir page of the
// given usable page size can hold.
func Capacity(pageSize int) int {
	return (pageSize - freeDirHeaderSize) / entrySize
}

// Full reports whether this FreeDir has no more room for entries.
func (fd *FreeDir) Full(pageSize int) bool {
	return len(fd.Entries) >= Capacity(pageSize)
}

// TryAdd appends pageNo if there is room, reporting whether it fit.
func (fd *FreeDir) TryAdd(pageNo uint64, pageSize int) bool {
	if fd.Full(pageSize) {
		return false
	}
	fd.Entries = append(fd.Entries, pageNo)
	return true
}

// Pop removes and returns the last entry (LIFO, matching the teacher's
// FreelistTrunkPage.PopLeaf idiom).
func (fd *FreeDir) Pop() (uint64, bool) {
	if len(fd.Entries) == 0 {
		return 0, false
	}
	last := fd.Entries[len(fd.Entries)-1]
	fd.Entries = fd.Entries[:len(fd.Entries)-1]
	return last, true
}

// Encode writes this FreeDir, including its page header, into buf.
func Encode(buf []byte, pageNo, version uint64, fd FreeDir) {
	page.EncodeHeader(buf, page.Header{PageNo: pageNo, Version: version, Type: page.FreeDir})
	off := page.HeaderSize
	putU64(buf[off:], fd.Previous)
	off += 8
	putU64(buf[off:], fd.Next)
	off += 8
	putU16(buf[off:], uint16(len(fd.Entries)))
	off += 2
	for _, e := range fd.Entries {
		putU64(buf[off:], e)
		off += entrySize
	}
}

// Decode reads a FreeDir (without its page header, which the caller
// decodes separately via page.DecodeHeader) from buf.
func Decode(buf []byte) FreeDir {
	off := page.HeaderSize
	previous := getU64(buf[off:])
	off += 8
	next := getU64(buf[off:])
	off += 8
	count := getU16(buf[off:])
	off += 2
	entries := make([]uint64, count)
	for i := 0; i < int(count); i++ {
		entries[i] = getU64(buf[off:])
		off += entrySize
	}
	return FreeDir{Previous: previous, Next: next, Entries: entries}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
