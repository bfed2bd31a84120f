// Package leaf implements digby's slotted B+-tree leaf page: a sorted
// array of tuples addressed through a growing slot-offset index, per
// spec §4.7. Grounded on pkg/btree/node.go's slotted-page shape (header
// + growing cell-pointer array + growing-downward cell content + a
// free middle region) — generalized here from a fixed 12-byte SQLite
// header to the spec's 20-byte leaf header and from single-cell insert
// to the "rewrite sorted from scratch" store/delete/split policy.
package leaf

import (
	"bytes"
	"sort"

	"digby/pkg/page"
	"digby/pkg/tuple"
)

// HeaderSize is the 16-byte page header plus entries (u16) and
// free_space (u16), per spec §4.7.
const HeaderSize = page.HeaderSize + 2 + 2

const slotSize = 2

// Leaf is the in-memory view of a leaf page body: the decoded header
// fields plus the tuples currently stored on it, kept sorted by key.
// Encode rewrites the whole page from this slice, matching the spec's
// "gather, sort, rewrite from scratch" mutation policy.
type Leaf struct {
	PageNo   uint64
	Version  uint64
	PageSize int
	Tuples   []tuple.Tuple
}

// New builds an empty leaf for a fresh page number/version.
func New(pageNo, version uint64, pageSize int) *Leaf {
	return &Leaf{PageNo: pageNo, Version: version, PageSize: pageSize}
}

// Decode parses a leaf page's body (pageSize bytes, including its
// header) into a Leaf.
func Decode(buf []byte) *Leaf {
	h := page.DecodeHeader(buf)
	entries := int(getU16(buf[page.HeaderSize:]))
	slotBase := HeaderSize
	tuples := make([]tuple.Tuple, 0, entries)
	for i := 0; i < entries; i++ {
		off := getU16(buf[slotBase+i*slotSize:])
		t, _ := tuple.Decode(buf[off:])
		tuples = append(tuples, t)
	}
	return &Leaf{PageNo: h.PageNo, Version: h.Version, PageSize: len(buf), Tuples: tuples}
}

// freeSpace returns the number of bytes left in the free middle region
// for a leaf holding the given tuples, at this page's PageSize.
func (l *Leaf) freeSpace(tuples []tuple.Tuple) int {
	used := HeaderSize + len(tuples)*slotSize
	for _, t := range tuples {
		used += tuple.Size(t)
	}
	return l.PageSize - used
}

// FreeSpace returns the current free middle-region size.
func (l *Leaf) FreeSpace() int {
	return l.freeSpace(l.Tuples)
}

// CanFit reports whether a tuple of n serialized bytes can be stored
// without a split, per spec §4.7: free_space >= n + 2 (the new slot).
func (l *Leaf) CanFit(n int) bool {
	return l.FreeSpace() >= n+slotSize
}

// Encode rewrites this leaf's full page body into buf (len(buf) must
// equal l.PageSize), tuples growing downward from HeaderSize+slots and
// the slot index growing upward from HeaderSize.
func (l *Leaf) Encode(buf []byte) {
	page.EncodeHeader(buf, page.Header{PageNo: l.PageNo, Version: l.Version, Type: page.TreeLeaf})
	putU16(buf[page.HeaderSize:], uint16(len(l.Tuples)))

	slotBase := HeaderSize
	dataOff := l.PageSize
	for i, t := range l.Tuples {
		dataOff -= tuple.Size(t)
		body := tuple.Encode(nil, t)
		copy(buf[dataOff:], body)
		putU16(buf[slotBase+i*slotSize:], uint16(dataOff))
	}
	free := dataOff - (slotBase + len(l.Tuples)*slotSize)
	putU16(buf[page.HeaderSize+2:], uint16(free))
}

// find returns the index of key within l.Tuples (sorted ascending) and
// whether it was found.
func (l *Leaf) find(key []byte) (int, bool) {
	i := sort.Search(len(l.Tuples), func(i int) bool {
		return bytes.Compare(l.Tuples[i].Key, key) >= 0
	})
	if i < len(l.Tuples) && bytes.Equal(l.Tuples[i].Key, key) {
		return i, true
	}
	return i, false
}

// Get returns the tuple stored under key, if any.
func (l *Leaf) Get(key []byte) (tuple.Tuple, bool) {
	i, ok := l.find(key)
	if !ok {
		return tuple.Tuple{}, false
	}
	return l.Tuples[i], true
}

// Store inserts t, replacing any existing tuple with the same key.
// Returns the tuple that was evicted by the replacement, if any — the
// caller must retire its overflow chain (spec §4.9). Store does not
// check CanFit; a leaf left over-full must be split by the caller
// before it is encoded.
func (l *Leaf) Store(t tuple.Tuple) (evicted tuple.Tuple, hadEvicted bool) {
	i, found := l.find(t.Key)
	if found {
		evicted = l.Tuples[i]
		l.Tuples[i] = t
		return evicted, true
	}
	l.Tuples = append(l.Tuples, tuple.Tuple{})
	copy(l.Tuples[i+1:], l.Tuples[i:])
	l.Tuples[i] = t
	return tuple.Tuple{}, false
}

// Delete removes the tuple stored under key, if present, returning it.
func (l *Leaf) Delete(key []byte) (tuple.Tuple, bool) {
	i, found := l.find(key)
	if !found {
		return tuple.Tuple{}, false
	}
	t := l.Tuples[i]
	l.Tuples = append(l.Tuples[:i], l.Tuples[i+1:]...)
	return t, true
}

// SplitRightHalf removes the upper half of this leaf's tuples
// (ceil(n/2)..n) and returns them, per spec §4.7's split policy.
func (l *Leaf) SplitRightHalf() []tuple.Tuple {
	n := len(l.Tuples)
	mid := (n + 1) / 2
	right := append([]tuple.Tuple(nil), l.Tuples[mid:]...)
	l.Tuples = l.Tuples[:mid]
	return right
}

// Empty reports whether this leaf holds no tuples.
func (l *Leaf) Empty() bool {
	return len(l.Tuples) == 0
}

// FirstKey returns the key of this leaf's lowest tuple, used by the
// tree processor to build the directory entry routing to this leaf.
func (l *Leaf) FirstKey() []byte {
	if len(l.Tuples) == 0 {
		return nil
	}
	return l.Tuples[0].Key
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
