// Package tuple implements digby's tuple serialization and the
// overflow-tuple pipeline that lets arbitrarily large keys/values live
// outside the B+-tree leaf, per spec §4.5/§4.6. Grounded on
// pkg/record/record.go's fixed-width field codec idiom (length-prefixed
// fields over encoding/binary) and on original_source/src/tuple.rs for
// field order and widths.
package tuple

import "digby/pkg/page"

// OverflowTag is the high byte of a tuple's version_holder: it records
// whether (and how) the tuple's key/value bytes were externalized or
// compressed, per spec §3.
type OverflowTag byte

const (
	// TagNone: the tuple's key and value are stored inline, uncompressed.
	TagNone OverflowTag = 0
	// TagValueOverflow: the value field holds a page number to an
	// overflow chain; the key is inline.
	TagValueOverflow OverflowTag = 1
	// TagKeyOverflow: the in-tree key is a short_key; Value holds the
	// head page number of the overflow chain holding the full key and
	// value (the value itself may be small enough to inline, but the
	// chain reference always lives in Value once the key overflows).
	TagKeyOverflow OverflowTag = 2
	// TagKeyValueOverflow: both key and value are externalized; the
	// in-tree key is a short_key and Value holds the head page number.
	TagKeyValueOverflow OverflowTag = 3
	// TagValueCompressed: the value bytes are LZ4-compressed in place,
	// no external page.
	TagValueCompressed OverflowTag = 4
	// TagKeyValueCompressed: both key and value were compressed before
	// being placed in the overflow chain.
	TagKeyValueCompressed OverflowTag = 5
)

// Tuple is the in-tree serialized form: u16 key_len | u16 value_len |
// 8-byte version_holder (low 7 = version, high = tag) | key | value.
type Tuple struct {
	Key     []byte
	Value   []byte
	Version uint64
	Tag     OverflowTag
}

// HeaderSize is the fixed-width prefix before the key/value bytes.
const HeaderSize = 2 + 2 + 8

// Size returns the serialized byte length of t.
func Size(t Tuple) int {
	return HeaderSize + len(t.Key) + len(t.Value)
}

// Encode appends t's serialized form to buf and returns the result.
func Encode(buf []byte, t Tuple) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, HeaderSize)...)
	putU16(buf[start:], uint16(len(t.Key)))
	putU16(buf[start+2:], uint16(len(t.Value)))
	vh := page.Header{Version: t.Version, Type: page.Type(t.Tag)}
	var tmp [page.HeaderSize]byte
	page.EncodeHeader(tmp[:], vh)
	copy(buf[start+4:start+12], tmp[8:16])
	buf = append(buf, t.Key...)
	buf = append(buf, t.Value...)
	return buf
}

// Decode reads one Tuple from the front of buf and returns it along
// with the number of bytes consumed.
func Decode(buf []byte) (Tuple, int) {
	keyLen := int(getU16(buf[0:2]))
	valLen := int(getU16(buf[2:4]))
	var tmp [page.HeaderSize]byte
	copy(tmp[8:16], buf[4:12])
	h := page.DecodeHeader(tmp[:])
	off := HeaderSize
	key := append([]byte(nil), buf[off:off+keyLen]...)
	off += keyLen
	val := append([]byte(nil), buf[off:off+valLen]...)
	off += valLen
	return Tuple{Key: key, Value: val, Version: h.Version, Tag: OverflowTag(h.Type)}, off
}

// PeekKey returns the key bytes of the tuple encoded at the front of
// buf without copying or decoding the value, for use by leaf/directory
// binary search.
func PeekKey(buf []byte) []byte {
	keyLen := int(getU16(buf[0:2]))
	return buf[HeaderSize : HeaderSize+keyLen]
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
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
