package tuple

import (
	"fmt"

	"digby/pkg/freepage"
	"digby/pkg/page"
)

// OverflowTuple is the form stored in an overflow chain when a tuple's
// key or value (or both) is too large to live inline: same fields as
// Tuple but with u32 length prefixes, per spec §3.
type OverflowTuple struct {
	Key     []byte
	Value   []byte
	Version uint64
	Tag     OverflowTag
}

// overflowTupleHeaderSize is the u32|u32|8-byte prefix before key/value.
const overflowTupleHeaderSize = 4 + 4 + 8

// EncodeOverflowTuple serializes ot for storage in an overflow chain.
func EncodeOverflowTuple(ot OverflowTuple) []byte {
	buf := make([]byte, overflowTupleHeaderSize, overflowTupleHeaderSize+len(ot.Key)+len(ot.Value))
	putU32(buf[0:4], uint32(len(ot.Key)))
	putU32(buf[4:8], uint32(len(ot.Value)))
	var tmp [page.HeaderSize]byte
	page.EncodeHeader(tmp[:], page.Header{Version: ot.Version, Type: page.Type(ot.Tag)})
	copy(buf[8:16], tmp[8:16])
	buf = append(buf, ot.Key...)
	buf = append(buf, ot.Value...)
	return buf
}

// DecodeOverflowTuple deserializes a full overflow-tuple byte sequence
// (the concatenation of a chain's segments).
func DecodeOverflowTuple(buf []byte) OverflowTuple {
	keyLen := getU32(buf[0:4])
	valLen := getU32(buf[4:8])
	var tmp [page.HeaderSize]byte
	copy(tmp[8:16], buf[8:16])
	h := page.DecodeHeader(tmp[:])
	off := overflowTupleHeaderSize
	key := append([]byte(nil), buf[off:off+int(keyLen)]...)
	off += int(keyLen)
	val := append([]byte(nil), buf[off:off+int(valLen)]...)
	return OverflowTuple{Key: key, Value: val, Version: h.Version, Tag: OverflowTag(h.Type)}
}

// overflowPageHeaderSize is the page header (16) + next_page_no (8) +
// chunk length (4), before the chunk's raw bytes.
const overflowPageHeaderSize = page.HeaderSize + 8 + 4

// Handler chunks OverflowTuple byte sequences across a chain of
// page.Overflow pages and reassembles them, per spec §4.6. Grounded on
// original_source/src/overflow_page_handler.rs for the tail-first write
// order and next-pointer chaining.
type Handler struct {
	cache   *page.Cache
	tracker *freepage.Tracker
	version uint64
}

// NewHandler builds an overflow handler bound to one commit's page
// cache, free-page tracker and new version.
func NewHandler(cache *page.Cache, tracker *freepage.Tracker, version uint64) *Handler {
	return &Handler{cache: cache, tracker: tracker, version: version}
}

// Store chunks ot into segments and writes them tail-first: the last
// segment is written first with next=0; each preceding segment's next
// points at the already-written successor. Returns the page number of
// the segment holding the start of the tuple.
func (h *Handler) Store(ot OverflowTuple) (uint64, error) {
	data := EncodeOverflowTuple(ot)
	chunkSize := h.cache.PageSize() - overflowPageHeaderSize
	if chunkSize <= 0 {
		return 0, fmt.Errorf("digby: page too small to hold any overflow data")
	}

	var chunks [][]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	if len(chunks) == 0 {
		chunks = append(chunks, nil)
	}

	pageNos := make([]uint64, len(chunks))
	for i := range chunks {
		pageNo, err := h.tracker.Alloc()
		if err != nil {
			return 0, err
		}
		pageNos[i] = pageNo
	}

	var next uint64
	for i := len(chunks) - 1; i >= 0; i-- {
		buf := make([]byte, h.cache.PageSize())
		page.EncodeHeader(buf, page.Header{PageNo: pageNos[i], Version: h.version, Type: page.Overflow})
		putU64(buf[page.HeaderSize:], next)
		putU32(buf[page.HeaderSize+8:], uint32(len(chunks[i])))
		copy(buf[overflowPageHeaderSize:], chunks[i])
		if err := h.cache.PutPage(buf); err != nil {
			return 0, err
		}
		next = pageNos[i]
	}
	return pageNos[0], nil
}

// Load walks the chain starting at headPageNo, concatenating each
// segment's bytes, and deserializes the result.
func (h *Handler) Load(headPageNo uint64) (OverflowTuple, error) {
	var data []byte
	pageNo := headPageNo
	for pageNo != 0 {
		buf, err := h.cache.GetPage(pageNo)
		if err != nil {
			return OverflowTuple{}, err
		}
		next := getU64(buf[page.HeaderSize:])
		chunkLen := getU32(buf[page.HeaderSize+8:])
		data = append(data, buf[overflowPageHeaderSize:overflowPageHeaderSize+int(chunkLen)]...)
		pageNo = next
	}
	return DecodeOverflowTuple(data), nil
}

// DeleteChain retires every page in t's overflow chain, if any. Only
// TagValueOverflow/TagKeyOverflow/TagKeyValueOverflow route through an
// external chain; TagNone and TagValueCompressed keep their bytes
// in-tree (the latter LZ4-compressed in place, per Resolve) and have
// nothing to retire.
func (h *Handler) DeleteChain(t Tuple) error {
	switch t.Tag {
	case TagValueOverflow, TagKeyOverflow, TagKeyValueOverflow:
	default:
		return nil
	}
	headPageNo := getU64(t.Value)
	pageNo := headPageNo
	for pageNo != 0 {
		buf, err := h.cache.GetPage(pageNo)
		if err != nil {
			return err
		}
		next := getU64(buf[page.HeaderSize:])
		h.tracker.Retire(pageNo)
		pageNo = next
	}
	return nil
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
