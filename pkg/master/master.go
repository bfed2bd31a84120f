package master

import "digby/pkg/page"

// Master is the decoded contents of one DbMaster page (page 1 or 2):
// the commit version, the two tree roots, and the free-page directory
// head, per spec §4.10/§6.
type Master struct {
	PageNo               uint64
	Version              uint64
	GlobalTreeRootPageNo uint64
	TableDirPageNo       uint64
	FreePageDirPageNo    uint64
}

// EncodeMaster writes m's full page body (header + 3 u64 fields) into buf.
func EncodeMaster(buf []byte, m Master) {
	page.EncodeHeader(buf, page.Header{PageNo: m.PageNo, Version: m.Version, Type: page.DbMaster})
	off := page.HeaderSize
	putU64(buf[off:], m.GlobalTreeRootPageNo)
	off += 8
	putU64(buf[off:], m.TableDirPageNo)
	off += 8
	putU64(buf[off:], m.FreePageDirPageNo)
}

// DecodeMaster parses a DbMaster page body.
func DecodeMaster(buf []byte) Master {
	h := page.DecodeHeader(buf)
	off := page.HeaderSize
	globalTreeRoot := getU64(buf[off:])
	off += 8
	tableDir := getU64(buf[off:])
	off += 8
	freeDir := getU64(buf[off:])
	return Master{
		PageNo:               h.PageNo,
		Version:              h.Version,
		GlobalTreeRootPageNo: globalTreeRoot,
		TableDirPageNo:       tableDir,
		FreePageDirPageNo:    freeDir,
	}
}

// OtherSlot returns the master page number this master is NOT
// currently occupying — the slot the next commit must write to, per
// spec §4.10's "flip 1<->2".
func (m Master) OtherSlot() uint64 {
	if m.PageNo == MasterAPageNo {
		return MasterBPageNo
	}
	return MasterAPageNo
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
