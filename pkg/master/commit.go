package master

import (
	"fmt"

	"digby/pkg/block"
	"digby/pkg/dberrors"
	"digby/pkg/freepage"
	"digby/pkg/leaf"
	"digby/pkg/page"
	"digby/pkg/tuple"
)

// initialFreePageCount is the 10 blocks spec §4.10's empty-file
// initialization extends the file by.
const initialFreePageCount = 10

// CreateEmpty performs spec §4.10's "Initialization (empty file)"
// sequence: extend by 10 free pages, write the two leaf roots, the
// free-page directory, both master pages, fdatasync, then write the
// DbRoot marker and fdatasync again. file must be empty (zero blocks).
func CreateEmpty(file *block.File, cache *page.Cache, sanity block.SanityMode, compression tuple.CompressionType) error {
	if file.BlockCount() != 0 {
		return fmt.Errorf("digby: CreateEmpty requires an empty file, got %d blocks", file.BlockCount())
	}

	pageNos, err := cache.GenerateFreePages(initialFreePageCount)
	if err != nil {
		return err
	}
	if len(pageNos) != initialFreePageCount || pageNos[0] != RootPageNo {
		return fmt.Errorf("digby: unexpected initial page numbering %v", pageNos)
	}

	pageSize := cache.PageSize()

	globalRoot := leaf.New(5, 0, pageSize)
	globalBuf := make([]byte, pageSize)
	globalRoot.Encode(globalBuf)
	if err := cache.PutPage(globalBuf); err != nil {
		return err
	}

	tableDirRoot := leaf.New(4, 0, pageSize)
	tableDirBuf := make([]byte, pageSize)
	tableDirRoot.Encode(tableDirBuf)
	if err := cache.PutPage(tableDirBuf); err != nil {
		return err
	}

	freeDir := freepage.FreeDir{Entries: []uint64{6, 7, 8, 9}}
	freeDirBuf := make([]byte, pageSize)
	freepage.Encode(freeDirBuf, 3, 0, freeDir)
	if err := cache.PutPage(freeDirBuf); err != nil {
		return err
	}

	masterA := Master{PageNo: MasterAPageNo, Version: 0, GlobalTreeRootPageNo: 5, TableDirPageNo: 4, FreePageDirPageNo: 3}
	masterABuf := make([]byte, pageSize)
	EncodeMaster(masterABuf, masterA)
	if err := cache.PutPage(masterABuf); err != nil {
		return err
	}

	masterB := Master{PageNo: MasterBPageNo, Version: 1, GlobalTreeRootPageNo: 5, TableDirPageNo: 4, FreePageDirPageNo: 3}
	masterBBuf := make([]byte, pageSize)
	EncodeMaster(masterBBuf, masterB)
	if err := cache.PutPage(masterBBuf); err != nil {
		return err
	}

	if err := file.Fdatasync(); err != nil {
		return err
	}

	rootBuf := make([]byte, pageSize)
	EncodeRoot(rootBuf, Root{MajorVersion: CurrentMajorVersion, MinorVersion: CurrentMinorVersion, Sanity: sanity, Compression: compression})
	if err := cache.PutPage(rootBuf); err != nil {
		return err
	}
	return file.Fdatasync()
}

// Recover performs spec §4.10's recovery: read page 0, verify it
// against the caller's requested mode, read pages 1 and 2, and return
// whichever has the larger version as current. A failed master (torn
// write) surfaces as dberrors.ErrCorruptPage from cache.GetPage on that
// one page; the surviving master is used instead.
func Recover(cache *page.Cache, wantSanity block.SanityMode, wantCompression tuple.CompressionType) (Root, Master, error) {
	rootBuf, err := cache.GetPage(RootPageNo)
	if err != nil {
		return Root{}, Master{}, err
	}
	root, err := DecodeRoot(rootBuf)
	if err != nil {
		return Root{}, Master{}, err
	}
	if err := root.Validate(wantSanity, wantCompression); err != nil {
		return Root{}, Master{}, err
	}

	masterA, errA := readMaster(cache, MasterAPageNo)
	masterB, errB := readMaster(cache, MasterBPageNo)
	switch {
	case errA != nil && errB != nil:
		return Root{}, Master{}, fmt.Errorf("%w: both master pages failed to read (a: %v, b: %v)", dberrors.ErrCorruptPage, errA, errB)
	case errA != nil:
		return root, masterB, nil
	case errB != nil:
		return root, masterA, nil
	case masterA.Version > masterB.Version:
		return root, masterA, nil
	default:
		return root, masterB, nil
	}
}

func readMaster(cache *page.Cache, pageNo uint64) (Master, error) {
	buf, err := cache.GetPage(pageNo)
	if err != nil {
		return Master{}, err
	}
	return DecodeMaster(buf), nil
}

// CommitInputs carries what a mutation produced and needs published:
// the (possibly unchanged) global tree root and table-directory root,
// and the free-page tracker's finalized directory records.
type CommitInputs struct {
	NewVersion           uint64
	GlobalTreeRootPageNo uint64
	TableDirPageNo       uint64
	FreeDirRecords       []freepage.Record
}

// Commit performs spec §4.10 steps 4-7: write the free-directory chain,
// fdatasync, flip the master to the other slot with the new payload,
// and fdatasync again. Steps 1-3 (reading the current master, building
// the tracker, and performing the tree mutation) are the caller's
// responsibility, since they depend on the tree/tuple processors.
func Commit(file *block.File, cache *page.Cache, current Master, in CommitInputs) (Master, error) {
	for _, rec := range in.FreeDirRecords {
		buf := make([]byte, cache.PageSize())
		freepage.Encode(buf, rec.PageNo, rec.Version, rec.FreeDir)
		if err := cache.PutPage(buf); err != nil {
			return Master{}, err
		}
	}
	if err := file.Fdatasync(); err != nil {
		return Master{}, err
	}

	var newFreeDirHead uint64
	if len(in.FreeDirRecords) > 0 {
		newFreeDirHead = in.FreeDirRecords[len(in.FreeDirRecords)-1].PageNo
	} else {
		newFreeDirHead = current.FreePageDirPageNo
	}

	newMaster := Master{
		PageNo:               current.OtherSlot(),
		Version:              in.NewVersion,
		GlobalTreeRootPageNo: in.GlobalTreeRootPageNo,
		TableDirPageNo:       in.TableDirPageNo,
		FreePageDirPageNo:    newFreeDirHead,
	}
	buf := make([]byte, cache.PageSize())
	EncodeMaster(buf, newMaster)
	if err := cache.PutPage(buf); err != nil {
		return Master{}, err
	}
	if err := file.Fdatasync(); err != nil {
		return Master{}, err
	}
	return newMaster, nil
}
