package page

import (
	"fmt"

	"digby/pkg/block"
	"digby/pkg/dberrors"
)

// Cache is digby's page cache. Per spec §4.3 it is intentionally
// pass-through: every GetPage returns a freshly owned copy and PutPage
// writes straight through the block layer — there is no write-back
// buffering, so an in-flight commit's dirty pages are never visible to
// anyone until the final master write publishes them. Grounded on
// pkg/pager.Pager's cache-miss path, simplified to drop the LRU/dirty
// bookkeeping a write-back cache would need.
type Cache struct {
	file     *block.File
	envelope block.Envelope
}

// NewCache builds a pass-through page cache over an opened file and its
// chosen integrity envelope.
func NewCache(file *block.File, envelope block.Envelope) *Cache {
	return &Cache{file: file, envelope: envelope}
}

// PageSize is the usable page size (block size minus envelope trailer).
func (c *Cache) PageSize() int {
	return c.envelope.PageSize()
}

// GetPage returns an owned copy of the page at pageNo, verifying its
// integrity envelope. A verification failure is fatal (dberrors.ErrCorruptPage).
func (c *Cache) GetPage(pageNo uint64) ([]byte, error) {
	blockBytes, err := c.file.ReadBlock(pageNo)
	if err != nil {
		return nil, err
	}
	pageBytes, err := c.envelope.Open(blockBytes)
	if err != nil {
		return nil, err
	}
	if got := DecodeHeader(pageBytes).PageNo; got != pageNo {
		return nil, fmt.Errorf("%w: page %d has header page number %d", dberrors.ErrCorruptPage, pageNo, got)
	}
	return pageBytes, nil
}

// PutPage writes pageBytes (whose header must already carry the correct
// page number) through the block layer via the integrity envelope.
func (c *Cache) PutPage(pageBytes []byte) error {
	h := DecodeHeader(pageBytes)
	blockBytes, err := c.envelope.Seal(pageBytes)
	if err != nil {
		return err
	}
	return c.file.WriteBlock(h.PageNo, blockBytes)
}

// GenerateFreePages extends the file by n blocks, writes each as a Free
// page (with a valid integrity envelope so later reads succeed),
// fdatasyncs, and returns the new page numbers. Invoked by the
// free-page tracker when it runs dry (spec §4.4 step 3).
func (c *Cache) GenerateFreePages(n int) ([]uint64, error) {
	pageNos := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		pageNo := c.file.BlockCount()
		buf := make([]byte, c.PageSize())
		EncodeHeader(buf, Header{PageNo: pageNo, Version: 0, Type: Free})
		blockBytes, err := c.envelope.Seal(buf)
		if err != nil {
			return nil, err
		}
		if err := c.file.AppendNewPage(blockBytes, pageNo); err != nil {
			return nil, err
		}
		pageNos = append(pageNos, pageNo)
	}
	if err := c.file.Fdatasync(); err != nil {
		return nil, err
	}
	return pageNos, nil
}
