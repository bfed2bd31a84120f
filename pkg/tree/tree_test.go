package tree_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"digby/pkg/block"
	"digby/pkg/freepage"
	"digby/pkg/leaf"
	"digby/pkg/page"
	"digby/pkg/tree"
	"digby/pkg/tuple"
)

// testHarness wires one page cache plus a free-page tracker seeded from
// a handwritten FreeDir, mirroring pkg/tuple's newTestProcessor helper.
type testHarness struct {
	t         *testing.T
	cache     *page.Cache
	headPage  uint64
	version   uint64
}

func newHarness(t *testing.T, blockSize int) *testHarness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "digby.db")
	f, err := block.OpenFile(path, blockSize)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	envelope, err := block.NewEnvelope(block.SanityChecksum, nil, blockSize)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	cache := page.NewCache(f, envelope)

	headPageNos, err := cache.GenerateFreePages(1)
	if err != nil {
		t.Fatalf("GenerateFreePages: %v", err)
	}
	head := headPageNos[0]
	buf := make([]byte, cache.PageSize())
	freepage.Encode(buf, head, 0, freepage.FreeDir{})
	if err := cache.PutPage(buf); err != nil {
		t.Fatalf("PutPage seed FreeDir: %v", err)
	}

	return &testHarness{t: t, cache: cache, headPage: head}
}

// newRoot allocates and writes a fresh empty leaf via a throwaway
// tracker, returning its page number to seed the first commit's root.
func (h *testHarness) newRoot() uint64 {
	h.t.Helper()
	tracker, err := freepage.NewTracker(h.cache, h.headPage, 0)
	if err != nil {
		h.t.Fatalf("NewTracker: %v", err)
	}
	pageNo, err := tracker.Alloc()
	if err != nil {
		h.t.Fatalf("Alloc: %v", err)
	}
	l := leaf.New(pageNo, 0, h.cache.PageSize())
	buf := make([]byte, h.cache.PageSize())
	l.Encode(buf)
	if err := h.cache.PutPage(buf); err != nil {
		h.t.Fatalf("PutPage root leaf: %v", err)
	}
	records, err := tracker.Finalize()
	if err != nil {
		h.t.Fatalf("Finalize: %v", err)
	}
	h.writeFreeDirRecords(records)
	return pageNo
}

func (h *testHarness) writeFreeDirRecords(records []freepage.Record) {
	h.t.Helper()
	for _, r := range records {
		buf := make([]byte, h.cache.PageSize())
		freepage.Encode(buf, r.PageNo, r.Version, r.FreeDir)
		if err := h.cache.PutPage(buf); err != nil {
			h.t.Fatalf("PutPage free dir record: %v", err)
		}
		h.headPage = r.PageNo
	}
}

// commit runs one mutation against rootPageNo at the next version and
// returns the new root page number, publishing the tracker's free-page
// bookkeeping the same way pkg/master.Commit would.
func (h *testHarness) commit(mutate func(tp *tree.Processor, version uint64) (uint64, error)) uint64 {
	h.t.Helper()
	h.version++
	tracker, err := freepage.NewTracker(h.cache, h.headPage, h.version)
	if err != nil {
		h.t.Fatalf("NewTracker: %v", err)
	}
	overflow := tuple.NewHandler(h.cache, tracker, h.version)
	tupleProc := tuple.NewProcessor(64, nil, overflow, h.version)
	tp := tree.NewProcessor(h.cache, tracker, tupleProc, overflow, h.version)

	newRoot, err := mutate(tp, h.version)
	if err != nil {
		h.t.Fatalf("mutate: %v", err)
	}
	records, err := tracker.Finalize()
	if err != nil {
		h.t.Fatalf("Finalize: %v", err)
	}
	h.writeFreeDirRecords(records)
	return newRoot
}

func (h *testHarness) get(rootPageNo uint64, key []byte) ([]byte, bool) {
	h.t.Helper()
	overflow := tuple.NewHandler(h.cache, nil, 0)
	tupleProc := tuple.NewProcessor(64, nil, overflow, 0)
	tp := tree.NewProcessor(h.cache, nil, tupleProc, overflow, 0)
	value, found, err := tp.Get(rootPageNo, key)
	if err != nil {
		h.t.Fatalf("Get(%q): %v", key, err)
	}
	return value, found
}

func TestTreeInsertAndGetRoundTrip(t *testing.T) {
	h := newHarness(t, 256)
	root := h.newRoot()

	root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
		return tp.Insert(root, []byte("alpha"), []byte("1"))
	})
	root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
		return tp.Insert(root, []byte("beta"), []byte("2"))
	})

	if v, ok := h.get(root, []byte("alpha")); !ok || string(v) != "1" {
		t.Fatalf("Get(alpha) = %q, ok=%v", v, ok)
	}
	if v, ok := h.get(root, []byte("beta")); !ok || string(v) != "2" {
		t.Fatalf("Get(beta) = %q, ok=%v", v, ok)
	}
	if _, ok := h.get(root, []byte("gamma")); ok {
		t.Fatalf("Get(gamma) found a key that was never inserted")
	}
}

func TestTreeInsertForcesSplitsAndStaysOrdered(t *testing.T) {
	h := newHarness(t, 128) // small page to force splits quickly
	root := h.newRoot()

	const n = 256
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
			return tp.Insert(root, key, value)
		})
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := []byte(fmt.Sprintf("value-%04d", i))
		got, ok := h.get(root, key)
		if !ok {
			t.Fatalf("Get(%s) not found after %d inserts", key, n)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestTreeDeleteReverseOrderEmptiesTree(t *testing.T) {
	h := newHarness(t, 128)
	root := h.newRoot()

	const n = 256
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		key := keys[i]
		root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
			return tp.Insert(root, key, value)
		})
	}

	for i := n - 1; i >= 0; i-- {
		key := keys[i]
		var deleted bool
		root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
			newRoot, ok, err := tp.Delete(root, key)
			deleted = ok
			return newRoot, err
		})
		if !deleted {
			t.Fatalf("Delete(%s) reported not found", key)
		}
		if _, ok := h.get(root, key); ok {
			t.Fatalf("Get(%s) still found immediately after its deletion", key)
		}
	}

	if _, ok := h.get(root, keys[0]); ok {
		t.Fatalf("tree should be empty after deleting every key")
	}
}

func TestTreeDeleteMissingKeyIsNoop(t *testing.T) {
	h := newHarness(t, 256)
	root := h.newRoot()
	root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
		return tp.Insert(root, []byte("only"), []byte("value"))
	})

	newRoot := h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
		r, ok, err := tp.Delete(root, []byte("missing"))
		if ok {
			t.Fatalf("Delete(missing) reported found")
		}
		return r, err
	})
	if v, ok := h.get(newRoot, []byte("only")); !ok || string(v) != "value" {
		t.Fatalf("surviving key lost after a no-op delete: %q, ok=%v", v, ok)
	}
}

func TestTreeOverflowKeyAndValueRoundTrip(t *testing.T) {
	h := newHarness(t, 4096) // a 255-byte short key does not fit a 256-byte block's leaf
	root := h.newRoot()

	bigKey := bytes.Repeat([]byte("k"), 500)
	bigValue := bytes.Repeat([]byte("v"), 2000)

	root = h.commit(func(tp *tree.Processor, version uint64) (uint64, error) {
		return tp.Insert(root, bigKey, bigValue)
	})

	got, ok := h.get(root, bigKey)
	if !ok {
		t.Fatalf("Get(bigKey) not found")
	}
	if !bytes.Equal(got, bigValue) {
		t.Fatalf("Get(bigKey) round trip mismatch, len(got)=%d len(want)=%d", len(got), len(bigValue))
	}
}
