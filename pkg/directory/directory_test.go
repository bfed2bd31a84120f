package directory_test

import (
	"bytes"
	"testing"

	"digby/pkg/directory"
)

const testPageSize = 256

func TestDirectoryRouteLeftChild(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{
		{Key: []byte("m"), ChildPageNo: 200},
		{Key: []byte("t"), ChildPageNo: 300},
	}

	key, isLeft, child := d.Route([]byte("a"))
	if !isLeft || child != 100 || key != nil {
		t.Fatalf("Route(a) = (%q, %v, %d), want left_child route to 100", key, isLeft, child)
	}
}

func TestDirectoryRouteEntries(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{
		{Key: []byte("m"), ChildPageNo: 200},
		{Key: []byte("t"), ChildPageNo: 300},
	}

	key, isLeft, child := d.Route([]byte("m"))
	if isLeft || child != 200 || !bytes.Equal(key, []byte("m")) {
		t.Fatalf("Route(m) = (%q, %v, %d), want (m, false, 200)", key, isLeft, child)
	}

	key, isLeft, child = d.Route([]byte("r"))
	if isLeft || child != 200 || !bytes.Equal(key, []byte("m")) {
		t.Fatalf("Route(r) = (%q, %v, %d), want (m, false, 200)", key, isLeft, child)
	}

	key, isLeft, child = d.Route([]byte("zzz"))
	if isLeft || child != 300 || !bytes.Equal(key, []byte("t")) {
		t.Fatalf("Route(zzz) = (%q, %v, %d), want (t, false, 300)", key, isLeft, child)
	}
}

func TestDirectoryReplaceChild(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{{Key: []byte("m"), ChildPageNo: 200}}

	d.ReplaceChild(nil, true, 999)
	if d.LeftChild != 999 {
		t.Fatalf("LeftChild = %d, want 999", d.LeftChild)
	}

	d.ReplaceChild([]byte("m"), false, 888)
	if d.Entries[0].ChildPageNo != 888 {
		t.Fatalf("entry child = %d, want 888", d.Entries[0].ChildPageNo)
	}
}

func TestDirectoryAddEntriesInsertsSorted(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.AddEntries([]directory.Entry{
		{Key: []byte("m"), ChildPageNo: 200},
		{Key: []byte("b"), ChildPageNo: 50}, // not the first batch entry -> inserted in sorted order
	})
	if d.LeftChild != 100 {
		t.Fatalf("LeftChild = %d, want 100 (unchanged)", d.LeftChild)
	}
	if len(d.Entries) != 2 || string(d.Entries[0].Key) != "b" || string(d.Entries[1].Key) != "m" {
		t.Fatalf("Entries = %+v, want entries keyed b then m", d.Entries)
	}
}

func TestDirectoryAddEntriesReplacesExistingKey(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{{Key: []byte("m"), ChildPageNo: 200}}
	d.AddEntries([]directory.Entry{{Key: []byte("m"), ChildPageNo: 999}})
	if len(d.Entries) != 1 || d.Entries[0].ChildPageNo != 999 {
		t.Fatalf("Entries = %+v, want single entry replaced to 999", d.Entries)
	}
}

func TestDirectoryRemoveKeyPageLeftChild(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{
		{Key: []byte("m"), ChildPageNo: 200},
		{Key: []byte("t"), ChildPageNo: 300},
	}
	d.RemoveKeyPage(100)
	if d.LeftChild != 200 {
		t.Fatalf("LeftChild = %d, want 200 promoted from first entry", d.LeftChild)
	}
	if len(d.Entries) != 1 || string(d.Entries[0].Key) != "t" {
		t.Fatalf("Entries = %+v, want only the t entry remaining", d.Entries)
	}
}

func TestDirectoryRemoveKeyPageLastEntryEmptiesDirectory(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.RemoveKeyPage(100)
	if !d.Empty() {
		t.Fatalf("directory with no entries should be Empty() after removing its left_child")
	}
}

func TestDirectoryEncodeDecodeRoundTrip(t *testing.T) {
	d := directory.New(5, 2, testPageSize, 100)
	d.Entries = []directory.Entry{
		{Key: []byte("m"), ChildPageNo: 200},
		{Key: []byte("t"), ChildPageNo: 300},
	}
	buf := make([]byte, testPageSize)
	d.Encode(buf)

	got := directory.Decode(buf)
	if got.PageNo != 5 || got.Version != 2 || got.LeftChild != 100 {
		t.Fatalf("decoded header mismatch: %+v", got)
	}
	if len(got.Entries) != 2 || string(got.Entries[0].Key) != "m" || got.Entries[1].ChildPageNo != 300 {
		t.Fatalf("decoded entries mismatch: %+v", got.Entries)
	}
}

func TestDirectorySplitRightHalf(t *testing.T) {
	d := directory.New(1, 0, testPageSize, 100)
	d.Entries = []directory.Entry{
		{Key: []byte("a"), ChildPageNo: 1},
		{Key: []byte("b"), ChildPageNo: 2},
		{Key: []byte("c"), ChildPageNo: 3},
		{Key: []byte("d"), ChildPageNo: 4},
	}
	right := d.SplitRightHalf()
	if len(d.Entries)+len(right) != 4 {
		t.Fatalf("split lost entries: left=%d right=%d", len(d.Entries), len(right))
	}
	if len(right) == 0 {
		t.Fatalf("split produced an empty right half")
	}
}
