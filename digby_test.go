package digby_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"digby"
	"digby/pkg/block"
	"digby/pkg/dberrors"
	"digby/pkg/tuple"
)

func openTest(t *testing.T, opts digby.Options) *digby.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digby.db")
	db, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenEmptyThenSinglePut(t *testing.T) {
	opts := digby.DefaultOptions()
	opts.BlockSize = 256
	db := openTest(t, opts)

	if _, ok, err := db.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get on empty db = ok=%v err=%v", ok, err)
	}

	if err := db.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := db.Get([]byte("key"))
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get = %q, want value", got)
	}
}

func TestOverflowKeyAndValueWithCompression(t *testing.T) {
	opts := digby.DefaultOptions()
	opts.BlockSize = 4096 // a 255-byte short key does not fit a 256-byte block's leaf
	opts.Compression = tuple.CompressionLZ4
	db := openTest(t, opts)

	bigKey := bytes.Repeat([]byte("k"), 400)
	bigValue := bytes.Repeat([]byte("value-repeats-well-"), 200)

	if err := db.Put(bigKey, bigValue); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := db.Get(bigKey)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, bigValue) {
		t.Fatalf("Get round trip mismatch: len(got)=%d len(want)=%d", len(got), len(bigValue))
	}
}

func TestSmallPageStressInsertAndReverseDelete(t *testing.T) {
	opts := digby.DefaultOptions()
	opts.BlockSize = 128
	db := openTest(t, opts)

	const n = 256
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		if err := db.Put(keys[i], value); err != nil {
			t.Fatalf("Put(%s): %v", keys[i], err)
		}
	}
	for i := 0; i < n; i++ {
		want := []byte(fmt.Sprintf("value-%04d", i))
		got, ok, err := db.Get(keys[i])
		if err != nil || !ok || !bytes.Equal(got, want) {
			t.Fatalf("Get(%s) = %q ok=%v err=%v, want %q", keys[i], got, ok, err, want)
		}
	}
	for i := n - 1; i >= 0; i-- {
		ok, err := db.Delete(keys[i])
		if err != nil || !ok {
			t.Fatalf("Delete(%s) = ok=%v err=%v", keys[i], ok, err)
		}
	}
	for i := 0; i < n; i++ {
		if _, ok, _ := db.Get(keys[i]); ok {
			t.Fatalf("Get(%s) still present after deleting every key", keys[i])
		}
	}
}

func TestEncryptedRoundTripAndWrongKeyRejection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digby.db")
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	opts := digby.DefaultOptions()
	opts.BlockSize = 256
	opts.Sanity = block.SanityAESGCM
	opts.Key = key

	db, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put([]byte("secret"), []byte("shh")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("reopen with correct key: %v", err)
	}
	got, ok, err := reopened.Get([]byte("secret"))
	if err != nil || !ok || !bytes.Equal(got, []byte("shh")) {
		t.Fatalf("Get after reopen = %q ok=%v err=%v", got, ok, err)
	}
	reopened.Close()

	wrongKey := make([]byte, 16)
	copy(wrongKey, key)
	wrongKey[0] ^= 0xFF
	badOpts := opts
	badOpts.Key = wrongKey
	if _, err := digby.Open(path, badOpts); err == nil {
		t.Fatalf("Open with wrong AES key should have failed")
	}
}

func TestSanityAndCompressionMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digby.db")
	opts := digby.DefaultOptions()
	opts.BlockSize = 256

	db, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	wrongSanity := opts
	wrongSanity.Sanity = block.SanityAESGCM
	wrongSanity.Key = make([]byte, 16)
	if _, err := digby.Open(path, wrongSanity); !errors.Is(err, dberrors.ErrSanityMismatch) {
		t.Fatalf("reopen with wrong sanity mode = %v, want ErrSanityMismatch", err)
	}

	wrongCompression := opts
	wrongCompression.Compression = tuple.CompressionLZ4
	if _, err := digby.Open(path, wrongCompression); !errors.Is(err, dberrors.ErrCompressionMismatch) {
		t.Fatalf("reopen with wrong compression mode = %v, want ErrCompressionMismatch", err)
	}
}

func TestTornMasterRecoveryOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digby.db")
	opts := digby.DefaultOptions()
	opts.BlockSize = 256

	db, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := db.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt the master page that was written last by flipping a byte,
	// simulating a crash mid-write of the new master slot; the other
	// (older but intact) master must still let the database open. Commits
	// alternate slots starting from master A, so after the two Puts above
	// the last one written is master B.
	f, err := block.OpenFile(path, opts.BlockSize)
	if err != nil {
		t.Fatalf("reopen raw file: %v", err)
	}
	blk, err := f.ReadBlock(2) // master B: written by the second Put
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	blk[0] ^= 0xFF
	if err := f.WriteBlock(2, blk); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close raw file: %v", err)
	}

	recovered, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open after torn master: %v", err)
	}
	defer recovered.Close()
	if v, ok, err := recovered.Get([]byte("a")); err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get(a) after recovery = %q ok=%v err=%v", v, ok, err)
	}
}

func TestTableOperations(t *testing.T) {
	opts := digby.DefaultOptions()
	opts.BlockSize = 256
	db := openTest(t, opts)

	if err := db.CreateTable("users"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := db.CreateTable("users"); err == nil {
		t.Fatalf("CreateTable of an existing table should fail")
	}

	if err := db.PutTable("users", []byte("1"), []byte("alice")); err != nil {
		t.Fatalf("PutTable: %v", err)
	}
	if err := db.PutTable("users", []byte("2"), []byte("bob")); err != nil {
		t.Fatalf("PutTable: %v", err)
	}

	got, ok, err := db.GetTable("users", []byte("1"))
	if err != nil || !ok || string(got) != "alice" {
		t.Fatalf("GetTable(users, 1) = %q ok=%v err=%v", got, ok, err)
	}

	if _, ok, err := db.GetTable("users", []byte("missing")); err != nil || ok {
		t.Fatalf("GetTable(users, missing) = ok=%v err=%v", ok, err)
	}

	if _, _, err := db.GetTable("ghosts", []byte("1")); !errors.Is(err, dberrors.ErrKeyNotFound) {
		t.Fatalf("GetTable on nonexistent table = %v, want ErrKeyNotFound", err)
	}

	// A key put into the global tree must not leak into the table's.
	if err := db.Put([]byte("1"), []byte("global-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, ok, err := db.GetTable("users", []byte("1")); err != nil || !ok || string(got) != "alice" {
		t.Fatalf("table value clobbered by global Put: %q ok=%v err=%v", got, ok, err)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	opts := digby.DefaultOptions()
	opts.BlockSize = 256
	path := filepath.Join(t.TempDir(), "digby.db")
	db, err := digby.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Close(); err == nil {
		t.Fatalf("second Close should fail")
	}
	if err := db.Put([]byte("k"), []byte("v")); err == nil {
		t.Fatalf("Put after Close should fail")
	}
}
