// Package digby implements an embedded, single-file key/value store
// with durable, crash-consistent writes via copy-on-write commits over
// a paged file (spec §1). This file wires the block/page/freepage/
// tuple/leaf/directory/tree/master layers into the public API of
// §6: Open/Put/Get/Delete/CreateTable/PutTable/GetTable/Close.
// Grounded on pkg/turdb/db.go's Open/Close/per-call-locking shape
// (a single process-wide mutex serializing writers, per spec §5) with
// the SQL/VM/planner layers it wires stripped out, since digby has no
// query layer.
package digby

import (
	"fmt"
	"sync"

	"digby/pkg/block"
	"digby/pkg/dberrors"
	"digby/pkg/freepage"
	"digby/pkg/leaf"
	"digby/pkg/master"
	"digby/pkg/page"
	"digby/pkg/tree"
	"digby/pkg/tuple"
)

// DefaultBlockSize, DefaultSmallValueThreshold mirror the source's
// defaults (spec §3: "typical 4096"; "source uses 1024").
const (
	DefaultBlockSize           = 4096
	DefaultSmallValueThreshold = 1024
)

// maxTableNameLen is spec §6's "name length < 255" bound.
const maxTableNameLen = 255

// Options configures Open/creation, per spec §6's
// open(path, key_opt, compressor, block_size).
type Options struct {
	// BlockSize is the fixed block size (power of two, >= 128). Must
	// match the size the database was created with.
	BlockSize int
	// Sanity selects the block integrity envelope. Must match the mode
	// the database was created with (dberrors.ErrSanityMismatch).
	Sanity block.SanityMode
	// Key is the AES-128-GCM key; required when Sanity == block.SanityAESGCM.
	Key []byte
	// Compression selects the tuple-value compressor. Must match the
	// mode the database was created with (dberrors.ErrCompressionMismatch).
	Compression tuple.CompressionType
	// SmallValueThreshold is the in-tree value size cutoff of spec §4.5.
	SmallValueThreshold int
}

// DefaultOptions returns the source's defaults: 4096-byte blocks,
// checksum integrity, no compression, 1024-byte small-value threshold.
func DefaultOptions() Options {
	return Options{
		BlockSize:           DefaultBlockSize,
		Sanity:              block.SanityChecksum,
		Compression:         tuple.CompressionNone,
		SmallValueThreshold: DefaultSmallValueThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.SmallValueThreshold == 0 {
		o.SmallValueThreshold = DefaultSmallValueThreshold
	}
	return o
}

// leafSlotSize mirrors pkg/leaf's unexported slot-pointer width.
const leafSlotSize = 2

// maxInlineValueLen is the largest value length guaranteed to fit
// alone on an empty leaf page, assuming the worst case of a full
// 255-byte in-tree key (spec §4.5/§9: a real key capped at 255, or a
// short_key standing in for an oversized one). Clamping
// SmallValueThreshold to this bound keeps spec §4.7's invariant that a
// single tuple never exceeds page capacity — otherwise a page whose
// capacity falls below the configured threshold could accept a
// plain-inline tuple that no split can ever make fit. On pages too
// small to hold a 255-byte key with its headers the bound is 0: every
// value then goes through the overflow path, but a tuple whose in-tree
// key is long enough still does not fit, and Put reports an error.
func maxInlineValueLen(pageSize int) int {
	n := pageSize - leaf.HeaderSize - leafSlotSize - tuple.HeaderSize - tuple.ShortKeyLen
	if n < 0 {
		n = 0
	}
	return n
}

// DB is one open digby database handle. Per spec §5, scheduling is
// single-threaded cooperative per handle: mu serializes every
// Get/Put/Delete/CreateTable/PutTable/GetTable call, matching the
// source's single-writer, no-MVCC-readers model.
type DB struct {
	mu sync.Mutex

	path        string
	file        *block.File
	envelope    block.Envelope
	cache       *page.Cache
	compressor  tuple.Compressor
	opts        Options
	current     master.Master
	closed      bool
}

// Open opens (creating if necessary) the database at path, per spec §6.
func Open(path string, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	file, err := block.OpenFile(path, opts.BlockSize)
	if err != nil {
		return nil, err
	}

	if file.BlockCount() == 0 {
		envelope, err := block.NewEnvelope(opts.Sanity, opts.Key, opts.BlockSize)
		if err != nil {
			file.Close()
			return nil, err
		}
		cache := page.NewCache(file, envelope)
		if err := master.CreateEmpty(file, cache, opts.Sanity, opts.Compression); err != nil {
			file.Close()
			return nil, err
		}
	}

	envelope, err := block.NewEnvelope(opts.Sanity, opts.Key, opts.BlockSize)
	if err != nil {
		file.Close()
		return nil, err
	}
	cache := page.NewCache(file, envelope)

	if max := maxInlineValueLen(cache.PageSize()); opts.SmallValueThreshold > max {
		opts.SmallValueThreshold = max
	}

	_, current, err := master.Recover(cache, opts.Sanity, opts.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}

	compressor, err := tuple.NewCompressor(opts.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &DB{
		path:       path,
		file:       file,
		envelope:   envelope,
		cache:      cache,
		compressor: compressor,
		opts:       opts,
		current:    current,
	}, nil
}

// Path returns the filesystem path this handle was opened with.
func (db *DB) Path() string { return db.path }

// Close fdatasyncs and closes the underlying file. Per spec §6,
// subsequent calls return an error.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return fmt.Errorf("digby: database already closed")
	}
	db.closed = true
	if err := db.file.Fdatasync(); err != nil {
		db.file.Close()
		return err
	}
	return db.file.Close()
}

// newTreeProcessor builds the tuple/overflow/tree stack for one commit
// at newVersion, sharing tracker across every tree touched by that commit.
func (db *DB) newTreeProcessor(tracker *freepage.Tracker, newVersion uint64) *tree.Processor {
	overflow := tuple.NewHandler(db.cache, tracker, newVersion)
	tupleProc := tuple.NewProcessor(db.opts.SmallValueThreshold, db.compressor, overflow, newVersion)
	return tree.NewProcessor(db.cache, tracker, tupleProc, overflow, newVersion)
}

// readOnlyTreeProcessor builds a tree.Processor suitable only for Get:
// its overflow Handler is never asked to Store/DeleteChain, so a nil
// tracker is safe (Handler.Load never touches it).
func (db *DB) readOnlyTreeProcessor() *tree.Processor {
	overflow := tuple.NewHandler(db.cache, nil, 0)
	tupleProc := tuple.NewProcessor(db.opts.SmallValueThreshold, db.compressor, overflow, 0)
	return tree.NewProcessor(db.cache, nil, tupleProc, overflow, 0)
}

func (db *DB) checkOpen() error {
	if db.closed {
		return fmt.Errorf("digby: database is closed")
	}
	return nil
}

// commit performs spec §4.10's steps 1-7 around a mutation callback:
// seeds a tracker from the current master's free-dir, runs mutate to
// produce the new global-tree-root and table-dir-root page numbers,
// finalizes the tracker, and publishes the new master.
func (db *DB) commit(mutate func(tracker *freepage.Tracker, newVersion uint64) (globalRoot, tableDirRoot uint64, err error)) error {
	newVersion := db.current.Version + 1
	tracker, err := freepage.NewTracker(db.cache, db.current.FreePageDirPageNo, newVersion)
	if err != nil {
		return err
	}

	globalRoot, tableDirRoot, err := mutate(tracker, newVersion)
	if err != nil {
		return err
	}

	records, err := tracker.Finalize()
	if err != nil {
		return err
	}

	newMaster, err := master.Commit(db.file, db.cache, db.current, master.CommitInputs{
		NewVersion:           newVersion,
		GlobalTreeRootPageNo: globalRoot,
		TableDirPageNo:       tableDirRoot,
		FreeDirRecords:       records,
	})
	if err != nil {
		return err
	}
	db.current = newMaster
	return nil
}

// Put stores value under key, per spec §6.
func (db *DB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.commit(func(tracker *freepage.Tracker, newVersion uint64) (uint64, uint64, error) {
		tp := db.newTreeProcessor(tracker, newVersion)
		newRoot, err := tp.Insert(db.current.GlobalTreeRootPageNo, key, value)
		if err != nil {
			return 0, 0, err
		}
		return newRoot, db.current.TableDirPageNo, nil
	})
}

// Get retrieves the value stored under key, per spec §6.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	tp := db.readOnlyTreeProcessor()
	return tp.Get(db.current.GlobalTreeRootPageNo, key)
}

// Delete removes key, returning whether it was present, per spec §6.
func (db *DB) Delete(key []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	var deleted bool
	err := db.commit(func(tracker *freepage.Tracker, newVersion uint64) (uint64, uint64, error) {
		tp := db.newTreeProcessor(tracker, newVersion)
		newRoot, ok, err := tp.Delete(db.current.GlobalTreeRootPageNo, key)
		if err != nil {
			return 0, 0, err
		}
		deleted = ok
		return newRoot, db.current.TableDirPageNo, nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// CreateTable registers a new named table, per spec §6/SPEC_FULL.md:
// the table directory is itself a leaf-rooted B+-tree whose tuples map
// table name -> that table's own tree root page number. Fails if name
// already exists.
func (db *DB) CreateTable(name string) error {
	if len(name) >= maxTableNameLen {
		return fmt.Errorf("digby: table name too long (%d >= %d)", len(name), maxTableNameLen)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.commit(func(tracker *freepage.Tracker, newVersion uint64) (uint64, uint64, error) {
		tp := db.newTreeProcessor(tracker, newVersion)

		if _, found, err := tp.Get(db.current.TableDirPageNo, []byte(name)); err != nil {
			return 0, 0, err
		} else if found {
			return 0, 0, fmt.Errorf("digby: table %q already exists", name)
		}

		tableRootPageNo, err := tracker.Alloc()
		if err != nil {
			return 0, 0, err
		}
		emptyLeaf := leaf.New(tableRootPageNo, newVersion, db.cache.PageSize())
		buf := make([]byte, db.cache.PageSize())
		emptyLeaf.Encode(buf)
		if err := db.cache.PutPage(buf); err != nil {
			return 0, 0, err
		}

		newTableDirRoot, err := tp.Insert(db.current.TableDirPageNo, []byte(name), encodeU64(tableRootPageNo))
		if err != nil {
			return 0, 0, err
		}
		return db.current.GlobalTreeRootPageNo, newTableDirRoot, nil
	})
}

// PutTable stores value under key within the named table, per spec §6.
func (db *DB) PutTable(name string, key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.commit(func(tracker *freepage.Tracker, newVersion uint64) (uint64, uint64, error) {
		tp := db.newTreeProcessor(tracker, newVersion)

		tableRootBytes, found, err := tp.Get(db.current.TableDirPageNo, []byte(name))
		if err != nil {
			return 0, 0, err
		}
		if !found {
			return 0, 0, fmt.Errorf("digby: table %q does not exist", name)
		}
		tableRootPageNo := decodeU64(tableRootBytes)

		newTableRootPageNo, err := tp.Insert(tableRootPageNo, key, value)
		if err != nil {
			return 0, 0, err
		}

		newTableDirRoot, err := tp.Insert(db.current.TableDirPageNo, []byte(name), encodeU64(newTableRootPageNo))
		if err != nil {
			return 0, 0, err
		}
		return db.current.GlobalTreeRootPageNo, newTableDirRoot, nil
	})
}

// GetTable retrieves the value stored under key within the named
// table, per spec §6.
func (db *DB) GetTable(name string, key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	tp := db.readOnlyTreeProcessor()

	tableRootBytes, found, err := tp.Get(db.current.TableDirPageNo, []byte(name))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("%w: table %q does not exist", dberrors.ErrKeyNotFound, name)
	}
	tableRootPageNo := decodeU64(tableRootBytes)
	return tp.Get(tableRootPageNo, key)
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}

func decodeU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
