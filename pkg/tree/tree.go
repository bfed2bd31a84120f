// Package tree implements digby's B+-tree processor: stack-based
// insert/get/delete descent, leaf mutation, and directory-unwind split
// propagation and root promotion, per spec §4.9. Grounded on
// pkg/cowbtree/cowbtree.go's insertRecursive/path-copying/root-split
// shape (the copy-on-write clone-and-replace idiom) generalized from
// in-memory node pointers to on-disk page numbers drawn from a
// pkg/freepage.Tracker, and on pkg/btree/cursor.go's
// binary-search-then-recurse get path.
package tree

import (
	"errors"
	"fmt"

	"digby/pkg/dberrors"
	"digby/pkg/directory"
	"digby/pkg/freepage"
	"digby/pkg/leaf"
	"digby/pkg/page"
	"digby/pkg/tuple"
)

// routeStep records how one directory in the descent path routed to
// its child (the next directory, or the leaf): the exact key matched
// (nil if the route went via left_child) and whether it was in fact
// the left_child route. The tree processor replays this identity
// later, via directory.ReplaceChild, to publish the child's remapped
// page number without disturbing sibling routing entries.
type routeStep struct {
	key         []byte
	isLeftChild bool
}

// Processor runs insert/get/delete against one tree for one commit. Its
// page cache and free-page tracker are concrete types (not interfaces)
// since both are always real in production and tests construct real
// instances (see pkg/tuple's test style).
type Processor struct {
	cache    *page.Cache
	tracker  *freepage.Tracker
	tupleLog *tuple.Processor
	overflow *tuple.Handler
	version  uint64
}

// NewProcessor builds a tree processor for a single commit: tupleProc
// builds/resolves in-tree tuples (§4.5) and overflow handles the
// overflow-chain pipeline (§4.6); both share this commit's tracker and
// version.
func NewProcessor(cache *page.Cache, tracker *freepage.Tracker, tupleProc *tuple.Processor, overflow *tuple.Handler, version uint64) *Processor {
	return &Processor{cache: cache, tracker: tracker, tupleLog: tupleProc, overflow: overflow, version: version}
}

// routeKeyFor returns the key used for tree routing/leaf lookup: the
// short key for oversized keys, the raw key otherwise (spec §4.5/§4.9).
func routeKeyFor(key []byte) []byte {
	if tuple.IsOversized(key) {
		return tuple.ShortKey(key)
	}
	return key
}

// descend walks from rootPageNo to the leaf that would hold routeKey,
// recording every directory page visited and how it routed onward.
func (p *Processor) descend(rootPageNo uint64, routeKey []byte) (stack []uint64, steps []routeStep, leafPageNo uint64, lf *leaf.Leaf, err error) {
	pageNo := rootPageNo
	for {
		buf, gerr := p.cache.GetPage(pageNo)
		if gerr != nil {
			return nil, nil, 0, nil, gerr
		}
		h := page.DecodeHeader(buf)
		switch h.Type {
		case page.TreeLeaf:
			return stack, steps, pageNo, leaf.Decode(buf), nil
		case page.TreeDir:
			d := directory.Decode(buf)
			key, isLeftChild, next := d.Route(routeKey)
			stack = append(stack, pageNo)
			steps = append(steps, routeStep{key: key, isLeftChild: isLeftChild})
			pageNo = next
		default:
			return nil, nil, 0, nil, fmt.Errorf("%w: page %d has type %v", dberrors.ErrUnsupportedPageType, pageNo, h.Type)
		}
	}
}

// Get looks up key starting from rootPageNo, per spec §4.9. Oversized
// keys route via their short key; the resolved tuple's full key is
// verified against key before returning (a mismatch is "not found").
func (p *Processor) Get(rootPageNo uint64, key []byte) ([]byte, bool, error) {
	routeKey := routeKeyFor(key)
	_, _, _, lf, err := p.descend(rootPageNo, routeKey)
	if err != nil {
		return nil, false, err
	}
	t, ok := lf.Get(routeKey)
	if !ok {
		return nil, false, nil
	}
	value, err := p.tupleLog.Resolve(key, t)
	if errors.Is(err, dberrors.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// rootPiece is one page produced at the top of the unwind (before any
// further propagation): a page number plus the key that bounds it from
// below, used to assemble a brand new root directory when more than
// one piece survives to the top.
type rootPiece struct {
	key []byte
	pageNo uint64
}

// writeLeaf allocates a fresh page number for l, stamps it with this
// commit's version, and writes it through the page cache.
func (p *Processor) writeLeaf(l *leaf.Leaf) error {
	newPageNo, err := p.tracker.Alloc()
	if err != nil {
		return err
	}
	l.PageNo = newPageNo
	l.Version = p.version
	buf := make([]byte, l.PageSize)
	l.Encode(buf)
	return p.cache.PutPage(buf)
}

// writeDirectory allocates a fresh page number for d, stamps it with
// this commit's version, and writes it through the page cache.
func (p *Processor) writeDirectory(d *directory.Directory) error {
	newPageNo, err := p.tracker.Alloc()
	if err != nil {
		return err
	}
	d.PageNo = newPageNo
	d.Version = p.version
	buf := make([]byte, d.PageSize)
	d.Encode(buf)
	return p.cache.PutPage(buf)
}

// splitLeafChain recursively halves l (per spec §4.7's split policy)
// until every resulting leaf fits its page, writing each piece and
// returning them in ascending key order. Oversized keys/values go
// through the overflow path (§4.5), so on pages large enough for a
// 255-byte in-tree key a single tuple fits an empty leaf on its own; a
// single tuple that still does not fit is reported as an error, so the
// recursion terminates.
func (p *Processor) splitLeafChain(l *leaf.Leaf) ([]*leaf.Leaf, error) {
	if leafFits(l) {
		if err := p.writeLeaf(l); err != nil {
			return nil, err
		}
		return []*leaf.Leaf{l}, nil
	}
	if len(l.Tuples) == 1 {
		return nil, fmt.Errorf("digby: a %d-byte tuple does not fit an empty %d-byte leaf page", tuple.Size(l.Tuples[0]), l.PageSize)
	}
	right := l.SplitRightHalf()
	rightLeaf := &leaf.Leaf{PageSize: l.PageSize, Tuples: right}
	leftResults, err := p.splitLeafChain(l)
	if err != nil {
		return nil, err
	}
	rightResults, err := p.splitLeafChain(rightLeaf)
	if err != nil {
		return nil, err
	}
	return append(leftResults, rightResults...), nil
}

func leafFits(l *leaf.Leaf) bool {
	size := leaf.HeaderSize + len(l.Tuples)*2
	for _, t := range l.Tuples {
		size += tuple.Size(t)
	}
	return size <= l.PageSize
}

// dirResult is one page produced by splitDirectoryChain: key is nil
// for the first (leftover) piece — the caller fills it in with the
// identity the piece inherits from its own parent's routing, since a
// directory carries no explicit lower-bound key for itself — and is
// the split boundary key for every later piece.
type dirResult struct {
	key    []byte
	pageNo uint64
}

// splitDirectoryChain mirrors splitLeafChain for directory pages, per
// spec §4.8's split policy. An empty directory is always well under
// capacity, and a single entry (at most 8+1+255 bytes) fits an
// otherwise-empty directory on pages large enough for it; a single
// entry that still does not fit is reported as an error, so recursion
// terminates.
func (p *Processor) splitDirectoryChain(d *directory.Directory) ([]dirResult, error) {
	if directoryFits(d) {
		if err := p.writeDirectory(d); err != nil {
			return nil, err
		}
		return []dirResult{{pageNo: d.PageNo}}, nil
	}
	if len(d.Entries) <= 1 {
		return nil, fmt.Errorf("digby: a directory entry does not fit an empty %d-byte directory page", d.PageSize)
	}
	right := d.SplitRightHalf()
	boundaryKey := right[0].Key
	rightDir := &directory.Directory{PageSize: d.PageSize, LeftChild: right[0].ChildPageNo, Entries: append([]directory.Entry(nil), right[1:]...)}
	leftResults, err := p.splitDirectoryChain(d)
	if err != nil {
		return nil, err
	}
	rightResults, err := p.splitDirectoryChain(rightDir)
	if err != nil {
		return nil, err
	}
	rightResults[0].key = boundaryKey
	return append(leftResults, rightResults...), nil
}

func directoryFits(d *directory.Directory) bool {
	size := directory.HeaderSize + len(d.Entries)*2
	for _, e := range d.Entries {
		size += 8 + 1 + len(e.Key)
	}
	return size <= d.PageSize
}

// buildRoot assembles the final new tree root page number from the
// pieces that survived to the top of the unwind: if exactly one
// survived, it is the new root outright; otherwise a fresh directory
// page is created whose left_child is the first piece and whose
// entries are the rest, per spec §4.9's root-split/root-creation step.
func (p *Processor) buildRoot(pieces []rootPiece) (uint64, error) {
	if len(pieces) == 1 {
		return pieces[0].pageNo, nil
	}
	pageSize := p.cache.PageSize()
	d := directory.New(0, p.version, pageSize, pieces[0].pageNo)
	for _, piece := range pieces[1:] {
		d.Entries = append(d.Entries, directory.Entry{Key: piece.key, ChildPageNo: piece.pageNo})
	}
	if err := p.writeDirectory(d); err != nil {
		return 0, err
	}
	return d.PageNo, nil
}

// Insert builds an in-tree tuple for (key, value) (externalizing it via
// the overflow pipeline if needed), stores it into the tree rooted at
// rootPageNo, and returns the new tree root page number, per spec §4.9.
func (p *Processor) Insert(rootPageNo uint64, key, value []byte) (uint64, error) {
	t, err := p.tupleLog.Build(key, value)
	if err != nil {
		return 0, err
	}
	routeKey := t.Key

	stack, steps, leafPageNo, lf, err := p.descend(rootPageNo, routeKey)
	if err != nil {
		return 0, err
	}

	evicted, hadEvicted := lf.Store(t)
	if hadEvicted {
		if err := p.overflow.DeleteChain(evicted); err != nil {
			return 0, err
		}
	}
	p.tracker.Retire(leafPageNo)

	leaves, err := p.splitLeafChain(lf)
	if err != nil {
		return 0, err
	}

	selfChild := leaves[0].PageNo
	var newEntries []directory.Entry
	for _, l := range leaves[1:] {
		newEntries = append(newEntries, directory.Entry{Key: l.FirstKey(), ChildPageNo: l.PageNo})
	}

	for i := len(stack) - 1; i >= 0; i-- {
		buf, err := p.cache.GetPage(stack[i])
		if err != nil {
			return 0, err
		}
		d := directory.Decode(buf)
		step := steps[i]
		d.ReplaceChild(step.key, step.isLeftChild, selfChild)
		if step.isLeftChild && len(d.Entries) > 0 && len(newEntries) > 0 {
			// The split pieces of a left_child sort below the first
			// entry; lead the batch with selfChild so AddEntries keeps it
			// as left_child and inserts the pieces as ordinary entries.
			newEntries = append([]directory.Entry{{ChildPageNo: selfChild}}, newEntries...)
		}
		d.AddEntries(newEntries)
		p.tracker.Retire(stack[i])

		results, err := p.splitDirectoryChain(d)
		if err != nil {
			return 0, err
		}
		selfChild = results[0].pageNo
		newEntries = nil
		for _, r := range results[1:] {
			newEntries = append(newEntries, directory.Entry{Key: r.key, ChildPageNo: r.pageNo})
		}
	}

	pieces := []rootPiece{{pageNo: selfChild}}
	for _, e := range newEntries {
		pieces = append(pieces, rootPiece{key: e.Key, pageNo: e.ChildPageNo})
	}
	return p.buildRoot(pieces)
}

// Delete removes key from the tree rooted at rootPageNo, per spec
// §4.9. Returns the new tree root page number and whether key was
// present. If deletion empties the tree entirely, the new root is a
// fresh empty leaf.
func (p *Processor) Delete(rootPageNo uint64, key []byte) (uint64, bool, error) {
	routeKey := routeKeyFor(key)
	stack, steps, leafPageNo, lf, err := p.descend(rootPageNo, routeKey)
	if err != nil {
		return 0, false, err
	}

	t, found := lf.Delete(routeKey)
	if !found {
		return rootPageNo, false, nil
	}
	if err := p.overflow.DeleteChain(t); err != nil {
		return 0, false, err
	}
	p.tracker.Retire(leafPageNo)

	var selfChild *uint64
	if !lf.Empty() {
		if err := p.writeLeaf(lf); err != nil {
			return 0, false, err
		}
		pn := lf.PageNo
		selfChild = &pn
	}

	for i := len(stack) - 1; i >= 0; i-- {
		buf, err := p.cache.GetPage(stack[i])
		if err != nil {
			return 0, false, err
		}
		d := directory.Decode(buf)

		if selfChild == nil {
			// The child below (leaf or directory) vanished entirely;
			// remove its routing entry. Matching is by the old child
			// page number, which this directory still carries
			// unmodified at this point in the unwind.
			var oldChild uint64
			if i+1 < len(stack) {
				oldChild = stack[i+1]
			} else {
				oldChild = leafPageNo
			}
			d.RemoveKeyPage(oldChild)
			p.tracker.Retire(stack[i])
			if d.Empty() {
				continue // propagate deletion further up
			}
			if err := p.writeDirectory(d); err != nil {
				return 0, false, err
			}
			pn := d.PageNo
			selfChild = &pn
			continue
		}

		step := steps[i]
		d.ReplaceChild(step.key, step.isLeftChild, *selfChild)
		p.tracker.Retire(stack[i])
		if err := p.writeDirectory(d); err != nil {
			return 0, false, err
		}
		pn := d.PageNo
		selfChild = &pn
	}

	if selfChild == nil {
		newLeafPageNo, err := p.tracker.Alloc()
		if err != nil {
			return 0, false, err
		}
		empty := leaf.New(newLeafPageNo, p.version, p.cache.PageSize())
		buf := make([]byte, empty.PageSize)
		empty.Encode(buf)
		if err := p.cache.PutPage(buf); err != nil {
			return 0, false, err
		}
		return newLeafPageNo, true, nil
	}
	return *selfChild, true, nil
}
