package freepage

// pageSource is the subset of *page.Cache the tracker needs. Declared as
// an interface so tests can substitute a fake without a real file.
type pageSource interface {
	PageSize() int
	GetPage(pageNo uint64) ([]byte, error)
	GenerateFreePages(n int) ([]uint64, error)
}

// Record pairs a page number with the FreeDir that must be written
// there — the unit Tracker.Finalize returns for the commit to publish.
type Record struct {
	PageNo  uint64
	Version uint64
	FreeDir FreeDir
}

// Tracker hands out free page numbers during a single commit, records
// pages being retired, and at Finalize publishes everything into a
// fresh FreeDir chain. Per spec §4.4's key invariant: a page retired
// during this commit is never reallocated within the same commit — it
// only becomes reusable in a future commit, once its return is
// durably recorded in a published FreeDir page.
type Tracker struct {
	cache pageSource

	currentPageNo uint64
	current       FreeDir

	// retired accumulates every page number that became free during
	// this commit: FreeDir pages walked past in the chain, freshly
	// generated pages that did not fit the current FreeDir, and pages
	// explicitly retired by the tree/tuple/overflow code. Finalize adds
	// the current FreeDir page's own number separately.
	retired []uint64

	newVersion uint64
}

// NewTracker seeds a tracker from the FreeDir page currently referenced
// by the master (headPageNo), for a commit publishing newVersion.
func NewTracker(cache pageSource, headPageNo, newVersion uint64) (*Tracker, error) {
	buf, err := cache.GetPage(headPageNo)
	if err != nil {
		return nil, err
	}
	fd := Decode(buf)
	return &Tracker{
		cache:         cache,
		currentPageNo: headPageNo,
		current:       fd,
		newVersion:    newVersion,
	}, nil
}

// Alloc returns a page number the commit may write to, per the policy
// in spec §4.4.
func (t *Tracker) Alloc() (uint64, error) {
	for {
		if pageNo, ok := t.current.Pop(); ok {
			return pageNo, nil
		}
		if t.current.Next != 0 {
			buf, err := t.cache.GetPage(t.current.Next)
			if err != nil {
				return 0, err
			}
			t.retired = append(t.retired, t.currentPageNo)
			t.currentPageNo = t.current.Next
			t.current = Decode(buf)
			continue
		}

		newPages, err := t.cache.GenerateFreePages(16)
		if err != nil {
			return 0, err
		}
		alloc := newPages[len(newPages)-1]
		spare := newPages[:len(newPages)-1]
		pageSize := t.cache.PageSize()
		for _, p := range spare {
			if !t.current.TryAdd(p, pageSize) {
				// Current FreeDir has no room right now (only possible
				// with a very small page size); the page is still free
				// and unreferenced, so fold it into the retired set —
				// Finalize will chain it into a fresh FreeDir page.
				t.retired = append(t.retired, p)
			}
		}
		return alloc, nil
	}
}

// Retire records pageNo as free as of this commit. It must not be
// reallocated until a future commit (see Tracker's doc comment).
func (t *Tracker) Retire(pageNo uint64) {
	t.retired = append(t.retired, pageNo)
}

// Finalize allocates a fresh FreeDir chain holding every page number
// that is free as of this commit (this tracker's unconsumed leftover
// entries, plus everything retired during the commit, plus the old
// current page's own number), and returns the records to publish in
// write order. The LAST record's PageNo is the new free_page_dir_page_no
// the commit should store in the new master.
func (t *Tracker) Finalize() ([]Record, error) {
	all := make([]uint64, 0, len(t.current.Entries)+len(t.retired)+1)
	all = append(all, t.current.Entries...)
	all = append(all, t.retired...)
	all = append(all, t.currentPageNo)

	// Alloc only walks the old chain as far as it needs to satisfy
	// requests; any FreeDir pages beyond t.current still hold entries
	// this commit never consumed. The whole old chain is superseded by
	// the fresh one built below, so every remaining page's entries must
	// be folded in and the page itself retired, or both leak forever.
	for next := t.current.Next; next != 0; {
		buf, err := t.cache.GetPage(next)
		if err != nil {
			return nil, err
		}
		fd := Decode(buf)
		all = append(all, fd.Entries...)
		all = append(all, next)
		next = fd.Next
	}

	pageSize := t.cache.PageSize()
	capacity := Capacity(pageSize)
	if capacity <= 0 {
		capacity = 1
	}

	type chunk struct {
		entries []uint64
	}
	var chunks []chunk
	for len(all) > 0 {
		n := capacity
		if n > len(all) {
			n = len(all)
		}
		chunks = append(chunks, chunk{entries: all[:n]})
		all = all[n:]
	}
	if len(chunks) == 0 {
		chunks = append(chunks, chunk{})
	}

	pageNos, err := t.cache.GenerateFreePages(len(chunks))
	if err != nil {
		return nil, err
	}

	// pageNos[0] is the new head (referenced by the master going
	// forward); pageNos[i+1] is reached via pageNos[i].Next.
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		fd := FreeDir{Entries: c.entries}
		if i > 0 {
			fd.Previous = pageNos[i-1]
		}
		if i < len(chunks)-1 {
			fd.Next = pageNos[i+1]
		}
		records[i] = Record{PageNo: pageNos[i], Version: t.newVersion, FreeDir: fd}
	}

	// Write order is tail-first (mirroring the overflow chain's
	// tail-first write order in pkg/tuple): the caller writes this
	// slice in order, and the LAST element — the head — is written
	// last, once everything it references is already durable.
	out := make([]Record, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out, nil
}
