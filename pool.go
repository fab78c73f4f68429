package masstree

import (
	"errors"

	"masstree/pagepool"
)

// PagePool adapts a pagepool.Pool to the narrow pagePool interface the
// split/grow call sites need. Pages in this port are ordinary Go values
// rather than byte-serialized frames, so the frame itself is never touched by the core; its offset is recorded
// on the new page's Header (Header.bindFrame) purely so the page can be
// handed back to the pool later via Storage.ReleasePages.
type PagePool struct {
	Backing  pagepool.Pool
	NumaNode uint8
}

func NewPagePool(backing pagepool.Pool, numaNode uint8) *PagePool {
	return &PagePool{Backing: backing, NumaNode: numaNode}
}

// acquireFrame allocates a frame for the page about to be created,
// translating pool exhaustion into ErrNoFreePages (spec.md §4.4 step 2,
// §7). The frame is handed to the caller to bind onto the new page's
// Header rather than released here.
func (pp *PagePool) acquireFrame(numaNode uint8) (uint32, error) {
	offset, _, err := pp.Backing.Acquire(numaNode)
	if err != nil {
		if errors.Is(err, pagepool.ErrNoFreePages) {
			return 0, ErrNoFreePages
		}
		return 0, err
	}
	return offset, nil
}

// Release returns a page's frame to the backing pool. Called by
// Storage.ReleasePages at storage drop (spec.md §3 Lifecycle "Pages are
// released only on storage drop or engine shutdown").
func (pp *PagePool) Release(numaNode uint8, offset uint32) {
	pp.Backing.Release(numaNode, offset)
}
