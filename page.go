// Package masstree implements the trie-of-B⁺-trees storage engine core
// described in spec.md: the page/version protocol, the lookup/insertion
// state machine with hand-over-hand verification, foster-child splits and
// root growth, next-layer creation, and the OCC read/write hook.
//
// Grounded on the teacher's storage_engine/access/indexfile_manager/bplustree
// (B+tree split/search/parent-insert shape) and storage_engine/page +
// storage_engine/bufferpool (page header / pin-count shape), generalized
// to the foster-split, multi-layer-trie, and lock-free-reader semantics
// FOEDUS's masstree requires that a plain disk B+tree does not.
package masstree

import (
	"encoding/binary"
	"sync/atomic"

	"go.uber.org/zap"

	"masstree/internal/telemetry"
)

// KeySlice is the big-endian 64-bit view of 8 consecutive key bytes that
// indexes one trie layer (spec.md §3 "Key slice").
type KeySlice uint64

// SliceOf extracts the slice and remaining-byte count for layer
// [8*layer, 8*layer+8) of key, per spec.md §3/§4.5.
func SliceOf(key []byte, layer int) (slice KeySlice, remaining int) {
	start := layer * 8
	if start >= len(key) {
		return 0, 0
	}
	remaining = len(key) - start
	var buf [8]byte
	n := remaining
	if n > 8 {
		n = 8
	}
	copy(buf[:n], key[start:start+n])
	return KeySlice(binary.BigEndian.Uint64(buf[:])), remaining
}

const (
	lowFenceSupremum  = KeySlice(0)
	highFenceInfinity = KeySlice(0) // meaningful only when IsHighFenceSupremum is false for low, or true for high
)

// PageType distinguishes the two concrete page kinds that share a header
// (spec.md §3 "Page").
type PageType uint8

const (
	PageTypeBorder PageType = iota
	PageTypeIntermediate
)

// Page is the common accessor surface both concrete page kinds implement,
// used by the cursor/descent code to handle either kind uniformly
// (spec.md §3 "Page header (common)").
type Page interface {
	header() *Header
	Type() PageType
}

// Header is the fields every page carries regardless of kind (spec.md §3,
// §6 "Page layout"). Unlike the original's on-disk byte layout, pages here
// are ordinary Go values reachable through normal pointers; allocation and
// release still go through a pagepool.Pool for NoFreePages accounting and
// NUMA-node bookkeeping.
type Header struct {
	StorageID uint32
	Layer     int
	Version   *VersionWord

	LowFence  KeySlice
	HighFence KeySlice // ignored when Version.Load().IsHighFenceSupremum()

	FosterFence KeySlice
	fosterChild atomic.Pointer[pageBox] // right sibling once HasFosterChild is set
	fosterOf    atomic.Pointer[pageBox] // back-pointer to foster parent; debugging only (spec.md §9(c))

	NumaNode   uint8
	PoolOffset uint32 // pool frame backing this page; 0 means none was acquired (e.g. a storage's initial root)
}

// bindFrame records the pool frame a page was allocated against, so
// Storage.ReleasePages can hand it back at storage drop.
func (h *Header) bindFrame(numaNode uint8, offset uint32) {
	h.NumaNode = numaNode
	h.PoolOffset = offset
}

// pageBox lets Header store a Page interface value inside an
// atomic.Pointer, since atomic.Pointer[T] needs a concrete element type.
type pageBox struct {
	page Page
}

func box(p Page) *pageBox {
	if p == nil {
		return nil
	}
	return &pageBox{page: p}
}

func (h *Header) FosterChild() Page {
	b := h.fosterChild.Load()
	if b == nil {
		return nil
	}
	return b.page
}

func (h *Header) setFosterChild(p Page) {
	h.fosterChild.Store(box(p))
}

func (h *Header) clearFosterChild() {
	h.fosterChild.Store(nil)
}

func (h *Header) FosterParent() Page {
	b := h.fosterOf.Load()
	if b == nil {
		return nil
	}
	return b.page
}

func (h *Header) setFosterParent(p Page) {
	h.fosterOf.Store(box(p))
}

func (h *Header) header() *Header { return h }

// covers reports whether slice falls within [low, high) honoring the
// high-fence-supremum flag (spec.md §3 invariant 2).
func (h *Header) covers(slice KeySlice) bool {
	v := h.Version.Load()
	if slice < h.LowFence {
		return false
	}
	if v.IsHighFenceSupremum() {
		return true
	}
	return slice < h.HighFence
}

// RootPointer is the atomic, CAS-able handle to a layer's root page
// (spec.md §4.4 grow_root, §4.7 "pointer-set entry", §3 DualPagePointer
// "swappable" flag). One lives in the Storage for layer 0; one lives
// inside each next-layer slot for deeper layers (masstree/layer.go).
type RootPointer struct {
	val       atomic.Pointer[pageBox]
	modCount  atomic.Uint32
	swappable atomic.Bool
}

func NewRootPointer(p Page) *RootPointer {
	r := &RootPointer{}
	r.val.Store(box(p))
	r.swappable.Store(true)
	return r
}

func (r *RootPointer) Load() Page {
	b := r.val.Load()
	if b == nil {
		return nil
	}
	return b.page
}

// CompareAndSwap installs newPage iff the pointer currently holds old,
// bumping mod-count on success (spec.md §4.4 step 6).
func (r *RootPointer) CompareAndSwap(old, newPage Page) bool {
	oldBox := r.val.Load()
	var oldPage Page
	if oldBox != nil {
		oldPage = oldBox.page
	}
	if oldPage != old {
		return false
	}
	if !r.val.CompareAndSwap(oldBox, box(newPage)) {
		return false
	}
	r.modCount.Add(1)
	telemetry.Logger.Debug("masstree: root pointer swapped", zap.Uint32("mod_count", r.modCount.Load()))
	return true
}

func (r *RootPointer) ModCount() uint32 { return r.modCount.Load() }
